package media

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseTagForms(t *testing.T) {
	cases := []struct {
		raw  string
		want Tag
	}{
		{"[[media:random]]", Tag{Kind: TagRandom, Count: 1}},
		{"[[media:random:3]]", Tag{Kind: TagRandom, Count: 3}},
		{"[[media:sunset]]", Tag{Kind: TagSpecific, Items: []string{"sunset"}}},
		{"[[media:sunset,beach.jpg]]", Tag{Kind: TagSpecific, Items: []string{"sunset", "beach.jpg"}}},
		{"[[media:1-10]]", Tag{Kind: TagRange, Ranges: []NumRange{{1, 10}}}},
		{"[[media:1-5,20-30]]", Tag{Kind: TagRange, Ranges: []NumRange{{1, 5}, {20, 30}}}},
		{"[[media:1-5,cover]]", Tag{Kind: TagRange, Ranges: []NumRange{{1, 5}}, Items: []string{"cover"}}},
	}
	for _, tc := range cases {
		got, err := ParseTag(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseTagErrors(t *testing.T) {
	for _, raw := range []string{
		"[[media:]]",
		"[[media:10-1]]",
		"[[media:a-b]]",
		"[[media: , ]]",
	} {
		_, err := ParseTag(raw)
		assert.Error(t, err, raw)
	}
}

func TestStripTags(t *testing.T) {
	in := "morning thoughts [[media:random:2]] and more [[media:sunset]]"
	assert.Equal(t, "morning thoughts  and more", StripTags(in))
	assert.Equal(t, "plain text", StripTags("plain text"))
}

func seedLibrary(t *testing.T, names ...string) *Library {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	return NewLibrary(dir, zap.NewNop(), rand.New(rand.NewSource(1)))
}

func TestLibraryScanFiltersByExtension(t *testing.T) {
	l := seedLibrary(t, "a.jpg", "b.png", "notes.txt", "clip.mp4")
	assert.Equal(t, 3, l.Len())
}

func TestLibraryMissingDirIsEmpty(t *testing.T) {
	l := NewLibrary(filepath.Join(t.TempDir(), "absent"), zap.NewNop(), rand.New(rand.NewSource(1)))
	assert.Zero(t, l.Len())
	assert.Empty(t, l.Resolve(Tag{Kind: TagRandom, Count: 2}))
}

func TestResolveRandomCapsAtLibrarySize(t *testing.T) {
	l := seedLibrary(t, "a.jpg", "b.jpg")
	got := l.Resolve(Tag{Kind: TagRandom, Count: 5})
	assert.Len(t, got, 2)
}

func TestResolveSpecificMatchesNameWithOrWithoutExtension(t *testing.T) {
	l := seedLibrary(t, "sunset.jpg", "beach.png")

	got := l.Resolve(Tag{Kind: TagSpecific, Items: []string{"sunset", "beach.png", "missing"}})
	require.Len(t, got, 2)
	assert.Equal(t, "sunset.jpg", got[0].Name)
	assert.Equal(t, "beach.png", got[1].Name)
}

func TestResolveRangePicksOnePerSpan(t *testing.T) {
	l := seedLibrary(t, "1.jpg", "2.jpg", "3.jpg", "20.jpg", "cover.png")

	got := l.Resolve(Tag{Kind: TagRange, Ranges: []NumRange{{1, 3}, {20, 25}, {90, 99}}})
	require.Len(t, got, 2, "empty spans contribute nothing")
	assert.Equal(t, "20.jpg", got[1].Name)
}

func TestResolveTextCollectsAndCleans(t *testing.T) {
	l := seedLibrary(t, "sunset.jpg")

	text, media := l.ResolveText("golden hour [[media:sunset]] tonight")
	assert.Equal(t, "golden hour  tonight", text)
	require.Len(t, media, 1)
	assert.Equal(t, "sunset.jpg", media[0].Name)
}

func TestResolveTextSkipsMalformedTags(t *testing.T) {
	l := seedLibrary(t, "sunset.jpg")

	text, media := l.ResolveText("oops [[media:9-1]] but [[media:sunset]]")
	assert.NotContains(t, text, "[[media")
	assert.Len(t, media, 1)
}

func TestMaybeRandom(t *testing.T) {
	l := seedLibrary(t, "a.jpg")

	assert.Empty(t, l.MaybeRandom(false, 100), "disabled never attaches")
	assert.Empty(t, l.MaybeRandom(true, 0), "zero chance never attaches")
	assert.Len(t, l.MaybeRandom(true, 100), 1, "certain chance always attaches")
}
