package autopost

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePostsSplitsOnBlankLines(t *testing.T) {
	raw := "first post\nstill first\n\nsecond post\n\n\n\nthird"
	posts := ParsePosts(raw)
	require.Len(t, posts, 3)
	assert.Equal(t, "first post\nstill first", posts[0])
	assert.Equal(t, "second post", posts[1])
	assert.Equal(t, "third", posts[2])
}

func TestParsePostsHandlesWindowsLineEndings(t *testing.T) {
	posts := ParsePosts("one\r\n\r\ntwo")
	require.Len(t, posts, 2)
	assert.Equal(t, "one", posts[0])
}

func TestParsePostsDropsEmpties(t *testing.T) {
	assert.Empty(t, ParsePosts(""))
	assert.Empty(t, ParsePosts("\n\n  \n\n"))
	assert.Len(t, ParsePosts("\n\nonly one\n\n"), 1)
}

func TestValidatePostsFlagsOversized(t *testing.T) {
	posts := []string{
		"fine",
		strings.Repeat("x", 501),
		strings.Repeat("y", 500),
	}
	issues := ValidatePosts(posts, 500)
	require.Len(t, issues, 1)
	assert.Equal(t, 1, issues[0].Index)
	assert.Equal(t, 501, issues[0].Length)
	assert.Contains(t, issues[0].Error(), "post 2")
}

func TestValidatePostsIgnoresMediaTags(t *testing.T) {
	post := strings.Repeat("z", 495) + " [[media:random:3]]"
	issues := ValidatePosts([]string{post}, 500)
	assert.Empty(t, issues, "tags are stripped before publishing")
}

func TestValidatePostsCountsRunes(t *testing.T) {
	post := strings.Repeat("ü", 501)
	issues := ValidatePosts([]string{post}, 500)
	require.Len(t, issues, 1)
	assert.Equal(t, 501, issues[0].Length)
}
