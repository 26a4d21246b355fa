package media

import (
	"context"
	"math/rand"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"ambler/internal/types"
)

var mediaExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".mp4": true, ".mov": true,
}

// Library is the attachment collection backed by a directory. Watch keeps it
// current as files come and go.
type Library struct {
	dir string
	log *zap.Logger
	rng *rand.Rand

	mu    sync.RWMutex
	files []types.MediaFile
}

// NewLibrary scans dir and returns the library. A missing directory yields an
// empty library, not an error; posting without media is normal.
func NewLibrary(dir string, log *zap.Logger, rng *rand.Rand) *Library {
	l := &Library{dir: dir, log: log, rng: rng}
	l.rescan()
	return l
}

func (l *Library) rescan() {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		l.mu.Lock()
		l.files = nil
		l.mu.Unlock()
		return
	}

	var files []types.MediaFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !mediaExts[ext] {
			continue
		}
		files = append(files, types.MediaFile{
			Name: e.Name(),
			Path: filepath.Join(l.dir, e.Name()),
			MIME: mime.TypeByExtension(ext),
		})
	}

	l.mu.Lock()
	l.files = files
	l.mu.Unlock()
	l.log.Debug("media library scanned", zap.Int("files", len(files)))
}

// Watch rescans on directory changes until ctx ends.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				l.rescan()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.log.Warn("media watch error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Len returns the number of known files.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.files)
}

// Resolve expands one parsed tag to concrete files.
func (l *Library) Resolve(tag Tag) []types.MediaFile {
	l.mu.RLock()
	all := make([]types.MediaFile, len(l.files))
	copy(all, l.files)
	l.mu.RUnlock()

	switch tag.Kind {
	case TagRandom:
		l.rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		n := tag.Count
		if n > len(all) {
			n = len(all)
		}
		return all[:n]

	case TagSpecific:
		var out []types.MediaFile
		for _, name := range tag.Items {
			for _, f := range all {
				if f.Name == name || strings.HasPrefix(f.Name, name+".") {
					out = append(out, f)
					break
				}
			}
		}
		return out

	case TagRange:
		var out []types.MediaFile
		for _, r := range tag.Ranges {
			var candidates []types.MediaFile
			for _, f := range all {
				base := strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
				n, err := strconv.Atoi(base)
				if err != nil {
					continue
				}
				if n >= r.From && n <= r.To {
					candidates = append(candidates, f)
				}
			}
			if len(candidates) > 0 {
				out = append(out, candidates[l.rng.Intn(len(candidates))])
			}
		}
		for _, name := range tag.Items {
			for _, f := range all {
				if f.Name == name || strings.HasPrefix(f.Name, name+".") {
					out = append(out, f)
					break
				}
			}
		}
		return out
	}
	return nil
}

// ResolveText expands every media tag in post text, returning the cleaned
// text and the collected attachments. Malformed tags are dropped with a
// warning rather than blocking the post.
func (l *Library) ResolveText(text string) (string, []types.MediaFile) {
	tags := TagPattern.FindAllString(text, -1)
	if len(tags) == 0 {
		return text, nil
	}

	var media []types.MediaFile
	for _, raw := range tags {
		tag, err := ParseTag(raw)
		if err != nil {
			l.log.Warn("skipping malformed media tag", zap.String("tag", raw), zap.Error(err))
			continue
		}
		media = append(media, l.Resolve(tag)...)
	}
	return StripTags(text), media
}

// MaybeRandom applies the auto-attach chance: when it hits, one random file
// is returned.
func (l *Library) MaybeRandom(enabled bool, chancePercent int) []types.MediaFile {
	if !enabled || l.Len() == 0 {
		return nil
	}
	if l.rng.Intn(100) >= chancePercent {
		return nil
	}
	return l.Resolve(Tag{Kind: TagRandom, Count: 1})
}
