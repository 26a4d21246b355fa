package autopost

import (
	"fmt"
	"regexp"
	"strings"

	"ambler/internal/media"
)

// Posts in the queue text are separated by one or more blank lines.
var postSeparator = regexp.MustCompile(`\n{2,}`)

// ParsePosts splits the raw queue text into individual posts, trimming
// whitespace and dropping empty entries.
func ParsePosts(raw string) []string {
	parts := postSeparator.Split(strings.ReplaceAll(raw, "\r\n", "\n"), -1)
	posts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			posts = append(posts, p)
		}
	}
	return posts
}

// Issue describes one post that would be rejected by the platform.
type Issue struct {
	Index  int
	Length int
	Limit  int
}

func (i Issue) Error() string {
	return fmt.Sprintf("post %d is %d characters (limit %d)", i.Index+1, i.Length, i.Limit)
}

// ValidatePosts checks every queued post against the platform character cap.
// Media tags do not count toward the limit because they are stripped before
// publishing.
func ValidatePosts(posts []string, limit int) []Issue {
	var issues []Issue
	for i, p := range posts {
		n := len([]rune(media.StripTags(p)))
		if n > limit {
			issues = append(issues, Issue{Index: i, Length: n, Limit: limit})
		}
	}
	return issues
}
