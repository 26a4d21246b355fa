package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesPattern(t *testing.T) {
	cases := []struct {
		url     string
		pattern string
		want    bool
	}{
		{"https://www.threads.net/", "https://www.threads.net/*", true},
		{"https://www.threads.net/@jane/post/C2", "https://www.threads.net/*", true},
		{"https://www.threads.com/", "https://www.threads.net/*", false},
		{"https://example.com/", "https://example.com/", true},
		{"https://example.com/x", "https://example.com/", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchesPattern(tc.url, tc.pattern), "%s vs %s", tc.url, tc.pattern)
	}
}
