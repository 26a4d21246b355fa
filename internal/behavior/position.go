package behavior

import (
	"regexp"

	"ambler/internal/types"
)

// positionPatterns map URL shapes to positions. Anything unmatched is the
// timeline.
var positionPatterns = []struct {
	position types.Position
	patterns []*regexp.Regexp
}{
	{types.PositionTweet, []*regexp.Regexp{
		regexp.MustCompile(`/@[^/]+/post/[A-Za-z0-9_-]+`),
		regexp.MustCompile(`/post/[A-Za-z0-9]+$`),
	}},
	{types.PositionProfile, []*regexp.Regexp{
		regexp.MustCompile(`/@[^/]+$`),
	}},
	{types.PositionNotifications, []*regexp.Regexp{
		regexp.MustCompile(`/notifications`),
		regexp.MustCompile(`/activity`),
	}},
	{types.PositionDM, []*regexp.Regexp{
		regexp.MustCompile(`/direct`),
		regexp.MustCompile(`/messages`),
	}},
}

// DetectPosition derives the simulated position from a live tab URL.
func DetectPosition(url string) types.Position {
	for _, group := range positionPatterns {
		for _, re := range group.patterns {
			if re.MatchString(url) {
				return group.position
			}
		}
	}
	return types.PositionTimeline
}
