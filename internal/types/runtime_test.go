package types

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountersResetDailyPreservesLifetime(t *testing.T) {
	c := Counters{
		PostsToday:           4,
		TotalPostsLifetime:   123,
		LikesToday:           9,
		ScrollsToday:         40,
		ActivityTimeTodaySec: 600,
	}
	c.ResetDaily()

	assert.Equal(t, 123, c.TotalPostsLifetime)
	assert.Zero(t, c.PostsToday)
	assert.Zero(t, c.LikesToday)
	assert.Zero(t, c.ScrollsToday)
	assert.Zero(t, c.ActivityTimeTodaySec)
}

func TestAppendFeedBounded(t *testing.T) {
	var r RuntimeState
	for i := 0; i < MaxFeedEntries+20; i++ {
		r.AppendFeed(FeedEntry{TS: time.Now(), Code: fmt.Sprintf("E%d", i)})
	}
	assert.Len(t, r.LastErrors, MaxFeedEntries)
	// Oldest entries are dropped, newest kept.
	assert.Equal(t, fmt.Sprintf("E%d", MaxFeedEntries+19), r.LastErrors[len(r.LastErrors)-1].Code)
	assert.Equal(t, "E20", r.LastErrors[0].Code)
}

func TestActionTypeIsLocal(t *testing.T) {
	assert.True(t, ActionDwell.IsLocal())
	assert.True(t, ActionIdle.IsLocal())
	assert.False(t, ActionScrollTimeline.IsLocal())
	assert.False(t, ActionTypeAndPost.IsLocal())
}
