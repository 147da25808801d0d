package redisbus_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/oxy-hq/oxy-engine/event"
	"github.com/oxy-hq/oxy-engine/event/redisbus"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestPublisher_HandleEventWritesToStream(t *testing.T) {
	rdb := newTestClient(t)
	pub := redisbus.NewPublisher(rdb, "run:123")

	ev := event.Event{Source: event.Source{ID: "task1"}, Kind: event.Kind{Tag: event.TaskStarted, Name: "build report"}}
	require.NoError(t, pub.HandleEvent(ev))

	length, err := rdb.XLen(context.Background(), "run:123").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, length)
}

func TestSubscriber_ReadSinceReturnsPublishedEvents(t *testing.T) {
	rdb := newTestClient(t)
	pub := redisbus.NewPublisher(rdb, "run:123")
	sub := redisbus.NewSubscriber(rdb, "run:123")

	require.NoError(t, pub.HandleEvent(event.Event{Source: event.Source{ID: "task1"}, Kind: event.Kind{Tag: event.TaskStarted, Name: "a"}}))
	require.NoError(t, pub.HandleEvent(event.Event{Source: event.Source{ID: "task1"}, Kind: event.Kind{Tag: event.TaskFinished}}))

	events, lastID, err := sub.ReadSince(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, event.TaskStarted, events[0].Kind.Tag)
	require.Equal(t, event.TaskFinished, events[1].Kind.Tag)
	require.NotEmpty(t, lastID)

	// A second read from lastID should see nothing new.
	more, _, err := sub.ReadSince(context.Background(), lastID)
	require.NoError(t, err)
	require.Empty(t, more)
}

func TestPublisher_RespectsMaxLen(t *testing.T) {
	rdb := newTestClient(t)
	pub := redisbus.NewPublisher(rdb, "run:123")
	pub.MaxLen = 2

	for i := 0; i < 5; i++ {
		require.NoError(t, pub.HandleEvent(event.Event{Source: event.Source{ID: "task1"}, Kind: event.Kind{Tag: event.TaskStarted}}))
	}

	length, err := rdb.XLen(context.Background(), "run:123").Result()
	require.NoError(t, err)
	require.LessOrEqual(t, length, int64(5))
}
