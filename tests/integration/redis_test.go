//go:build integration

// Package integration runs the Redis-backed components against a real
// Redis started with testcontainers.
package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/mbourmaud/conductor/internal/activity"
	"github.com/mbourmaud/conductor/internal/logger"
	"github.com/mbourmaud/conductor/internal/mailbox"
)

// setupRedis starts a Redis container and returns a connected client.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "starting redis container")

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

func TestRedisMailbox_Lifecycle(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	var (
		mu     sync.Mutex
		events []mailbox.EventType
	)
	router := mailbox.NewRouter(mailbox.NewRedisStore(rdb, ""), func(ev mailbox.Event) {
		mu.Lock()
		events = append(events, ev.Type)
		mu.Unlock()
	})
	defer router.Close()

	first, err := router.Send(ctx, mailbox.SendRequest{From: "backend-dev", To: "qa", Subject: "API ready", Body: "GET /users is live"})
	require.NoError(t, err)
	_, err = router.Send(ctx, mailbox.SendRequest{From: mailbox.User, To: "qa", Subject: "Priorities", Body: "Auth first"})
	require.NoError(t, err)

	inbox, err := router.Inbox(ctx, "qa", mailbox.Filter{})
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, first.ID, inbox[0].ID, "inbox is oldest first")

	unread, err := router.UnreadCount(ctx, "qa")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	read, err := router.Read(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, read.Read)
	assert.Equal(t, "GET /users is live", read.Body)

	unread, err = router.UnreadCount(ctx, "qa")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	require.NoError(t, router.Archive(ctx, first.ID))
	inbox, err = router.Inbox(ctx, "qa", mailbox.Filter{})
	require.NoError(t, err)
	assert.Len(t, inbox, 1)

	inbox, err = router.Inbox(ctx, "qa", mailbox.Filter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, inbox, 2)

	sent, err := router.Sent(ctx, "backend-dev")
	require.NoError(t, err)
	require.Len(t, sent, 1)

	require.NoError(t, router.Delete(ctx, first.ID))
	_, err = router.Get(ctx, first.ID)
	assert.ErrorIs(t, err, mailbox.ErrNotFound)

	sent, err = router.Sent(ctx, "backend-dev")
	require.NoError(t, err)
	assert.Empty(t, sent)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 5
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []mailbox.EventType{
		mailbox.EventReceived, mailbox.EventReceived, mailbox.EventRead, mailbox.EventArchived, mailbox.EventDeleted,
	}, events)
	mu.Unlock()
}

func TestRedisMailbox_SharedAcrossRouters(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	a := mailbox.NewRouter(mailbox.NewRedisStore(rdb, "hub-a:"), nil)
	b := mailbox.NewRouter(mailbox.NewRedisStore(rdb, "hub-a:"), nil)
	other := mailbox.NewRouter(mailbox.NewRedisStore(rdb, "hub-b:"), nil)
	defer a.Close()
	defer b.Close()
	defer other.Close()

	msg, err := a.Send(ctx, mailbox.SendRequest{From: mailbox.Orchestrator, To: "qa", Subject: "Start"})
	require.NoError(t, err)

	got, err := b.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "Start", got.Subject)

	inbox, err := other.Inbox(ctx, "qa", mailbox.Filter{})
	require.NoError(t, err)
	assert.Empty(t, inbox, "prefixes isolate hubs")
}

func TestActivity_RecordTailFollow(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	rec := activity.NewRecorder(rdb, 100, logger.Nop())
	reader := activity.NewReader(rdb)

	for i, ev := range []activity.Entry{
		{Agent: "backend-dev", Event: activity.EventSpawned, Content: "initializing"},
		{Agent: "qa", Event: activity.EventWaiting, Content: "waiting"},
		{Agent: "backend-dev", Event: activity.EventText, Content: "Reading the schema"},
	} {
		require.NoError(t, rec.Record(ctx, ev), "entry %d", i)
	}

	dev, err := reader.Tail(ctx, "backend-dev", 10)
	require.NoError(t, err)
	require.Len(t, dev, 2)
	assert.Equal(t, activity.EventSpawned, dev[0].Event)
	assert.Equal(t, "Reading the schema", dev[1].Content)
	assert.False(t, dev[0].Timestamp.IsZero())

	all, err := reader.Tail(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "qa", all[0].Agent)

	followCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	got := make(chan activity.Entry, 1)
	done := make(chan error, 1)
	go func() {
		done <- reader.Follow(followCtx, "qa", dev[1].ID, 200*time.Millisecond, func(e activity.Entry) error {
			if e.Event == activity.EventDestroyed {
				got <- e
				cancel()
			}
			return nil
		})
	}()

	require.NoError(t, rec.Record(ctx, activity.Entry{Agent: "qa", Event: activity.EventDestroyed}))

	select {
	case e := <-got:
		assert.Equal(t, "qa", e.Agent)
	case <-time.After(10 * time.Second):
		t.Fatal("follow did not deliver the entry")
	}
	assert.NoError(t, <-done)
}
