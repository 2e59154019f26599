package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestFullNotifier_EmitToUser_SubscriberReceivesEvent(t *testing.T) {
	rdb := newTestRedis(t)
	full := NewFull(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe, err := full.Subscribe(ctx, domain.UserRoom("u1"))
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, full.EmitToUser(ctx, "u1", domain.EventMessageStarted, map[string]any{"conversation_id": "c1"}))

	select {
	case evt := <-events:
		require.Equal(t, domain.EventMessageStarted, evt.Name)
		require.Equal(t, "c1", evt.Payload["conversation_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWriterOnlyNotifier_EmitNeverErrors(t *testing.T) {
	rdb := newTestRedis(t)
	n := NewWriterOnly(rdb)
	require.NoError(t, n.EmitToRoom(context.Background(), domain.UserRoom("u1"), domain.EventSyncStarted, map[string]any{"connection_id": "conn1"}))
	require.NoError(t, n.Broadcast(context.Background(), domain.EventSyncCompleted, map[string]any{}))
}

func TestRedisNotifier_PublishFailureIsSwallowed(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	n := NewWriterOnly(rdb)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := n.EmitToUser(ctx, "u1", domain.EventMessageFailed, map[string]any{"error": "boom"})
	require.NoError(t, err)
}
