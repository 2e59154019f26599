// Package notifier implements the single cross-process notification
// capability over Redis pub/sub: one wire format, two construction modes
// depending on whether the owning process ever needs to read its own
// publishes back (request-handling processes do, for the websocket bridge;
// workers only ever write).
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

// Event is the wire envelope published on a room's Redis channel.
type Event struct {
	Name    string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// redisNotifier implements domain.Notifier. Emit failures are logged and
// swallowed: they must never propagate into the business logic that
// triggered them.
type redisNotifier struct {
	rdb *redis.Client
}

// NewWriterOnly builds a publish-only domain.Notifier for worker processes,
// which never need to read their own events back.
func NewWriterOnly(rdb *redis.Client) domain.Notifier {
	return &redisNotifier{rdb: rdb}
}

func (n *redisNotifier) EmitToUser(ctx domain.Context, userID, event string, payload map[string]any) error {
	return n.EmitToRoom(ctx, domain.UserRoom(userID), event, payload)
}

func (n *redisNotifier) EmitToRoom(ctx domain.Context, room, event string, payload map[string]any) error {
	return n.publish(ctx, room, event, payload)
}

func (n *redisNotifier) Broadcast(ctx domain.Context, event string, payload map[string]any) error {
	return n.publish(ctx, broadcastChannel, event, payload)
}

const broadcastChannel = "broadcast"

func (n *redisNotifier) publish(ctx domain.Context, channel, event string, payload map[string]any) error {
	body, err := json.Marshal(Event{Name: event, Payload: payload})
	if err != nil {
		slog.Warn("notifier: encode failed", slog.String("event", event), slog.Any("error", err))
		return nil
	}
	if err := n.rdb.Publish(ctx, channel, body).Err(); err != nil {
		slog.Warn("notifier: publish failed", slog.String("channel", channel), slog.String("event", event), slog.Any("error", err))
		return nil
	}
	return nil
}

// FullNotifier is the request-handling-process variant: it satisfies
// domain.Notifier and additionally exposes Subscribe, which the websocket
// bridge uses to fan events on a room out to connected clients.
type FullNotifier struct {
	redisNotifier
}

// NewFull builds a Notifier that can both publish and subscribe.
func NewFull(rdb *redis.Client) *FullNotifier {
	return &FullNotifier{redisNotifier: redisNotifier{rdb: rdb}}
}

// Subscribe returns a channel of decoded Events published to room, and an
// unsubscribe function. The channel is closed when the subscription ends.
func (n *FullNotifier) Subscribe(ctx context.Context, room string) (<-chan Event, func(), error) {
	sub := n.rdb.Subscribe(ctx, room)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("op=notifier.Subscribe: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				slog.Warn("notifier: malformed event payload", slog.Any("error", err))
				continue
			}
			out <- evt
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}
