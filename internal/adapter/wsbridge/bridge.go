// Package wsbridge forwards notifier events to a WebSocket transport. The
// transport's own connection management (accepting sockets, tracking which
// client is in which room) is out of scope here — this package only drains
// the notifier's per-room subscription and calls the transport's Emit for
// each event; fanning it out to actual sockets is the transport's job.
package wsbridge

import (
	"context"
	"log/slog"

	"github.com/sheetsight/analytics-backend/internal/notifier"
)

// Transport is the minimal capability a WebSocket layer must expose for the
// bridge to forward events into it.
type Transport interface {
	Emit(event string, payload map[string]any, room string) error
}

// subscriber is the narrow slice of *notifier.FullNotifier the bridge needs.
type subscriber interface {
	Subscribe(ctx context.Context, room string) (<-chan notifier.Event, func(), error)
}

// Bridge drains one room's notifier subscription and forwards every event
// to a Transport.
type Bridge struct {
	sub       subscriber
	transport Transport
}

// New builds a Bridge around a subscribable notifier and a transport sink.
func New(sub subscriber, transport Transport) *Bridge {
	return &Bridge{sub: sub, transport: transport}
}

// Forward subscribes to room and forwards events until ctx is cancelled or
// the subscription channel closes. It returns ctx.Err() on cancellation and
// nil when the subscription ends normally.
func (b *Bridge) Forward(ctx context.Context, room string) error {
	events, unsubscribe, err := b.sub.Subscribe(ctx, room)
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := b.transport.Emit(evt.Name, evt.Payload, room); err != nil {
				slog.Warn("wsbridge: transport emit failed",
					slog.String("room", room), slog.String("event", evt.Name), slog.Any("error", err))
			}
		}
	}
}
