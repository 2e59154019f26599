package wsbridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetsight/analytics-backend/internal/notifier"
)

type fakeSubscriber struct {
	events chan notifier.Event
	err    error
}

func (f *fakeSubscriber) Subscribe(context.Context, string) (<-chan notifier.Event, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.events, func() {}, nil
}

type fakeTransport struct {
	mu     sync.Mutex
	emits  []string
	failOn string
}

func (f *fakeTransport) Emit(event string, _ map[string]any, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event == f.failOn {
		return errors.New("transport down")
	}
	f.emits = append(f.emits, event)
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emits)
}

func TestBridge_Forward_ForwardsEventsUntilChannelCloses(t *testing.T) {
	events := make(chan notifier.Event, 2)
	events <- notifier.Event{Name: "sync_started", Payload: map[string]any{"a": 1}}
	events <- notifier.Event{Name: "sync_completed", Payload: map[string]any{"a": 2}}
	close(events)

	transport := &fakeTransport{}
	bridge := New(&fakeSubscriber{events: events}, transport)

	err := bridge.Forward(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, 2, transport.count())
}

func TestBridge_Forward_ContextCancelled_ReturnsErr(t *testing.T) {
	events := make(chan notifier.Event)
	transport := &fakeTransport{}
	bridge := New(&fakeSubscriber{events: events}, transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bridge.Forward(ctx, "room-1")
	require.Error(t, err)
}

func TestBridge_Forward_SubscribeError_Propagates(t *testing.T) {
	bridge := New(&fakeSubscriber{err: errors.New("redis down")}, &fakeTransport{})
	err := bridge.Forward(context.Background(), "room-1")
	require.Error(t, err)
}

func TestBridge_Forward_TransportErrorDoesNotStopForwarding(t *testing.T) {
	events := make(chan notifier.Event, 2)
	events <- notifier.Event{Name: "bad_event"}
	events <- notifier.Event{Name: "good_event"}
	close(events)

	transport := &fakeTransport{failOn: "bad_event"}
	bridge := New(&fakeSubscriber{events: events}, transport)

	err := bridge.Forward(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return transport.count() == 1 }, time.Second, 10*time.Millisecond)
}
