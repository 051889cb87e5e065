package eventbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/inkwell/pkg/channels/gochannel"
	"github.com/dukex/inkwell/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan *events.ExecutionCompleted, 1)

	require.NoError(t, bus.Handle(events.ExecutionCompletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ExecutionCompleted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	published := events.ExecutionCompleted{
		BaseEvent:    events.NewBaseEvent(events.ExecutionCompletedEvent, "exec-1"),
		TokensUsed:   1200,
		CostEstimate: 0.42,
		FormatURLs:   map[string]string{"markdown": "https://x/book.md"},
	}
	require.NoError(t, bus.Publish(ctx, "exec-1", published))

	select {
	case event := <-received:
		assert.Equal(t, "exec-1", event.ExecutionID)
		assert.Equal(t, int64(1200), event.TokensUsed)
		assert.Equal(t, "https://x/book.md", event.FormatURLs["markdown"])
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan string, 1)

	require.NoError(t, bus.Handle(events.ExecutionFailedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ExecutionFailed).Error

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "exec-1", events.ExecutionStarted{BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent, "exec-1")}))
	require.NoError(t, bus.Publish(ctx, "exec-1", events.ExecutionFailed{
		BaseEvent: events.NewBaseEvent(events.ExecutionFailedEvent, "exec-1"),
		Error:     "provider error",
	}))

	select {
	case msg := <-received:
		assert.Equal(t, "provider error", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_HandlerErrorRedelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	attempts := make(chan int, 3)
	count := 0

	require.NoError(t, bus.Handle(events.NodeRegeneratedEvent, func(context.Context, any) error {
		count++
		attempts <- count

		if count == 1 {
			return errors.New("try again")
		}

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "exec-1", events.NodeRegenerated{
		BaseEvent: events.NewBaseEvent(events.NodeRegeneratedEvent, "exec-1"),
		NodeID:    "chapter-1",
		Attempt:   1,
	}))

	for want := 1; want <= 2; want++ {
		select {
		case got := <-attempts:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("attempt %d not delivered", want)
		}
	}
}
