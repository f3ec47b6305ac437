package distributed

import (
	"context"
	"sync"
	"testing"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/pkg/circuitbreaker"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEventBus_DeliversRemoteEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := zaptest.NewLogger(t).Sugar()
	local := NewEventBus(client, "instance-a", logger)
	remote := NewEventBus(client, "instance-b", logger)

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu     sync.Mutex
		events []Event
	)
	done := make(chan error, 1)
	go func() {
		done <- local.Subscribe(ctx, func(e *Event) error {
			mu.Lock()
			events = append(events, *e)
			mu.Unlock()
			return nil
		})
	}()

	// own events are skipped
	local.RoomCreated(ctx, "r-own")

	require.Eventually(t, func() bool {
		remote.PeerJoined(ctx, "r1", "p1")
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	got := events[0]
	for _, e := range events {
		assert.NotEqual(t, domain.RoomID("r-own"), e.RoomID)
	}
	mu.Unlock()
	assert.Equal(t, EventPeerJoined, got.Type)
	assert.Equal(t, "instance-b", got.InstanceID)
	assert.Equal(t, domain.RoomID("r1"), got.RoomID)
	assert.Equal(t, domain.PeerID("p1"), got.PeerID)
	assert.False(t, got.Timestamp.IsZero())

	assert.Error(t, local.Subscribe(ctx, func(*Event) error { return nil }))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
	assert.NoError(t, local.Close())
}

func TestEventBus_PublishFailuresOpenBreaker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	bus := NewEventBus(client, "instance-a", zaptest.NewLogger(t).Sugar())
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, &Event{Type: EventRoomCreated, RoomID: "r1"}))

	mr.Close()
	assert.Error(t, bus.Publish(ctx, &Event{Type: EventRoomClosed, RoomID: "r1"}))

	for i := 0; i < 3; i++ {
		bus.RoomClosed(ctx, "r1")
	}
	assert.Equal(t, circuitbreaker.StateOpen, bus.breaker.State())

	// open breaker skips publishing
	bus.PeerLeft(ctx, "r1", "p1")
	assert.Equal(t, circuitbreaker.StateOpen, bus.breaker.State())
}
