package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventRoomCreated EventType = "room.created"
	EventRoomClosed  EventType = "room.closed"
	EventPeerJoined  EventType = "peer.joined"
	EventPeerLeft    EventType = "peer.left"
)

const defaultChannel = "meetsfu:events"

// Event represents a distributed event
type Event struct {
	Type       EventType     `json:"type"`
	InstanceID string        `json:"instance_id"`
	Timestamp  time.Time     `json:"timestamp"`
	RoomID     domain.RoomID `json:"room_id"`
	PeerID     domain.PeerID `json:"peer_id,omitempty"`
}

// EventBus announces room lifecycle changes of this instance to the other
// instances sharing the Redis deployment. It implements ports.RoomEvents.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string

	pubsub *redis.PubSub
	mu     sync.Mutex

	// guards the room lifecycle publishes, which run on the join path
	breaker *circuitbreaker.CircuitBreaker

	logger *zap.SugaredLogger
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	eb := &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    defaultChannel,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: 3,
			OpenTimeout:      10 * time.Second,
		}),
		logger: logger,
	}
	eb.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("event bus publisher state changed", "from", from, "to", to)
	})
	return eb
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"room_id", event.RoomID,
		"peer_id", event.PeerID,
	)
	return nil
}

// Subscribe calls handler for every event published by other instances until
// ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer func() {
		eb.mu.Lock()
		eb.pubsub = nil
		eb.mu.Unlock()
		pubsub.Close()
	}()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

func (eb *EventBus) publish(ctx context.Context, event *Event) {
	err := eb.breaker.Execute(func() error { return eb.Publish(ctx, event) })
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		eb.logger.Debugw("skipped room event publish", "type", event.Type, "room_id", event.RoomID)
	case err != nil:
		eb.logger.Warnw("failed to publish room event", "type", event.Type, "room_id", event.RoomID, "error", err)
	}
}

func (eb *EventBus) RoomCreated(ctx context.Context, roomID domain.RoomID) {
	eb.publish(ctx, &Event{Type: EventRoomCreated, RoomID: roomID})
}

func (eb *EventBus) RoomClosed(ctx context.Context, roomID domain.RoomID) {
	eb.publish(ctx, &Event{Type: EventRoomClosed, RoomID: roomID})
}

func (eb *EventBus) PeerJoined(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) {
	eb.publish(ctx, &Event{Type: EventPeerJoined, RoomID: roomID, PeerID: peerID})
}

func (eb *EventBus) PeerLeft(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID) {
	eb.publish(ctx, &Event{Type: EventPeerLeft, RoomID: roomID, PeerID: peerID})
}

// Close ends an active subscription.
func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
