package ports

import (
	"context"
	"encoding/json"
	"time"

	"meetsfu/internal/core/domain"
)

// Notifier delivers server-initiated messages to one connected peer.
type Notifier interface {
	Notify(peerID domain.PeerID, method string, data interface{})
	// Close drops the peer's connection after pending notifications are flushed.
	Close(peerID domain.PeerID)
}

// SessionMetrics records orchestrator activity.
type SessionMetrics interface {
	RecordRequest(method string, err error, duration time.Duration)
	RecordTransportTimeout()
	SetSessions(n int)
}

// RoomEvents receives room and peer lifecycle changes, e.g. for a cluster bus.
type RoomEvents interface {
	RoomCreated(ctx context.Context, roomID domain.RoomID)
	RoomClosed(ctx context.Context, roomID domain.RoomID)
	PeerJoined(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID)
	PeerLeft(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID)
}

// SessionService is the signaling-facing side of the orchestrator.
type SessionService interface {
	Connect(ctx context.Context, peerID domain.PeerID, identity domain.Identity) error
	Handle(ctx context.Context, peerID domain.PeerID, method string, data json.RawMessage) (interface{}, error)
	Disconnect(ctx context.Context, peerID domain.PeerID)
}

// IntrospectionService is the read-only view over the registry and rooms.
type IntrospectionService interface {
	List(kind domain.HandleKind) []string
	Dump(ctx context.Context, kind domain.HandleKind, id string) (map[string]interface{}, error)
	Stats(ctx context.Context, kind domain.HandleKind, id string) (map[string]interface{}, error)
	Workers() []domain.WorkerUsage
	Rooms() []domain.RoomDump
	Room(id domain.RoomID) (*domain.RoomDump, error)
	Counts() domain.RegistryCounts
}
