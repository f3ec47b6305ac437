package ports

import (
	"context"
	"time"

	"meetsfu/internal/core/domain"
)

// RoomDirectory stores room settings and which instance hosts an active room.
type RoomDirectory interface {
	Get(ctx context.Context, id domain.RoomID) (*domain.RoomSettings, error)
	Save(ctx context.Context, settings *domain.RoomSettings) error
	Delete(ctx context.Context, id domain.RoomID) error
	SetActive(ctx context.Context, id domain.RoomID, instanceID string, ttl time.Duration) error
	ClearActive(ctx context.Context, id domain.RoomID) error
	ActiveRooms(ctx context.Context) (map[domain.RoomID]string, error)
}
