package memory

import (
	"context"
	"sync"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"
)

type activeEntry struct {
	instanceID string
	expires    time.Time
}

type MemoryRoomDirectory struct {
	rooms  map[domain.RoomID]domain.RoomSettings
	active map[domain.RoomID]activeEntry
	mu     sync.RWMutex
}

func NewMemoryRoomDirectory() ports.RoomDirectory {
	return &MemoryRoomDirectory{
		rooms:  make(map[domain.RoomID]domain.RoomSettings),
		active: make(map[domain.RoomID]activeEntry),
	}
}

func (r *MemoryRoomDirectory) Get(ctx context.Context, id domain.RoomID) (*domain.RoomSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	settings, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return &settings, nil
}

func (r *MemoryRoomDirectory) Save(ctx context.Context, settings *domain.RoomSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = time.Now()
	}
	r.rooms[settings.ID] = *settings
	return nil
}

func (r *MemoryRoomDirectory) Delete(ctx context.Context, id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[id]; !exists {
		return domain.ErrRoomNotFound
	}
	delete(r.rooms, id)
	delete(r.active, id)
	return nil
}

func (r *MemoryRoomDirectory) SetActive(ctx context.Context, id domain.RoomID, instanceID string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active[id] = activeEntry{instanceID: instanceID, expires: time.Now().Add(ttl)}
	return nil
}

func (r *MemoryRoomDirectory) ClearActive(ctx context.Context, id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, id)
	return nil
}

func (r *MemoryRoomDirectory) ActiveRooms(ctx context.Context) (map[domain.RoomID]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	out := make(map[domain.RoomID]string, len(r.active))
	for id, e := range r.active {
		if now.After(e.expires) {
			delete(r.active, id)
			continue
		}
		out[id] = e.instanceID
	}
	return out, nil
}
