package services

import (
	"context"

	"meetsfu/internal/core/domain"
)

// IntrospectionService answers read-only queries over live handles and rooms.
type IntrospectionService struct {
	registry *ResourceRegistry
	pool     *WorkerPool
	rooms    *RoomManager
}

func NewIntrospectionService(registry *ResourceRegistry, pool *WorkerPool, rooms *RoomManager) *IntrospectionService {
	return &IntrospectionService{
		registry: registry,
		pool:     pool,
		rooms:    rooms,
	}
}

func (s *IntrospectionService) List(kind domain.HandleKind) []string {
	return s.registry.List(kind)
}

func (s *IntrospectionService) Dump(ctx context.Context, kind domain.HandleKind, id string) (map[string]interface{}, error) {
	return s.registry.Dump(ctx, kind, id)
}

func (s *IntrospectionService) Stats(ctx context.Context, kind domain.HandleKind, id string) (map[string]interface{}, error) {
	return s.registry.Stats(ctx, kind, id)
}

func (s *IntrospectionService) Workers() []domain.WorkerUsage {
	return s.pool.Usage()
}

func (s *IntrospectionService) Rooms() []domain.RoomDump {
	rooms := s.rooms.Rooms()
	out := make([]domain.RoomDump, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Dump())
	}
	return out
}

func (s *IntrospectionService) Room(id domain.RoomID) (*domain.RoomDump, error) {
	r, ok := s.rooms.Room(id)
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	dump := r.Dump()
	return &dump, nil
}

func (s *IntrospectionService) Counts() domain.RegistryCounts {
	return s.registry.Counts()
}
