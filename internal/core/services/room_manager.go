package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// roomCreateTimeout bounds a room creation shared by concurrent joiners.
const roomCreateTimeout = 10 * time.Second

// RoomPolicy controls how rooms are created and admitted to.
type RoomPolicy struct {
	AutoCreate      bool
	MaxPeers        int
	FirstJoinerHost bool
	Codecs          []domain.RtpCodecCapability
	InstanceID      string
	ActiveTTL       time.Duration
}

// RoomManager owns the live rooms. Membership changes and router lifetime
// share m.mu; routers are created and closed outside it.
type RoomManager struct {
	pool      *WorkerPool
	directory ports.RoomDirectory
	events    ports.RoomEvents
	policy    RoomPolicy

	rooms  map[domain.RoomID]*Room
	mu     sync.Mutex
	create singleflight.Group

	// roomLost runs after a room was evicted because its router closed.
	roomLost func(*Room)

	logger *zap.SugaredLogger
}

func NewRoomManager(pool *WorkerPool, directory ports.RoomDirectory, events ports.RoomEvents, policy RoomPolicy, logger *zap.SugaredLogger) *RoomManager {
	if events == nil {
		events = noopRoomEvents{}
	}
	if policy.ActiveTTL <= 0 {
		policy.ActiveTTL = time.Hour
	}
	return &RoomManager{
		pool:      pool,
		directory: directory,
		events:    events,
		policy:    policy,
		rooms:     make(map[domain.RoomID]*Room),
		logger:    logger,
	}
}

// OnRoomLost sets fn to run when a room loses its router while it still has
// members, e.g. because the media worker died. The room is already gone
// from the manager when fn runs.
func (m *RoomManager) OnRoomLost(fn func(*Room)) {
	m.mu.Lock()
	m.roomLost = fn
	m.mu.Unlock()
}

func (m *RoomManager) Room(id domain.RoomID) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Rooms returns live rooms ordered by id.
func (m *RoomManager) Rooms() []*Room {
	m.mu.Lock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// GetOrCreate returns the live room or creates it with a router on the least
// loaded worker. Concurrent creations of one room share a single router, and
// the creation outlives the caller that started it.
func (m *RoomManager) GetOrCreate(ctx context.Context, id domain.RoomID) (*Room, error) {
	if r, ok := m.Room(id); ok {
		return r, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := m.create.Do(string(id), func() (interface{}, error) {
		if r, ok := m.Room(id); ok {
			return r, nil
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), roomCreateTimeout)
		defer cancel()
		return m.createRoom(cctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

func (m *RoomManager) createRoom(ctx context.Context, id domain.RoomID) (*Room, error) {
	settings, err := m.directory.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
		return nil, fmt.Errorf("failed to load room settings: %w", err)
	}
	if settings == nil {
		if !m.policy.AutoCreate {
			return nil, domain.ErrRoomNotFound
		}
		settings = &domain.RoomSettings{ID: id, MaxPeers: m.policy.MaxPeers, CreatedAt: time.Now()}
		if err := m.directory.Save(ctx, settings); err != nil {
			m.logger.Warnw("failed to save room settings", "room_id", id, "error", err)
		}
	}
	if settings.MaxPeers <= 0 {
		settings.MaxPeers = m.policy.MaxPeers
	}

	worker, err := m.pool.Acquire()
	if err != nil {
		m.logger.Errorw("no worker for new room", "room_id", id, "error", err)
		return nil, err
	}
	router, err := worker.CreateRouter(ctx, m.policy.Codecs)
	if err != nil {
		m.pool.Release(worker.ID())
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	room := newRoom(*settings, worker, router)
	m.mu.Lock()
	m.rooms[id] = room
	m.mu.Unlock()
	router.OnClose(func() { m.routerClosed(room) })

	if err := m.directory.SetActive(ctx, id, m.policy.InstanceID, m.policy.ActiveTTL); err != nil {
		m.logger.Warnw("failed to register active room", "room_id", id, "error", err)
	}
	m.events.RoomCreated(ctx, id)

	m.logger.Infow("room created",
		"room_id", id,
		"router_id", router.ID(),
		"worker_id", worker.ID(),
	)
	return room, nil
}

// Join admits p to room id, creating the room when needed.
func (m *RoomManager) Join(ctx context.Context, id domain.RoomID, p *Peer) (*Room, error) {
	for attempt := 0; attempt < 3; attempt++ {
		room, err := m.GetOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.rooms[id] != room {
			// closed by a concurrent leave between lookup and lock
			m.mu.Unlock()
			continue
		}
		err = room.addPeer(p, m.policy.FirstJoinerHost)
		empty := err != nil && room.Len() == 0
		if empty {
			delete(m.rooms, id)
			room.markClosed()
		}
		m.mu.Unlock()

		if empty {
			m.closeRoom(room)
		}
		if err != nil {
			return nil, err
		}
		m.events.PeerJoined(ctx, id, p.id)
		return room, nil
	}
	return nil, domain.ErrRoomNotFound
}

// Leave removes p from its room and closes the room when it empties.
func (m *RoomManager) Leave(ctx context.Context, p *Peer) {
	m.mu.Lock()
	room, ok := m.rooms[p.roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	removed := room.removePeer(p.id)
	empty := room.Len() == 0
	if empty {
		delete(m.rooms, room.id)
		room.markClosed()
	}
	m.mu.Unlock()

	if removed {
		m.events.PeerLeft(ctx, room.id, p.id)
	}
	if empty {
		m.closeRoom(room)
	}
}

// SetLocked updates the room flag and persists it.
func (m *RoomManager) SetLocked(ctx context.Context, room *Room, locked bool) bool {
	if !room.SetLocked(locked) {
		return false
	}
	settings := room.Settings()
	if err := m.directory.Save(ctx, &settings); err != nil {
		m.logger.Warnw("failed to save room settings", "room_id", room.id, "error", err)
	}
	return true
}

// routerClosed evicts room when its router closed underneath it. Rooms closed
// by the manager itself are already gone from m.rooms.
func (m *RoomManager) routerClosed(room *Room) {
	m.mu.Lock()
	if m.rooms[room.id] != room {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, room.id)
	room.markClosed()
	lost := m.roomLost
	m.mu.Unlock()

	m.logger.Warnw("room router closed, evicting room",
		"room_id", room.id,
		"router_id", room.router.ID(),
		"worker_id", room.worker.ID(),
		"peers", room.Len(),
	)
	m.closeRoom(room)
	if lost != nil {
		lost(room)
	}
}

func (m *RoomManager) closeRoom(room *Room) {
	room.router.Close()
	m.pool.Release(room.worker.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.directory.ClearActive(ctx, room.id); err != nil {
		m.logger.Warnw("failed to clear active room", "room_id", room.id, "error", err)
	}
	m.events.RoomClosed(ctx, room.id)

	m.logger.Infow("room closed", "room_id", room.id, "router_id", room.router.ID())
}

// Close tears down every room. Peers are expected to be closed already.
func (m *RoomManager) Close() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for id, r := range m.rooms {
		rooms = append(rooms, r)
		r.markClosed()
		delete(m.rooms, id)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		m.closeRoom(r)
	}
}

type noopRoomEvents struct{}

func (noopRoomEvents) RoomCreated(context.Context, domain.RoomID) {}
func (noopRoomEvents) RoomClosed(context.Context, domain.RoomID) {}
func (noopRoomEvents) PeerJoined(context.Context, domain.RoomID, domain.PeerID) {}
func (noopRoomEvents) PeerLeft(context.Context, domain.RoomID, domain.PeerID) {}

// MultiRoomEvents fans lifecycle changes out to several receivers.
type MultiRoomEvents []ports.RoomEvents

func (m MultiRoomEvents) RoomCreated(ctx context.Context, id domain.RoomID) {
	for _, e := range m {
		e.RoomCreated(ctx, id)
	}
}

func (m MultiRoomEvents) RoomClosed(ctx context.Context, id domain.RoomID) {
	for _, e := range m {
		e.RoomClosed(ctx, id)
	}
}

func (m MultiRoomEvents) PeerJoined(ctx context.Context, id domain.RoomID, peerID domain.PeerID) {
	for _, e := range m {
		e.PeerJoined(ctx, id, peerID)
	}
}

func (m MultiRoomEvents) PeerLeft(ctx context.Context, id domain.RoomID, peerID domain.PeerID) {
	for _, e := range m {
		e.PeerLeft(ctx, id, peerID)
	}
}
