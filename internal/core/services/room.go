package services

import (
	"sync"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"
)

// Room is a set of peers sharing one router. Membership is mutated only by
// RoomManager, under its lock.
type Room struct {
	id     domain.RoomID
	router ports.Router
	worker ports.Worker

	settings domain.RoomSettings
	order    []domain.PeerID
	peers    map[domain.PeerID]*Peer
	closed   bool
	mu       sync.RWMutex
}

func newRoom(settings domain.RoomSettings, worker ports.Worker, router ports.Router) *Room {
	return &Room{
		id:       settings.ID,
		router:   router,
		worker:   worker,
		settings: settings,
		peers:    make(map[domain.PeerID]*Peer),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }
func (r *Room) Router() ports.Router { return r.router }

func (r *Room) Settings() domain.RoomSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// addPeer admits p and assigns its role. Host admission ignores the lock.
func (r *Room) addPeer(p *Peer, firstJoinerHost bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return domain.ErrRoomNotFound
	}
	if _, ok := r.peers[p.id]; ok {
		return domain.ErrAlreadyJoined
	}

	identity := p.Identity()
	host := identity.Host || (r.settings.HostUID != "" && identity.UserID == r.settings.HostUID)
	if !host && firstJoinerHost && r.settings.HostUID == "" && !r.hasHostLocked() {
		host = true
	}

	if r.settings.MaxPeers > 0 && len(r.order) >= r.settings.MaxPeers {
		return domain.ErrRoomFull
	}
	if r.settings.Locked && !host {
		return domain.ErrRoomLocked
	}

	if host {
		p.setRole(domain.RoleHost)
	}
	r.peers[p.id] = p
	r.order = append(r.order, p.id)
	return nil
}

func (r *Room) hasHostLocked() bool {
	for _, p := range r.peers {
		if p.IsHost() {
			return true
		}
	}
	return false
}

// removePeer reports whether p was a member.
func (r *Room) removePeer(id domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Closed reports whether the room was removed from its manager.
func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Room) markClosed() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *Room) Peer(id domain.PeerID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Peers returns members in join order.
func (r *Room) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Peer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.peers[id])
	}
	return out
}

func (r *Room) PeersExcept(id domain.PeerID) []*Peer {
	peers := r.Peers()
	out := peers[:0]
	for _, p := range peers {
		if p.id != id {
			out = append(out, p)
		}
	}
	return out
}

// ProducersExcept lists the live producers of every other member, in join order.
func (r *Room) ProducersExcept(id domain.PeerID) []domain.ProducerInfo {
	var out []domain.ProducerInfo
	for _, p := range r.PeersExcept(id) {
		for _, producer := range p.Producers() {
			if producer.Closed() {
				continue
			}
			out = append(out, domain.ProducerInfo{
				ProducerID: producer.ID(),
				PeerID:     p.id,
				Kind:       producer.Kind(),
				Source:     producer.AppData().Source,
				Paused:     producer.Paused(),
			})
		}
	}
	return out
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SetLocked reports whether the flag changed.
func (r *Room) SetLocked(locked bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings.Locked == locked {
		return false
	}
	r.settings.Locked = locked
	return true
}

func (r *Room) Dump() domain.RoomDump {
	peers := r.Peers()

	r.mu.RLock()
	dump := domain.RoomDump{
		ID:        r.id,
		RouterID:  r.router.ID(),
		WorkerID:  r.worker.ID(),
		Locked:    r.settings.Locked,
		MaxPeers:  r.settings.MaxPeers,
		HostUID:   r.settings.HostUID,
		PeerCount: len(peers),
		CreatedAt: r.settings.CreatedAt,
	}
	r.mu.RUnlock()

	dump.Peers = make([]domain.PeerDump, 0, len(peers))
	for _, p := range peers {
		dump.Peers = append(dump.Peers, p.Dump())
	}
	return dump
}
