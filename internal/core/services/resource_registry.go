package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"

	"go.uber.org/zap"
)

// LatestID selects the most recently inserted handle of a kind.
const LatestID = "latest"

type registryEntry struct {
	handle ports.Handle
	owner  domain.PeerID
	seq    uint64
}

// handleTable is one id->handle map with its own lock so that lookups on one
// kind never wait on mutations of another.
type handleTable struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	seq     uint64
}

func (t *handleTable) put(id string, h ports.Handle, owner domain.PeerID) {
	t.mu.Lock()
	t.seq++
	t.entries[id] = registryEntry{handle: h, owner: owner, seq: t.seq}
	t.mu.Unlock()
}

func (t *handleTable) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// ResourceRegistry mirrors the media engine's live handles, fed by its
// lifecycle events. It is read by introspection and never mutates handles.
type ResourceRegistry struct {
	tables map[domain.HandleKind]*handleTable

	listeners []func(ports.LifecycleEvent)
	closed    bool
	mu        sync.RWMutex

	logger *zap.SugaredLogger
}

func NewResourceRegistry(logger *zap.SugaredLogger) *ResourceRegistry {
	tables := make(map[domain.HandleKind]*handleTable, len(domain.HandleKinds))
	for _, k := range domain.HandleKinds {
		tables[k] = &handleTable{entries: make(map[string]registryEntry)}
	}
	return &ResourceRegistry{
		tables: tables,
		logger: logger,
	}
}

// Attach subscribes the registry to the engine's lifecycle events.
func (r *ResourceRegistry) Attach(engine ports.MediaEngine) {
	engine.Observe(r.handleEvent)
}

// OnChange registers a listener called after each table update.
func (r *ResourceRegistry) OnChange(fn func(ports.LifecycleEvent)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *ResourceRegistry) handleEvent(ev ports.LifecycleEvent) {
	r.mu.RLock()
	closed := r.closed
	listeners := make([]func(ports.LifecycleEvent), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	if closed {
		return
	}
	t, ok := r.tables[ev.Kind]
	if !ok {
		return
	}

	switch ev.Action {
	case ports.LifecycleNew:
		t.put(ev.ID, ev.Handle, ownerOf(ev.Handle))
		// a close racing the insert may already have been applied
		if ev.Handle.Closed() {
			t.remove(ev.ID)
			return
		}
		r.logger.Debugw("handle registered", "kind", ev.Kind, "id", ev.ID)
	case ports.LifecycleClosed:
		if !t.remove(ev.ID) {
			return
		}
		r.logger.Debugw("handle removed", "kind", ev.Kind, "id", ev.ID)
	}

	for _, fn := range listeners {
		fn(ev)
	}
}

func ownerOf(h ports.Handle) domain.PeerID {
	if a, ok := h.(interface{ AppData() domain.AppData }); ok {
		return a.AppData().PeerID
	}
	return ""
}

// Get returns the handle for id. id may be LatestID.
func (r *ResourceRegistry) Get(kind domain.HandleKind, id string) (ports.Handle, error) {
	t, ok := r.tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown handle kind %q", kind)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if id == "" || id == LatestID {
		var latest registryEntry
		for _, e := range t.entries {
			if e.seq > latest.seq {
				latest = e
			}
		}
		if latest.handle == nil {
			return nil, notFound(kind)
		}
		return latest.handle, nil
	}

	e, ok := t.entries[id]
	if !ok {
		return nil, notFound(kind)
	}
	return e.handle, nil
}

// Latest returns the id of the most recently inserted handle of kind.
func (r *ResourceRegistry) Latest(kind domain.HandleKind) (string, bool) {
	h, err := r.Get(kind, LatestID)
	if err != nil {
		return "", false
	}
	return h.HandleID(), true
}

// List returns ids of kind in insertion order.
func (r *ResourceRegistry) List(kind domain.HandleKind) []string {
	t, ok := r.tables[kind]
	if !ok {
		return nil
	}

	t.mu.RLock()
	type item struct {
		id  string
		seq uint64
	}
	items := make([]item, 0, len(t.entries))
	for id, e := range t.entries {
		items = append(items, item{id: id, seq: e.seq})
	}
	t.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids
}

// Dump passes through to the handle's dump. A handle that closed after lookup
// yields ErrHandleClosedRace.
func (r *ResourceRegistry) Dump(ctx context.Context, kind domain.HandleKind, id string) (map[string]interface{}, error) {
	h, err := r.Get(kind, id)
	if err != nil {
		return nil, err
	}
	dump, err := h.Dump(ctx)
	return dump, raceError(kind, h, err)
}

func (r *ResourceRegistry) Stats(ctx context.Context, kind domain.HandleKind, id string) (map[string]interface{}, error) {
	h, err := r.Get(kind, id)
	if err != nil {
		return nil, err
	}
	stats, err := h.GetStats(ctx)
	return stats, raceError(kind, h, err)
}

func raceError(kind domain.HandleKind, h ports.Handle, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrHandleClosed) {
		return fmt.Errorf("%s %s: %w", kind, h.HandleID(), domain.ErrHandleClosedRace)
	}
	return err
}

func (r *ResourceRegistry) Counts() domain.RegistryCounts {
	counts := make(domain.RegistryCounts, len(r.tables))
	for kind, t := range r.tables {
		t.mu.RLock()
		counts[kind] = len(t.entries)
		t.mu.RUnlock()
	}
	return counts
}

// CountOwnedBy returns how many transports, producers and consumers belong to peerID.
func (r *ResourceRegistry) CountOwnedBy(peerID domain.PeerID) int {
	n := 0
	for _, kind := range []domain.HandleKind{domain.HandleTransport, domain.HandleProducer, domain.HandleConsumer} {
		t := r.tables[kind]
		t.mu.RLock()
		for _, e := range t.entries {
			if e.owner == peerID {
				n++
			}
		}
		t.mu.RUnlock()
	}
	return n
}

// Close stops tracking and drops all entries.
func (r *ResourceRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for _, t := range r.tables {
		t.mu.Lock()
		t.entries = make(map[string]registryEntry)
		t.mu.Unlock()
	}
}

func notFound(kind domain.HandleKind) error {
	switch kind {
	case domain.HandleWorker:
		return domain.ErrWorkerNotFound
	case domain.HandleRouter:
		return domain.ErrRouterNotFound
	case domain.HandleTransport:
		return domain.ErrTransportNotFound
	case domain.HandleProducer:
		return domain.ErrProducerNotFound
	default:
		return domain.ErrConsumerNotFound
	}
}
