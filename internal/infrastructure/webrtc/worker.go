package webrtc

import (
	"context"
	"sync"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"

	"github.com/google/uuid"
)

// Worker hosts routers.
type Worker struct {
	id     domain.WorkerID
	pid    int
	engine *Engine

	routers map[domain.RouterID]*Router
	closed  bool
	mu      sync.RWMutex

	closeHook closeHook
}

func (w *Worker) ID() domain.WorkerID { return w.id }
func (w *Worker) HandleID() string { return string(w.id) }
func (w *Worker) PID() int { return w.pid }

func (w *Worker) Closed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closed
}

func (w *Worker) OnClose(fn func()) { w.closeHook.add(fn) }

func (w *Worker) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (ports.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	caps, err := buildRouterCapabilities(codecs)
	if err != nil {
		return nil, err
	}

	r := &Router{
		id:         domain.RouterID(uuid.NewString()),
		worker:     w,
		caps:       caps,
		transports: make(map[domain.TransportID]*Transport),
		producers:  make(map[domain.ProducerID]*Producer),
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, domain.ErrHandleClosed
	}
	w.routers[r.id] = r
	w.mu.Unlock()

	w.engine.emit(domain.HandleRouter, ports.LifecycleNew, string(r.id), r)
	return r, nil
}

func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.routers = make(map[domain.RouterID]*Router)
	w.mu.Unlock()

	var notify []func()
	for _, r := range routers {
		notify = append(notify, r.teardown(causeWorker)...)
	}
	w.engine.removeWorker(w.id)
	w.engine.emit(domain.HandleWorker, ports.LifecycleClosed, string(w.id), w)
	w.engine.logger.Infow("media worker closed", "worker_id", w.id, "pid", w.pid)

	runAll(notify)
	w.closeHook.fire()
}

func (w *Worker) removeRouter(id domain.RouterID) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}

func (w *Worker) Dump(ctx context.Context) (map[string]interface{}, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return nil, domain.ErrHandleClosed
	}
	routerIDs := make([]string, 0, len(w.routers))
	for id := range w.routers {
		routerIDs = append(routerIDs, string(id))
	}
	return map[string]interface{}{
		"id":        w.id,
		"pid":       w.pid,
		"routerIds": routerIDs,
	}, nil
}

func (w *Worker) GetStats(ctx context.Context) (map[string]interface{}, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return nil, domain.ErrHandleClosed
	}
	return map[string]interface{}{
		"pid":     w.pid,
		"routers": len(w.routers),
	}, nil
}
