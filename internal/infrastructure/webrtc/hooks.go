package webrtc

import "sync"

// closeHook runs its callbacks at most once. Callbacks added after it fired run immediately.
type closeHook struct {
	mu    sync.Mutex
	fired bool
	fns   []func()
}

func (h *closeHook) add(fn func()) {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		fn()
		return
	}
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *closeHook) fire() {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		return
	}
	h.fired = true
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// eventHook runs its callbacks on every emit.
type eventHook[T any] struct {
	mu  sync.RWMutex
	fns []func(T)
}

func (h *eventHook[T]) add(fn func(T)) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *eventHook[T]) emit(v T) {
	h.mu.RLock()
	fns := make([]func(T), len(h.fns))
	copy(fns, h.fns)
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// closeCause tells a closing handle which parent, if any, initiated the close.
type closeCause int

const (
	causeUser closeCause = iota
	causeProducer
	causeTransport
	causeRouter
	causeWorker
)

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
