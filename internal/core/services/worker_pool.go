package services

import (
	"context"
	"fmt"
	"sync"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type pooledWorker struct {
	worker  ports.Worker
	routers int
	dead    bool
}

// WorkerPool owns a fixed set of media workers and places routers on the
// least-loaded one.
type WorkerPool struct {
	engine ports.MediaEngine

	workers []*pooledWorker
	next    int
	mu      sync.Mutex

	logger *zap.SugaredLogger
}

func NewWorkerPool(engine ports.MediaEngine, logger *zap.SugaredLogger) *WorkerPool {
	return &WorkerPool{
		engine: engine,
		logger: logger,
	}
}

// Start spawns n workers concurrently. Workers keep their spawn order.
func (p *WorkerPool) Start(ctx context.Context, n int) error {
	if n <= 0 {
		return fmt.Errorf("worker count must be > 0, got %d", n)
	}

	spawned := make([]ports.Worker, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			w, err := p.engine.CreateWorker(gctx)
			if err != nil {
				return fmt.Errorf("failed to create worker %d: %w", i, err)
			}
			spawned[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, w := range spawned {
			if w != nil {
				w.Close()
			}
		}
		return err
	}

	pooled := make([]*pooledWorker, 0, n)
	p.mu.Lock()
	for _, w := range spawned {
		pw := &pooledWorker{worker: w}
		p.workers = append(p.workers, pw)
		pooled = append(pooled, pw)
	}
	p.mu.Unlock()

	for _, pw := range pooled {
		pw := pw
		pw.worker.OnClose(func() { p.markDead(pw) })
	}

	p.logger.Infow("worker pool started", "workers", n)
	return nil
}

func (p *WorkerPool) markDead(pw *pooledWorker) {
	p.mu.Lock()
	pw.dead = true
	p.mu.Unlock()

	p.logger.Warnw("media worker closed, excluded from placement",
		"worker_id", pw.worker.ID(),
		"pid", pw.worker.PID(),
	)
}

// Acquire reserves a router slot on the live worker with the fewest routers.
// Ties go to the next worker in round-robin order.
func (p *WorkerPool) Acquire() (ports.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.workers)
	var best *pooledWorker
	bestIdx := -1
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		pw := p.workers[idx]
		if pw.dead || pw.worker.Closed() {
			continue
		}
		if best == nil || pw.routers < best.routers {
			best = pw
			bestIdx = idx
		}
	}
	if best == nil {
		return nil, domain.ErrResourceExhausted
	}

	best.routers++
	p.next = (bestIdx + 1) % n
	return best.worker, nil
}

// Release returns a router slot taken by Acquire.
func (p *WorkerPool) Release(id domain.WorkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pw := range p.workers {
		if pw.worker.ID() == id && pw.routers > 0 {
			pw.routers--
			return
		}
	}
}

func (p *WorkerPool) Usage() []domain.WorkerUsage {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.WorkerUsage, 0, len(p.workers))
	for _, pw := range p.workers {
		out = append(out, domain.WorkerUsage{
			ID:      pw.worker.ID(),
			PID:     pw.worker.PID(),
			Routers: pw.routers,
			Closed:  pw.dead || pw.worker.Closed(),
		})
	}
	return out
}

// Live returns the number of workers that can still take routers.
func (p *WorkerPool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	live := 0
	for _, pw := range p.workers {
		if !pw.dead && !pw.worker.Closed() {
			live++
		}
	}
	return live
}

func (p *WorkerPool) Close() {
	p.mu.Lock()
	workers := make([]ports.Worker, 0, len(p.workers))
	for _, pw := range p.workers {
		workers = append(workers, pw.worker)
	}
	p.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
}
