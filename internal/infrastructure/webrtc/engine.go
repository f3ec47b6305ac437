package webrtc

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sync"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type ListenIP struct {
	IP          string
	AnnouncedIP string
}

// HandshakeFunc completes ICE/DTLS for a transport after Connect. It runs in its own
// goroutine; ctx is cancelled when the transport closes.
type HandshakeFunc func(ctx context.Context, t *Transport, remote domain.DtlsParameters) error

// EngineConfig media engine configuration
type EngineConfig struct {
	ListenIPs []ListenIP
	PortRange struct {
		Min uint16
		Max uint16
	}
	Handshake HandshakeFunc
}

// Engine is an in-process media engine: workers host routers, routers host
// transports, and transports carry producers and consumers. RTP written to a
// producer is forwarded to its consumers' sinks.
type Engine struct {
	config       EngineConfig
	fingerprints []domain.DtlsFingerprint

	workers   map[domain.WorkerID]*Worker
	observers []func(ports.LifecycleEvent)
	nextPID   int
	nextPort  uint16
	closed    bool
	mu        sync.RWMutex

	logger *zap.SugaredLogger
}

// NewEngine creates the engine and its DTLS certificate.
func NewEngine(config EngineConfig, logger *zap.SugaredLogger) (*Engine, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dtls key: %w", err)
	}
	cert, err := webrtc.GenerateCertificate(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dtls certificate: %w", err)
	}
	fps, err := cert.GetFingerprints()
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate fingerprints: %w", err)
	}

	fingerprints := make([]domain.DtlsFingerprint, 0, len(fps))
	for _, fp := range fps {
		fingerprints = append(fingerprints, domain.DtlsFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}

	if len(config.ListenIPs) == 0 {
		config.ListenIPs = []ListenIP{{IP: "127.0.0.1"}}
	}
	if config.PortRange.Min == 0 || config.PortRange.Max <= config.PortRange.Min {
		config.PortRange.Min = 40000
		config.PortRange.Max = 49999
	}
	if config.Handshake == nil {
		config.Handshake = func(context.Context, *Transport, domain.DtlsParameters) error { return nil }
	}

	return &Engine{
		config:       config,
		fingerprints: fingerprints,
		workers:      make(map[domain.WorkerID]*Worker),
		nextPID:      1000,
		nextPort:     config.PortRange.Min,
		logger:       logger,
	}, nil
}

func (e *Engine) Observe(fn func(ports.LifecycleEvent)) {
	e.mu.Lock()
	e.observers = append(e.observers, fn)
	e.mu.Unlock()
}

func (e *Engine) CreateWorker(ctx context.Context) (ports.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, domain.ErrHandleClosed
	}
	e.nextPID++
	w := &Worker{
		id:      domain.WorkerID(uuid.NewString()),
		pid:     e.nextPID,
		engine:  e,
		routers: make(map[domain.RouterID]*Router),
	}
	e.workers[w.id] = w
	e.mu.Unlock()

	e.logger.Infow("media worker started", "worker_id", w.id, "pid", w.pid)
	e.emit(domain.HandleWorker, ports.LifecycleNew, string(w.id), w)
	return w, nil
}

// Close closes every worker and everything they host.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	workers := make([]*Worker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
}

func (e *Engine) removeWorker(id domain.WorkerID) {
	e.mu.Lock()
	delete(e.workers, id)
	e.mu.Unlock()
}

func (e *Engine) emit(kind domain.HandleKind, action ports.LifecycleAction, id string, h ports.Handle) {
	e.mu.RLock()
	observers := make([]func(ports.LifecycleEvent), len(e.observers))
	copy(observers, e.observers)
	e.mu.RUnlock()

	ev := ports.LifecycleEvent{Kind: kind, Action: action, ID: id, Handle: h}
	for _, fn := range observers {
		fn(ev)
	}
}

func (e *Engine) allocatePort() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()

	port := e.nextPort
	e.nextPort++
	if e.nextPort > e.config.PortRange.Max {
		e.nextPort = e.config.PortRange.Min
	}
	return port
}

func (e *Engine) localFingerprints() []domain.DtlsFingerprint {
	out := make([]domain.DtlsFingerprint, len(e.fingerprints))
	copy(out, e.fingerprints)
	return out
}
