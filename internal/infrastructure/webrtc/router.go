package webrtc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// Router routes media between the transports of one room.
type Router struct {
	id     domain.RouterID
	worker *Worker
	caps   domain.RtpCapabilities

	transports map[domain.TransportID]*Transport
	producers  map[domain.ProducerID]*Producer
	closed     bool
	mu         sync.RWMutex

	closeHook closeHook
}

func (r *Router) ID() domain.RouterID { return r.id }
func (r *Router) HandleID() string { return string(r.id) }
func (r *Router) WorkerID() domain.WorkerID { return r.worker.id }
func (r *Router) RtpCapabilities() domain.RtpCapabilities { return r.caps }

func (r *Router) OnClose(fn func()) { r.closeHook.add(fn) }

func (r *Router) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// CanConsume reports whether a client with caps can receive the producer.
func (r *Router) CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool {
	p := r.producer(producerID)
	if p == nil {
		return false
	}
	return canConsume(p, caps)
}

func canConsume(p *Producer, caps domain.RtpCapabilities) bool {
	if len(p.rtpParameters.Codecs) == 0 {
		return false
	}
	codec := p.rtpParameters.Codecs[0]
	_, ok := findCodec(caps, codec.MimeType, codec.ClockRate)
	return ok
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, appData domain.AppData) (ports.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	engine := r.worker.engine
	id := domain.TransportID(uuid.NewString())

	candidates := make([]domain.IceCandidate, 0, len(engine.config.ListenIPs))
	for _, lip := range engine.config.ListenIPs {
		ip := lip.IP
		if lip.AnnouncedIP != "" {
			ip = lip.AnnouncedIP
		}
		candidates = append(candidates, domain.IceCandidate{
			Foundation: "udpcandidate",
			Priority:   1076302079,
			IP:         ip,
			Protocol:   "udp",
			Port:       engine.allocatePort(),
			Type:       webrtc.ICECandidateTypeHost.String(),
		})
	}

	tctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		id:      id,
		router:  r,
		appData: appData,
		params: domain.TransportParams{
			ID: id,
			IceParameters: domain.IceParameters{
				UsernameFragment: randomToken(8),
				Password:         randomToken(24),
				IceLite:          true,
			},
			IceCandidates: candidates,
			DtlsParameters: domain.DtlsParameters{
				Role:         webrtc.DTLSRoleAuto.String(),
				Fingerprints: engine.localFingerprints(),
			},
		},
		state:     domain.TransportNew,
		producers: make(map[domain.ProducerID]*Producer),
		consumers: make(map[domain.ConsumerID]*Consumer),
		ctx:       tctx,
		cancel:    cancel,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, domain.ErrHandleClosed
	}
	r.transports[id] = t
	r.mu.Unlock()

	engine.emit(domain.HandleTransport, ports.LifecycleNew, string(id), t)
	return t, nil
}

func (r *Router) Close() {
	runAll(r.teardown(causeUser))
}

func (r *Router) teardown(cause closeCause) []func() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.transports = make(map[domain.TransportID]*Transport)
	r.mu.Unlock()

	if cause != causeWorker {
		r.worker.removeRouter(r.id)
	}

	var notify []func()
	for _, t := range transports {
		notify = append(notify, t.teardown(causeRouter)...)
	}
	r.worker.engine.emit(domain.HandleRouter, ports.LifecycleClosed, string(r.id), r)
	return append(notify, r.closeHook.fire)
}

func (r *Router) producer(id domain.ProducerID) *Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.producers[id]
}

func (r *Router) addProducer(p *Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.ErrHandleClosed
	}
	r.producers[p.id] = p
	return nil
}

func (r *Router) removeProducer(id domain.ProducerID) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) removeTransport(id domain.TransportID) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

func (r *Router) Dump(ctx context.Context) (map[string]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, domain.ErrHandleClosed
	}
	transportIDs := make([]string, 0, len(r.transports))
	for id := range r.transports {
		transportIDs = append(transportIDs, string(id))
	}
	producerIDs := make([]string, 0, len(r.producers))
	for id := range r.producers {
		producerIDs = append(producerIDs, string(id))
	}
	return map[string]interface{}{
		"id":              r.id,
		"workerId":        r.worker.id,
		"transportIds":    transportIDs,
		"producerIds":     producerIDs,
		"rtpCapabilities": r.caps,
	}, nil
}

func (r *Router) GetStats(ctx context.Context) (map[string]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, domain.ErrHandleClosed
	}
	return map[string]interface{}{
		"transports": len(r.transports),
		"producers":  len(r.producers),
	}, nil
}

func randomToken(n int) string {
	b := make([]byte, (n+1)/2)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()[:n]
	}
	return hex.EncodeToString(b)[:n]
}
