package webrtc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

var supportedFingerprintAlgorithms = map[string]bool{
	"sha-1":   true,
	"sha-224": true,
	"sha-256": true,
	"sha-384": true,
	"sha-512": true,
}

// Transport is a WebRTC transport carrying producers and consumers of one peer.
type Transport struct {
	id      domain.TransportID
	router  *Router
	appData domain.AppData
	params  domain.TransportParams

	state     domain.TransportState
	localRole webrtc.DTLSRole
	remote    domain.DtlsParameters
	producers map[domain.ProducerID]*Producer
	consumers map[domain.ConsumerID]*Consumer
	nextMid   int
	closed    bool
	mu        sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	stateHook eventHook[domain.TransportState]
}

func (t *Transport) ID() domain.TransportID { return t.id }
func (t *Transport) HandleID() string { return string(t.id) }
func (t *Transport) AppData() domain.AppData { return t.appData }
func (t *Transport) Params() domain.TransportParams { return t.params }

func (t *Transport) State() domain.TransportState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Transport) Closed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

func (t *Transport) OnStateChange(fn func(domain.TransportState)) { t.stateHook.add(fn) }

// Connect applies the remote DTLS parameters and starts the handshake.
// Repeated calls after the first are no-ops.
func (t *Transport) Connect(ctx context.Context, dtls domain.DtlsParameters) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	role, err := parseRemoteRole(dtls)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.ErrHandleClosed
	}
	if t.state != domain.TransportNew {
		t.mu.Unlock()
		return nil
	}
	t.state = domain.TransportConnecting
	t.remote = dtls
	t.localRole = role
	t.mu.Unlock()

	t.stateHook.emit(domain.TransportConnecting)

	go t.handshake(dtls)
	return nil
}

func (t *Transport) handshake(remote domain.DtlsParameters) {
	err := t.router.worker.engine.config.Handshake(t.ctx, t, remote)

	next := domain.TransportConnected
	if err != nil {
		next = domain.TransportFailed
	}

	t.mu.Lock()
	if t.closed || t.state != domain.TransportConnecting {
		t.mu.Unlock()
		return
	}
	t.state = next
	t.mu.Unlock()

	if err != nil {
		t.router.worker.engine.logger.Warnw("transport handshake failed", "transport_id", t.id, "error", err)
	}
	t.stateHook.emit(next)
}

// parseRemoteRole validates remote DTLS parameters and returns the local role.
func parseRemoteRole(dtls domain.DtlsParameters) (webrtc.DTLSRole, error) {
	if len(dtls.Fingerprints) == 0 {
		return 0, fmt.Errorf("%w: dtls fingerprints required", domain.ErrInvalidParameters)
	}
	for _, fp := range dtls.Fingerprints {
		if !supportedFingerprintAlgorithms[strings.ToLower(fp.Algorithm)] || fp.Value == "" {
			return 0, fmt.Errorf("%w: unsupported dtls fingerprint %q", domain.ErrInvalidParameters, fp.Algorithm)
		}
	}

	switch strings.ToLower(dtls.Role) {
	case "", webrtc.DTLSRoleAuto.String():
		return webrtc.DTLSRoleClient, nil
	case webrtc.DTLSRoleClient.String():
		return webrtc.DTLSRoleServer, nil
	case webrtc.DTLSRoleServer.String():
		return webrtc.DTLSRoleClient, nil
	default:
		return 0, fmt.Errorf("%w: unknown dtls role %q", domain.ErrInvalidParameters, dtls.Role)
	}
}

func (t *Transport) Produce(ctx context.Context, opts ports.ProduceOptions) (ports.Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kind, err := ParseKind(string(opts.Kind))
	if err != nil {
		return nil, err
	}
	params, err := t.validateProducerParameters(kind, opts.RtpParameters)
	if err != nil {
		return nil, err
	}

	p := newProducer(t, kind, params, opts.Paused, opts.AppData)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.ErrHandleClosed
	}
	t.producers[p.id] = p
	t.mu.Unlock()

	if err := t.router.addProducer(p); err != nil {
		t.removeProducer(p.id)
		return nil, err
	}

	t.router.worker.engine.emit(domain.HandleProducer, ports.LifecycleNew, string(p.id), p)
	return p, nil
}

func (t *Transport) validateProducerParameters(kind domain.MediaKind, params domain.RtpParameters) (domain.RtpParameters, error) {
	if len(params.Codecs) == 0 {
		return params, fmt.Errorf("%w: rtpParameters.codecs is empty", domain.ErrInvalidParameters)
	}
	codec := params.Codecs[0]
	if !strings.HasPrefix(strings.ToLower(codec.MimeType), string(kind)+"/") {
		return params, fmt.Errorf("%w: codec %s does not match kind %s", domain.ErrInvalidParameters, codec.MimeType, kind)
	}
	if _, ok := findCodec(t.router.caps, codec.MimeType, codec.ClockRate); !ok {
		return params, fmt.Errorf("%w: codec %s not supported by router", domain.ErrInvalidParameters, codec.MimeType)
	}
	if len(params.Encodings) == 0 {
		params.Encodings = []domain.RtpEncodingParameters{{Ssrc: randomSSRC()}}
	}
	return params, nil
}

func (t *Transport) Consume(ctx context.Context, opts ports.ConsumeOptions) (ports.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := t.router.producer(opts.ProducerID)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProducerNotFound, opts.ProducerID)
	}
	if !canConsume(p, opts.RtpCapabilities) {
		return nil, fmt.Errorf("%w: %s", domain.ErrCapabilitiesMismatch, opts.ProducerID)
	}

	c := newConsumer(t, p, opts)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, domain.ErrHandleClosed
	}
	c.rtpParameters.Mid = fmt.Sprintf("%d", t.nextMid)
	t.nextMid++
	t.mu.Unlock()

	if err := p.addConsumer(c); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		p.removeConsumer(c.id)
		return nil, domain.ErrHandleClosed
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	if c.Closed() {
		t.removeConsumer(c.id)
		return nil, domain.ErrHandleClosed
	}

	t.router.worker.engine.emit(domain.HandleConsumer, ports.LifecycleNew, string(c.id), c)
	return c, nil
}

func (t *Transport) Close() {
	runAll(t.teardown(causeUser))
}

func (t *Transport) teardown(cause closeCause) []func() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.state = domain.TransportClosed
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.producers = make(map[domain.ProducerID]*Producer)
	t.consumers = make(map[domain.ConsumerID]*Consumer)
	t.mu.Unlock()

	t.cancel()
	if cause != causeRouter {
		t.router.removeTransport(t.id)
	}

	var notify []func()
	for _, p := range producers {
		notify = append(notify, p.teardown(causeTransport)...)
	}
	for _, c := range consumers {
		notify = append(notify, c.teardown(causeTransport)...)
	}
	t.router.worker.engine.emit(domain.HandleTransport, ports.LifecycleClosed, string(t.id), t)

	return append(notify, func() { t.stateHook.emit(domain.TransportClosed) })
}

func (t *Transport) removeProducer(id domain.ProducerID) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) removeConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

func (t *Transport) Dump(ctx context.Context) (map[string]interface{}, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, domain.ErrHandleClosed
	}
	producerIDs := make([]string, 0, len(t.producers))
	for id := range t.producers {
		producerIDs = append(producerIDs, string(id))
	}
	consumerIDs := make([]string, 0, len(t.consumers))
	for id := range t.consumers {
		consumerIDs = append(consumerIDs, string(id))
	}
	dump := map[string]interface{}{
		"id":             t.id,
		"routerId":       t.router.id,
		"appData":        t.appData,
		"state":          t.state,
		"iceParameters":  t.params.IceParameters,
		"iceCandidates":  t.params.IceCandidates,
		"dtlsParameters": t.params.DtlsParameters,
		"producerIds":    producerIDs,
		"consumerIds":    consumerIDs,
	}
	if t.state != domain.TransportNew {
		dump["dtlsRole"] = t.localRole.String()
	}
	return dump, nil
}

func (t *Transport) GetStats(ctx context.Context) (map[string]interface{}, error) {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return nil, domain.ErrHandleClosed
	}
	state := t.state
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.RUnlock()

	var recvPackets, recvBytes, sendPackets, sendBytes uint64
	for _, p := range producers {
		recvPackets += p.packets.Load()
		recvBytes += p.bytes.Load()
	}
	for _, c := range consumers {
		sendPackets += c.packets.Load()
		sendBytes += c.bytes.Load()
	}
	return map[string]interface{}{
		"state":         state,
		"rtpPacketsIn":  recvPackets,
		"bytesIn":       recvBytes,
		"rtpPacketsOut": sendPackets,
		"bytesOut":      sendBytes,
	}, nil
}
