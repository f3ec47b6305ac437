package webrtc

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Producer receives RTP from a client and forwards it to its consumers.
type Producer struct {
	id            domain.ProducerID
	transport     *Transport
	kind          domain.MediaKind
	rtpParameters domain.RtpParameters
	typ           domain.ConsumerType
	appData       domain.AppData

	paused     bool
	consumers  map[domain.ConsumerID]*Consumer
	rtcpWriter ports.RTCPWriter
	closed     bool
	mu         sync.RWMutex

	packets atomic.Uint64
	bytes   atomic.Uint64
	plis    atomic.Uint64

	transportCloseHook closeHook
	closeHook          closeHook
	traceHook          eventHook[ports.TraceEvent]
}

func newProducer(t *Transport, kind domain.MediaKind, params domain.RtpParameters, paused bool, appData domain.AppData) *Producer {
	return &Producer{
		id:            domain.ProducerID(uuid.NewString()),
		transport:     t,
		kind:          kind,
		rtpParameters: params,
		typ:           producerType(params),
		appData:       appData,
		paused:        paused,
		consumers:     make(map[domain.ConsumerID]*Consumer),
	}
}

func producerType(params domain.RtpParameters) domain.ConsumerType {
	if len(params.Encodings) > 1 {
		return domain.ConsumerSimulcast
	}
	if len(params.Encodings) == 1 {
		if spatial, temporal := domain.ParseScalabilityMode(params.Encodings[0].ScalabilityMode); spatial > 1 || temporal > 1 {
			return domain.ConsumerSVC
		}
	}
	return domain.ConsumerSimple
}

func (p *Producer) ID() domain.ProducerID { return p.id }
func (p *Producer) HandleID() string { return string(p.id) }
func (p *Producer) Kind() domain.MediaKind { return p.kind }
func (p *Producer) AppData() domain.AppData { return p.appData }
func (p *Producer) RtpParameters() domain.RtpParameters { return p.rtpParameters }
func (p *Producer) Type() domain.ConsumerType { return p.typ }

func (p *Producer) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

func (p *Producer) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Producer) OnTransportClose(fn func()) { p.transportCloseHook.add(fn) }
func (p *Producer) OnTrace(fn func(ports.TraceEvent)) { p.traceHook.add(fn) }
func (p *Producer) OnClose(fn func()) { p.closeHook.add(fn) }

func (p *Producer) SetRTCPWriter(w ports.RTCPWriter) {
	p.mu.Lock()
	p.rtcpWriter = w
	p.mu.Unlock()
}

func (p *Producer) Pause(ctx context.Context) error {
	return p.setPaused(ctx, true)
}

func (p *Producer) Resume(ctx context.Context) error {
	return p.setPaused(ctx, false)
}

func (p *Producer) setPaused(ctx context.Context, paused bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.ErrHandleClosed
	}
	if p.paused == paused {
		p.mu.Unlock()
		return nil
	}
	p.paused = paused
	consumers := p.consumerList()
	p.mu.Unlock()

	for _, c := range consumers {
		c.setProducerPaused(paused)
	}
	return nil
}

// consumerList must be called with p.mu held.
func (p *Producer) consumerList() []*Consumer {
	out := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		out = append(out, c)
	}
	return out
}

// WriteRTP forwards a packet received from the client to every consumer.
func (p *Producer) WriteRTP(pkt *rtp.Packet) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return domain.ErrHandleClosed
	}
	paused := p.paused
	consumers := p.consumerList()
	p.mu.RUnlock()

	p.packets.Add(1)
	p.bytes.Add(uint64(len(pkt.Payload)))

	if paused {
		return nil
	}

	layer := p.spatialLayerOf(pkt.SSRC)
	keyframe := isKeyframe(p.rtpParameters.Codecs[0].MimeType, pkt.Payload)
	for _, c := range consumers {
		c.forward(pkt, layer, keyframe)
	}
	return nil
}

func (p *Producer) spatialLayerOf(ssrc uint32) int {
	for i, enc := range p.rtpParameters.Encodings {
		if enc.Ssrc == ssrc {
			return i
		}
	}
	return 0
}

// requestKeyFrame sends a PLI for the given spatial layer upstream.
func (p *Producer) requestKeyFrame(layer int, senderSSRC uint32) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return domain.ErrHandleClosed
	}
	w := p.rtcpWriter
	p.mu.RUnlock()

	if layer < 0 || layer >= len(p.rtpParameters.Encodings) {
		layer = 0
	}
	mediaSSRC := p.rtpParameters.Encodings[layer].Ssrc
	p.plis.Add(1)
	p.traceHook.emit(ports.TraceEvent{Type: "pli", Direction: "out", Info: map[string]interface{}{"ssrc": mediaSSRC}})

	if w == nil {
		return nil
	}
	return w.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{SenderSSRC: senderSSRC, MediaSSRC: mediaSSRC}})
}

func (p *Producer) addConsumer(c *Consumer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.ErrHandleClosed
	}
	c.producerPaused = p.paused
	p.consumers[c.id] = c
	return nil
}

func (p *Producer) removeConsumer(id domain.ConsumerID) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// Close closes the producer and every consumer of it.
func (p *Producer) Close() {
	runAll(p.teardown(causeUser))
}

func (p *Producer) teardown(cause closeCause) []func() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers := p.consumerList()
	p.consumers = make(map[domain.ConsumerID]*Consumer)
	p.mu.Unlock()

	if cause != causeTransport {
		p.transport.removeProducer(p.id)
	}
	p.transport.router.removeProducer(p.id)
	p.transport.router.worker.engine.emit(domain.HandleProducer, ports.LifecycleClosed, string(p.id), p)

	var notify []func()
	for _, c := range consumers {
		notify = append(notify, c.teardown(causeProducer)...)
	}
	if cause == causeTransport {
		notify = append(notify, p.transportCloseHook.fire)
	}
	return append(notify, p.closeHook.fire)
}

func (p *Producer) Dump(ctx context.Context) (map[string]interface{}, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, domain.ErrHandleClosed
	}
	consumerIDs := make([]string, 0, len(p.consumers))
	for id := range p.consumers {
		consumerIDs = append(consumerIDs, string(id))
	}
	return map[string]interface{}{
		"id":            p.id,
		"transportId":   p.transport.id,
		"kind":          p.kind,
		"type":          p.typ,
		"paused":        p.paused,
		"appData":       p.appData,
		"rtpParameters": p.rtpParameters,
		"consumerIds":   consumerIDs,
	}, nil
}

func (p *Producer) GetStats(ctx context.Context) (map[string]interface{}, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, domain.ErrHandleClosed
	}
	return map[string]interface{}{
		"type":      "inbound-rtp",
		"kind":      p.kind,
		"packets":   p.packets.Load(),
		"bytes":     p.bytes.Load(),
		"pliCount":  p.plis.Load(),
		"consumers": len(p.consumers),
		"mimeType":  p.rtpParameters.Codecs[0].MimeType,
		"encodings": len(p.rtpParameters.Encodings),
	}, nil
}

func randomSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uuid.New().ID()
	}
	return binary.BigEndian.Uint32(b[:])
}
