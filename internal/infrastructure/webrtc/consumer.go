package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/rtp"
)

// Consumer sends one producer's media to a client.
type Consumer struct {
	id             domain.ConsumerID
	transport      *Transport
	producer       *Producer
	kind           domain.MediaKind
	appData        domain.AppData
	rtpParameters  domain.RtpParameters
	typ            domain.ConsumerType
	ssrc           uint32
	payloadType    uint8
	spatialLayers  int
	temporalLayers int

	paused         bool
	producerPaused bool
	preferred      *domain.ConsumerLayers
	targetSpatial  int
	currentSpatial int
	seqOffset      uint16
	lastSeq        uint16
	started        bool
	sink           ports.RTPWriter
	closed         bool
	mu             sync.Mutex

	packets atomic.Uint64
	bytes   atomic.Uint64

	transportCloseHook closeHook
	producerCloseHook  closeHook
	producerPauseHook  eventHook[bool]
}

func newConsumer(t *Transport, p *Producer, opts ports.ConsumeOptions) *Consumer {
	codec := p.rtpParameters.Codecs[0]
	if capCodec, ok := findCodec(opts.RtpCapabilities, codec.MimeType, codec.ClockRate); ok && capCodec.PreferredPayloadType != 0 {
		codec.PayloadType = capCodec.PreferredPayloadType
	}

	var mode string
	switch p.typ {
	case domain.ConsumerSimulcast:
		_, temporal := domain.ParseScalabilityMode(p.rtpParameters.Encodings[0].ScalabilityMode)
		mode = fmt.Sprintf("L%dT%d", len(p.rtpParameters.Encodings), temporal)
	case domain.ConsumerSVC:
		mode = p.rtpParameters.Encodings[0].ScalabilityMode
	}
	spatial, temporal := domain.ParseScalabilityMode(mode)

	ssrc := randomSSRC()
	return &Consumer{
		id:        domain.ConsumerID(uuid.NewString()),
		transport: t,
		producer:  p,
		kind:      p.kind,
		appData:   opts.AppData,
		rtpParameters: domain.RtpParameters{
			Codecs:           []domain.RtpCodecParameters{codec},
			HeaderExtensions: p.rtpParameters.HeaderExtensions,
			Encodings:        []domain.RtpEncodingParameters{{Ssrc: ssrc, ScalabilityMode: mode}},
			Rtcp:             domain.RtcpParameters{Cname: p.rtpParameters.Rtcp.Cname, ReducedSize: true},
		},
		typ:            p.typ,
		ssrc:           ssrc,
		payloadType:    codec.PayloadType,
		spatialLayers:  spatial,
		temporalLayers: temporal,
		paused:         opts.Paused,
		targetSpatial:  spatial - 1,
		currentSpatial: -1,
	}
}

func (c *Consumer) ID() domain.ConsumerID { return c.id }
func (c *Consumer) HandleID() string { return string(c.id) }
func (c *Consumer) ProducerID() domain.ProducerID { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind { return c.kind }
func (c *Consumer) AppData() domain.AppData { return c.appData }
func (c *Consumer) RtpParameters() domain.RtpParameters { return c.rtpParameters }
func (c *Consumer) Type() domain.ConsumerType { return c.typ }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) ProducerPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producerPaused
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) PreferredLayers() *domain.ConsumerLayers {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preferred == nil {
		return nil
	}
	layers := *c.preferred
	return &layers
}

func (c *Consumer) OnTransportClose(fn func()) { c.transportCloseHook.add(fn) }
func (c *Consumer) OnProducerClose(fn func()) { c.producerCloseHook.add(fn) }

func (c *Consumer) OnProducerPause(fn func()) {
	c.producerPauseHook.add(func(paused bool) {
		if paused {
			fn()
		}
	})
}

func (c *Consumer) OnProducerResume(fn func()) {
	c.producerPauseHook.add(func(paused bool) {
		if !paused {
			fn()
		}
	})
}

func (c *Consumer) SetSink(w ports.RTPWriter) {
	c.mu.Lock()
	c.sink = w
	c.mu.Unlock()
}

func (c *Consumer) Pause(ctx context.Context) error {
	return c.setPaused(ctx, true)
}

func (c *Consumer) Resume(ctx context.Context) error {
	return c.setPaused(ctx, false)
}

func (c *Consumer) setPaused(ctx context.Context, paused bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrHandleClosed
	}
	changed := c.paused != paused
	c.paused = paused
	c.mu.Unlock()

	if changed && !paused {
		return c.RequestKeyFrame(ctx)
	}
	return nil
}

func (c *Consumer) setProducerPaused(paused bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.producerPaused = paused
	c.mu.Unlock()

	c.producerPauseHook.emit(paused)
	if !paused {
		_ = c.RequestKeyFrame(context.Background())
	}
}

// SetPreferredLayers selects the spatial and temporal layer to forward.
// Values are clamped to what the producer offers; simple consumers ignore it.
func (c *Consumer) SetPreferredLayers(ctx context.Context, layers domain.ConsumerLayers) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.typ == domain.ConsumerSimple {
		return nil
	}

	layers.SpatialLayer = clamp(layers.SpatialLayer, 0, c.spatialLayers-1)
	layers.TemporalLayer = clamp(layers.TemporalLayer, 0, c.temporalLayers-1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrHandleClosed
	}
	c.preferred = &layers
	c.targetSpatial = layers.SpatialLayer
	switching := c.targetSpatial != c.currentSpatial
	c.mu.Unlock()

	if switching {
		return c.RequestKeyFrame(ctx)
	}
	return nil
}

func (c *Consumer) RequestKeyFrame(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.kind != domain.KindVideo {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrHandleClosed
	}
	target := c.targetSpatial
	c.mu.Unlock()

	if c.typ != domain.ConsumerSimulcast {
		target = 0
	}
	return c.producer.requestKeyFrame(target, c.ssrc)
}

// forward writes a producer packet to the sink. Simulcast consumers only switch
// to the target layer on a keyframe and keep sequence numbers contiguous.
func (c *Consumer) forward(pkt *rtp.Packet, layer int, keyframe bool) {
	c.mu.Lock()
	if c.closed || c.paused || c.producerPaused || c.sink == nil {
		c.mu.Unlock()
		return
	}
	if c.typ == domain.ConsumerSimulcast && layer != c.currentSpatial {
		if layer != c.targetSpatial || !keyframe {
			c.mu.Unlock()
			return
		}
		c.currentSpatial = layer
		if c.started {
			c.seqOffset = c.lastSeq + 1 - pkt.SequenceNumber
		}
	}

	out := *pkt
	out.Header.SSRC = c.ssrc
	out.Header.PayloadType = c.payloadType
	out.Header.SequenceNumber = pkt.SequenceNumber + c.seqOffset
	c.lastSeq = out.Header.SequenceNumber
	c.started = true
	sink := c.sink
	c.mu.Unlock()

	if err := sink.WriteRTP(&out); err != nil {
		return
	}
	c.packets.Add(1)
	c.bytes.Add(uint64(len(out.Payload)))
}

func (c *Consumer) Close() {
	runAll(c.teardown(causeUser))
}

func (c *Consumer) teardown(cause closeCause) []func() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.sink = nil
	c.mu.Unlock()

	if cause != causeProducer {
		c.producer.removeConsumer(c.id)
	}
	if cause != causeTransport {
		c.transport.removeConsumer(c.id)
	}
	c.transport.router.worker.engine.emit(domain.HandleConsumer, ports.LifecycleClosed, string(c.id), c)

	switch cause {
	case causeTransport, causeRouter, causeWorker:
		return []func(){c.transportCloseHook.fire}
	case causeProducer:
		return []func(){c.producerCloseHook.fire}
	}
	return nil
}

func (c *Consumer) Dump(ctx context.Context) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, domain.ErrHandleClosed
	}
	dump := map[string]interface{}{
		"id":             c.id,
		"producerId":     c.producer.id,
		"transportId":    c.transport.id,
		"kind":           c.kind,
		"type":           c.typ,
		"appData":        c.appData,
		"paused":         c.paused,
		"producerPaused": c.producerPaused,
		"rtpParameters":  c.rtpParameters,
	}
	if c.preferred != nil {
		dump["preferredLayers"] = *c.preferred
	}
	if c.currentSpatial >= 0 {
		dump["currentSpatialLayer"] = c.currentSpatial
	}
	return dump, nil
}

func (c *Consumer) GetStats(ctx context.Context) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, domain.ErrHandleClosed
	}
	return map[string]interface{}{
		"type":     "outbound-rtp",
		"kind":     c.kind,
		"ssrc":     c.ssrc,
		"packets":  c.packets.Load(),
		"bytes":    c.bytes.Load(),
		"mimeType": c.rtpParameters.Codecs[0].MimeType,
	}, nil
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
