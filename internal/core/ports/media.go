package ports

import (
	"context"

	"meetsfu/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// LifecycleAction is the kind of change a LifecycleEvent reports.
type LifecycleAction string

const (
	LifecycleNew    LifecycleAction = "new"
	LifecycleClosed LifecycleAction = "closed"
)

// LifecycleEvent is emitted by the media engine when a handle is created or closed.
type LifecycleEvent struct {
	Kind   domain.HandleKind
	Action LifecycleAction
	ID     string
	Handle Handle
}

// Handle is the part every media engine object has in common.
type Handle interface {
	HandleID() string
	Closed() bool
	Dump(ctx context.Context) (map[string]interface{}, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// MediaEngine spawns workers and reports handle lifecycles to observers.
type MediaEngine interface {
	CreateWorker(ctx context.Context) (Worker, error)
	Observe(fn func(LifecycleEvent))
	Close()
}

type Worker interface {
	Handle
	ID() domain.WorkerID
	PID() int
	CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (Router, error)
	OnClose(fn func())
	Close()
}

type Router interface {
	Handle
	ID() domain.RouterID
	WorkerID() domain.WorkerID
	RtpCapabilities() domain.RtpCapabilities
	CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool
	CreateWebRtcTransport(ctx context.Context, appData domain.AppData) (Transport, error)
	// OnClose fires once after the router and all of its transports closed,
	// whether by Close or by its worker going away.
	OnClose(fn func())
	Close()
}

type ProduceOptions struct {
	Kind          domain.MediaKind
	RtpParameters domain.RtpParameters
	Paused        bool
	AppData       domain.AppData
}

type ConsumeOptions struct {
	ProducerID      domain.ProducerID
	RtpCapabilities domain.RtpCapabilities
	Paused          bool
	AppData         domain.AppData
}

type Transport interface {
	Handle
	ID() domain.TransportID
	AppData() domain.AppData
	Params() domain.TransportParams
	State() domain.TransportState
	Connect(ctx context.Context, dtls domain.DtlsParameters) error
	Produce(ctx context.Context, opts ProduceOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	OnStateChange(fn func(domain.TransportState))
	Close()
}

// TraceEvent is reported by producers for keyframe requests and similar events.
type TraceEvent struct {
	Type      string      `json:"type"`
	Direction string      `json:"direction"`
	Info      interface{} `json:"info,omitempty"`
}

// RTPWriter receives forwarded packets. *webrtc.TrackLocalStaticRTP satisfies it.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// RTCPWriter receives feedback for a producer. *webrtc.PeerConnection satisfies it.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

type Producer interface {
	Handle
	ID() domain.ProducerID
	Kind() domain.MediaKind
	AppData() domain.AppData
	RtpParameters() domain.RtpParameters
	Type() domain.ConsumerType
	Paused() bool
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	WriteRTP(p *rtp.Packet) error
	SetRTCPWriter(w RTCPWriter)
	OnTransportClose(fn func())
	OnTrace(fn func(TraceEvent))
	// OnClose fires once after the producer closed for any reason and all
	// of its consumers were closed.
	OnClose(fn func())
	Close()
}

type Consumer interface {
	Handle
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	AppData() domain.AppData
	RtpParameters() domain.RtpParameters
	Type() domain.ConsumerType
	Paused() bool
	ProducerPaused() bool
	PreferredLayers() *domain.ConsumerLayers
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetPreferredLayers(ctx context.Context, layers domain.ConsumerLayers) error
	RequestKeyFrame(ctx context.Context) error
	SetSink(w RTPWriter)
	OnTransportClose(fn func())
	OnProducerClose(fn func())
	OnProducerPause(fn func())
	OnProducerResume(fn func())
	Close()
}

// LayerPolicy picks the layers a simulcast or svc consumer should receive.
type LayerPolicy interface {
	PreferredLayers(c Consumer) domain.ConsumerLayers
}
