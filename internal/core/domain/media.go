package domain

import (
	"strconv"
	"strings"
)

type WorkerID string
type RouterID string
type TransportID string
type ProducerID string
type ConsumerID string

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Source distinguishes producers of the same kind so host controls can target them.
type Source string

const (
	SourceMic    Source = "mic"
	SourceWebcam Source = "webcam"
	SourceScreen Source = "screen"
)

// SourceFor returns the default source of a kind when the client did not tag one.
func SourceFor(kind MediaKind) Source {
	if kind == KindAudio {
		return SourceMic
	}
	return SourceWebcam
}

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

type TransportState string

const (
	TransportNew        TransportState = "new"
	TransportConnecting TransportState = "connecting"
	TransportConnected  TransportState = "connected"
	TransportFailed     TransportState = "failed"
	TransportClosed     TransportState = "closed"
)

type ConsumerType string

const (
	ConsumerSimple    ConsumerType = "simple"
	ConsumerSimulcast ConsumerType = "simulcast"
	ConsumerSVC       ConsumerType = "svc"
)

// AppData is attached to every transport and producer so that observers
// can attribute engine handles to their owners.
type AppData struct {
	PeerID    PeerID    `json:"peerId,omitempty"`
	RoomID    RoomID    `json:"roomId,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Source    Source    `json:"source,omitempty"`
}

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RtpCodecCapability struct {
	Kind                 MediaKind              `json:"kind"`
	MimeType             string                 `json:"mimeType"`
	PreferredPayloadType uint8                  `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32                 `json:"clockRate"`
	Channels             uint16                 `json:"channels,omitempty"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback         `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtension struct {
	Kind        MediaKind `json:"kind,omitempty"`
	URI         string    `json:"uri"`
	PreferredID int       `json:"preferredId"`
}

type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

type RtpCodecParameters struct {
	MimeType     string                 `json:"mimeType"`
	PayloadType  uint8                  `json:"payloadType"`
	ClockRate    uint32                 `json:"clockRate"`
	Channels     uint16                 `json:"channels,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback         `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtensionParameters struct {
	URI string `json:"uri"`
	ID  int    `json:"id"`
}

type RtpEncodingParameters struct {
	Ssrc                  uint32  `json:"ssrc,omitempty"`
	Rid                   string  `json:"rid,omitempty"`
	MaxBitrate            uint32  `json:"maxBitrate,omitempty"`
	ScalabilityMode       string  `json:"scalabilityMode,omitempty"`
	ScaleResolutionDownBy float64 `json:"scaleResolutionDownBy,omitempty"`
}

type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize,omitempty"`
}

type RtpParameters struct {
	Mid              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             RtcpParameters                 `json:"rtcp,omitempty"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

// TransportParams is what a client needs to build its side of a transport.
type TransportParams struct {
	ID             TransportID    `json:"id"`
	IceParameters  IceParameters  `json:"iceParameters"`
	IceCandidates  []IceCandidate `json:"iceCandidates"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

type ConsumerLayers struct {
	SpatialLayer  int `json:"spatialLayer"`
	TemporalLayer int `json:"temporalLayer"`
}

// ParseScalabilityMode returns the spatial and temporal layer counts of a
// mode such as "L3T3", "S2T3" or "L1T2_KEY". Unknown modes count as one layer each.
func ParseScalabilityMode(mode string) (spatial, temporal int) {
	spatial, temporal = 1, 1
	if len(mode) < 4 || (mode[0] != 'L' && mode[0] != 'S') {
		return
	}
	t := strings.IndexByte(mode, 'T')
	if t < 2 {
		return
	}
	if n, err := strconv.Atoi(mode[1:t]); err == nil && n > 0 {
		spatial = n
	}
	end := len(mode)
	if u := strings.IndexByte(mode, '_'); u > t {
		end = u
	}
	if n, err := strconv.Atoi(mode[t+1 : end]); err == nil && n > 0 {
		temporal = n
	}
	return
}

// ConsumerParams is returned to the subscribing client after consume.
type ConsumerParams struct {
	ProducerID     ProducerID    `json:"producerId"`
	ID             ConsumerID    `json:"id"`
	Kind           MediaKind     `json:"kind"`
	RtpParameters  RtpParameters `json:"rtpParameters"`
	Type           ConsumerType  `json:"type"`
	ProducerPaused bool          `json:"producerPaused"`
}

// ProducerInfo describes a producer to peers that may consume it.
type ProducerInfo struct {
	ProducerID ProducerID `json:"producerId"`
	PeerID     PeerID     `json:"peerId"`
	Kind       MediaKind  `json:"kind"`
	Source     Source     `json:"source"`
	Paused     bool       `json:"paused"`
}
