package webrtc

import (
	"fmt"
	"strings"

	"meetsfu/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

var videoFeedback = []domain.RtcpFeedback{
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "goog-remb"},
	{Type: "transport-cc"},
}

// DefaultCodecs is the router codec set used when none is configured.
func DefaultCodecs() []domain.RtpCodecCapability {
	return []domain.RtpCodecCapability{
		{Kind: domain.KindAudio, MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{Kind: domain.KindVideo, MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, RtcpFeedback: videoFeedback},
		{Kind: domain.KindVideo, MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, RtcpFeedback: videoFeedback,
			Parameters: map[string]interface{}{"profile-id": 2}},
		{Kind: domain.KindVideo, MimeType: webrtc.MimeTypeH264, ClockRate: 90000, RtcpFeedback: videoFeedback,
			Parameters: map[string]interface{}{
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
				"level-asymmetry-allowed": 1,
			}},
	}
}

// SelectCodecs returns the default codecs whose mime type is listed, in the
// order given. An empty list selects every default codec.
func SelectCodecs(mimeTypes []string) ([]domain.RtpCodecCapability, error) {
	all := DefaultCodecs()
	if len(mimeTypes) == 0 {
		return all, nil
	}

	out := make([]domain.RtpCodecCapability, 0, len(mimeTypes))
	for _, mime := range mimeTypes {
		found := false
		for _, c := range all {
			if strings.EqualFold(c.MimeType, mime) {
				out = append(out, c)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: unsupported codec %q", domain.ErrInvalidParameters, mime)
		}
	}
	return out, nil
}

// ParseKind validates a media kind string.
func ParseKind(s string) (domain.MediaKind, error) {
	switch webrtc.NewRTPCodecType(s) {
	case webrtc.RTPCodecTypeAudio:
		return domain.KindAudio, nil
	case webrtc.RTPCodecTypeVideo:
		return domain.KindVideo, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidParameters, s)
	}
}

func buildRouterCapabilities(codecs []domain.RtpCodecCapability) (domain.RtpCapabilities, error) {
	if len(codecs) == 0 {
		codecs = DefaultCodecs()
	}

	caps := domain.RtpCapabilities{
		HeaderExtensions: []domain.RtpHeaderExtension{
			{Kind: domain.KindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
			{Kind: domain.KindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
			{Kind: domain.KindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10},
			{Kind: domain.KindVideo, URI: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", PreferredID: 5},
		},
	}

	used := make(map[uint8]bool)
	for _, c := range codecs {
		if c.PreferredPayloadType != 0 {
			used[c.PreferredPayloadType] = true
		}
	}

	next := uint8(100)
	for _, c := range codecs {
		kind, err := ParseKind(string(c.Kind))
		if err != nil {
			return domain.RtpCapabilities{}, err
		}
		if !strings.HasPrefix(strings.ToLower(c.MimeType), string(kind)+"/") {
			return domain.RtpCapabilities{}, fmt.Errorf("%w: mime type %q does not match kind %s", domain.ErrInvalidParameters, c.MimeType, kind)
		}
		if c.ClockRate == 0 {
			return domain.RtpCapabilities{}, fmt.Errorf("%w: codec %s has no clock rate", domain.ErrInvalidParameters, c.MimeType)
		}
		if c.PreferredPayloadType == 0 {
			for used[next] {
				next++
			}
			c.PreferredPayloadType = next
			used[next] = true
		}
		caps.Codecs = append(caps.Codecs, c)
	}
	return caps, nil
}

// findCodec returns the capability matching a codec by mime type and clock rate.
func findCodec(caps domain.RtpCapabilities, mimeType string, clockRate uint32) (domain.RtpCodecCapability, bool) {
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, mimeType) && c.ClockRate == clockRate {
			return c, true
		}
	}
	return domain.RtpCodecCapability{}, false
}
