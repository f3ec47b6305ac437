package webrtc

import (
	"strings"

	"github.com/pion/webrtc/v3"
)

// isKeyframe reports whether an RTP payload starts a keyframe. Codecs without
// inter-frame prediction (audio) always return true.
func isKeyframe(mimeType string, payload []byte) bool {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		return isVP8Keyframe(payload)
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP9):
		return isVP9Keyframe(payload)
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return isH264Keyframe(payload)
	default:
		return true
	}
}

func isVP8Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}

	// Payload descriptor: X|R|N|S|R|PID
	desc := payload[0]
	i := 1
	if desc&0x80 != 0 {
		if len(payload) < 2 {
			return false
		}
		ext := payload[1]
		i = 2
		if ext&0x80 != 0 { // PictureID
			if len(payload) <= i {
				return false
			}
			if payload[i]&0x80 != 0 {
				i += 2
			} else {
				i++
			}
		}
		if ext&0x40 != 0 { // TL0PICIDX
			i++
		}
		if ext&0x30 != 0 { // TID/KEYIDX
			i++
		}
	}

	// Start of partition 0, then the P bit of the frame header (0 = keyframe).
	if desc&0x10 == 0 || desc&0x07 != 0 || len(payload) <= i {
		return false
	}
	return payload[i]&0x01 == 0
}

func isVP9Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	// I|P|L|F|B|E|V|Z: not inter-predicted and start of frame.
	return payload[0]&0x40 == 0 && payload[0]&0x08 != 0
}

func isH264Keyframe(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}

	nalType := payload[0] & 0x1F
	switch nalType {
	case 5, 7: // IDR, SPS
		return true
	case 24: // STAP-A
		i := 1
		for i+2 < len(payload) {
			size := int(payload[i])<<8 | int(payload[i+1])
			t := payload[i+2] & 0x1F
			if t == 5 || t == 7 {
				return true
			}
			i += 2 + size
		}
	case 28: // FU-A
		if len(payload) >= 2 {
			return payload[1]&0x80 != 0 && payload[1]&0x1F == 5
		}
	}
	return false
}
