package webrtc

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
)

func TestIsKeyframe(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		payload  []byte
		want     bool
	}{
		{"vp8 key", webrtc.MimeTypeVP8, []byte{0x10, 0x00}, true},
		{"vp8 delta", webrtc.MimeTypeVP8, []byte{0x10, 0x01}, false},
		{"vp8 not partition start", webrtc.MimeTypeVP8, []byte{0x00, 0x00}, false},
		{"vp8 short picture id", webrtc.MimeTypeVP8, []byte{0x90, 0x80, 0x05, 0x00}, true},
		{"vp8 long picture id", webrtc.MimeTypeVP8, []byte{0x90, 0x80, 0x85, 0x01, 0x00}, true},
		{"vp8 truncated", webrtc.MimeTypeVP8, []byte{0x90}, false},
		{"vp8 empty", webrtc.MimeTypeVP8, nil, false},
		{"vp9 key", webrtc.MimeTypeVP9, []byte{0x08}, true},
		{"vp9 inter", webrtc.MimeTypeVP9, []byte{0x48}, false},
		{"h264 idr", webrtc.MimeTypeH264, []byte{0x65}, true},
		{"h264 slice", webrtc.MimeTypeH264, []byte{0x41}, false},
		{"h264 stap-a sps", webrtc.MimeTypeH264, []byte{0x18, 0x00, 0x02, 0x67, 0x42}, true},
		{"h264 fu-a idr start", webrtc.MimeTypeH264, []byte{0x7C, 0x85}, true},
		{"h264 fu-a idr middle", webrtc.MimeTypeH264, []byte{0x7C, 0x05}, false},
		{"opus", webrtc.MimeTypeOpus, []byte{0xFF}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isKeyframe(tt.mimeType, tt.payload))
		})
	}
}
