package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomID(t *testing.T) {
	tests := []struct {
		name    string
		roomID  string
		wantErr bool
	}{
		{"simple", "standup", false},
		{"with separators", "team-a_weekly.2", false},
		{"empty", "", true},
		{"spaces", "team a", true},
		{"slash", "a/b", true},
		{"too long", strings.Repeat("r", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomID(tt.roomID)
			assert.Equal(t, tt.wantErr, err != nil, "error = %v", err)
		})
	}
}

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"email like", "alice@example.com", false},
		{"uuid", "3f1c9a52-7b8e-4f7a-9d1e-0c2b5a6d7e8f", false},
		{"empty", "", true},
		{"spaces", "alice smith", true},
		{"too long", strings.Repeat("u", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.userID)
			assert.Equal(t, tt.wantErr, err != nil, "error = %v", err)
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	assert.NoError(t, ValidateDisplayName(""))
	assert.NoError(t, ValidateDisplayName("Zoë Müller"))
	assert.Error(t, ValidateDisplayName(strings.Repeat("n", 65)))
	assert.Error(t, ValidateDisplayName(string([]byte{0xff, 0xfe})))
}

func TestValidateMaxPeers(t *testing.T) {
	assert.NoError(t, ValidateMaxPeers(0))
	assert.NoError(t, ValidateMaxPeers(50))
	assert.Error(t, ValidateMaxPeers(-1))
	assert.Error(t, ValidateMaxPeers(1001))
}
