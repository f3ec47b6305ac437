package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStore_PerKeyBudget(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	s := newStore(rate.Every(time.Second), 1, time.Minute, clk.Now)

	assert.True(t, s.Allow("a"))
	assert.False(t, s.Allow("a"))
	assert.True(t, s.Allow("b"), "keys do not share a bucket")

	clk.Advance(time.Second)
	assert.True(t, s.Allow("a"))
}

func TestStore_EvictsIdleKeys(t *testing.T) {
	clk := &clock{now: time.Unix(1000, 0)}
	s := newStore(rate.Every(time.Hour), 1, time.Minute, clk.Now)

	for _, key := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		s.Allow(key)
	}
	assert.Equal(t, 3, s.Len())

	clk.Advance(30 * time.Second)
	assert.False(t, s.Allow("10.0.0.1"))

	clk.Advance(40 * time.Second)
	s.Allow("10.0.0.4")
	assert.Equal(t, 2, s.Len(), "only keys seen within the idle window remain")
	assert.False(t, s.Allow("10.0.0.1"))

	clk.Advance(2 * time.Minute)
	assert.True(t, s.Allow("10.0.0.1"), "an evicted key starts with a full bucket")
	assert.Equal(t, 1, s.Len())
}

func request(remote, xff string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	return req
}

func TestIPResolver_ClientIP(t *testing.T) {
	r, err := NewIPResolver([]string{"10.0.0.0/8", "192.168.1.1"})
	require.NoError(t, err)

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct client", "203.0.113.7:5000", "", "203.0.113.7"},
		{"untrusted peer spoofing header", "203.0.113.7:5000", "1.2.3.4", "203.0.113.7"},
		{"trusted proxy", "10.1.2.3:5000", "198.51.100.9", "198.51.100.9"},
		{"rightmost untrusted hop", "10.1.2.3:5000", "1.2.3.4, 198.51.100.9, 192.168.1.1", "198.51.100.9"},
		{"trusted proxy without header", "192.168.1.1:5000", "", "192.168.1.1"},
		{"garbage hop stops the walk", "10.1.2.3:5000", "198.51.100.9, junk", "10.1.2.3"},
		{"remote without port", "203.0.113.7", "", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ClientIP(request(tt.remote, tt.xff)))
		})
	}
}

func TestIPResolver_Nil(t *testing.T) {
	var r *IPResolver
	assert.Equal(t, "203.0.113.7", r.ClientIP(request("203.0.113.7:5000", "1.2.3.4")))
}

func TestNewIPResolver_Invalid(t *testing.T) {
	_, err := NewIPResolver([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = NewIPResolver([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}
