package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/infrastructure/repositories/memory"
	"meetsfu/internal/infrastructure/webrtc"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	opusParams = domain.RtpParameters{
		Codecs: []domain.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
	}
	vp8Params = domain.RtpParameters{
		Codecs: []domain.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
	}
	clientDtls = domain.DtlsParameters{
		Role:         "client",
		Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB:CD:EF"}},
	}
)

type notification struct {
	Method string
	Data   interface{}
}

// recordingNotifier keeps every notification per peer.
type recordingNotifier struct {
	mu     sync.Mutex
	notes  map[domain.PeerID][]notification
	closed map[domain.PeerID]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		notes:  make(map[domain.PeerID][]notification),
		closed: make(map[domain.PeerID]bool),
	}
}

func (n *recordingNotifier) Notify(peerID domain.PeerID, method string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes[peerID] = append(n.notes[peerID], notification{Method: method, Data: data})
}

func (n *recordingNotifier) Close(peerID domain.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed[peerID] = true
}

func (n *recordingNotifier) methods(peerID domain.PeerID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notes[peerID]))
	for _, note := range n.notes[peerID] {
		out = append(out, note.Method)
	}
	return out
}

func (n *recordingNotifier) count(peerID domain.PeerID, method string) int {
	c := 0
	for _, m := range n.methods(peerID) {
		if m == method {
			c++
		}
	}
	return c
}

// find returns the data of the first notification of method sent to peerID.
func (n *recordingNotifier) find(peerID domain.PeerID, method string) (interface{}, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, note := range n.notes[peerID] {
		if note.Method == method {
			return note.Data, true
		}
	}
	return nil, false
}

func (n *recordingNotifier) isClosed(peerID domain.PeerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed[peerID]
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = make(map[domain.PeerID][]notification)
}

type stackOptions struct {
	workers        int
	handshake      webrtc.HandshakeFunc
	connectTimeout time.Duration
	policy         RoomPolicy
}

type testStack struct {
	engine   *webrtc.Engine
	registry *ResourceRegistry
	pool     *WorkerPool
	rooms    *RoomManager
	sessions *SessionService
	notes    *recordingNotifier
}

func newTestStack(t *testing.T, opts stackOptions) *testStack {
	t.Helper()
	logger := zap.NewNop().Sugar()

	engine, err := webrtc.NewEngine(webrtc.EngineConfig{Handshake: opts.handshake}, logger)
	require.NoError(t, err)

	registry := NewResourceRegistry(logger)
	registry.Attach(engine)

	if opts.workers == 0 {
		opts.workers = 2
	}
	pool := NewWorkerPool(engine, logger)
	require.NoError(t, pool.Start(context.Background(), opts.workers))

	if opts.policy.Codecs == nil {
		opts.policy.AutoCreate = true
		opts.policy.FirstJoinerHost = true
		opts.policy.Codecs = webrtc.DefaultCodecs()
	}
	rooms := NewRoomManager(pool, memory.NewMemoryRoomDirectory(), nil, opts.policy, logger)

	notes := newRecordingNotifier()
	sessions := NewSessionService(rooms, nil, nil, SessionConfig{TransportConnectTimeout: opts.connectTimeout}, logger)
	sessions.SetNotifier(notes)

	t.Cleanup(func() {
		sessions.Close()
		rooms.Close()
		pool.Close()
		engine.Close()
		registry.Close()
	})

	return &testStack{
		engine:   engine,
		registry: registry,
		pool:     pool,
		rooms:    rooms,
		sessions: sessions,
		notes:    notes,
	}
}

func (s *testStack) connect(t *testing.T, id domain.PeerID, uid domain.UserID) {
	t.Helper()
	require.NoError(t, s.sessions.Connect(context.Background(), id, domain.Identity{UserID: uid, DisplayName: string(uid)}))
}

func (s *testStack) call(peerID domain.PeerID, method string, data interface{}) (interface{}, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return s.sessions.Handle(context.Background(), peerID, method, raw)
}

func (s *testStack) mustCall(t *testing.T, peerID domain.PeerID, method string, data interface{}) interface{} {
	t.Helper()
	res, err := s.call(peerID, method, data)
	require.NoError(t, err, "%s by %s", method, peerID)
	return res
}

// join connects and joins peerID to roomID with capabilities matching the
// default codec set.
func (s *testStack) join(t *testing.T, peerID domain.PeerID, roomID domain.RoomID) *domain.JoinResult {
	t.Helper()
	s.connect(t, peerID, domain.UserID("u-"+string(peerID)))
	res := s.mustCall(t, peerID, MethodJoin, map[string]interface{}{
		"roomId":          roomID,
		"rtpCapabilities": clientCaps(),
	})
	return res.(*domain.JoinResult)
}

func clientCaps() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: webrtc.DefaultCodecs()}
}

func (s *testStack) mustSession(t *testing.T, peerID domain.PeerID) *session {
	t.Helper()
	sess, ok := s.sessions.session(peerID)
	require.True(t, ok)
	return sess
}

func (s *testStack) transport(t *testing.T, peerID domain.PeerID, dir domain.Direction) domain.TransportID {
	t.Helper()
	res := s.mustCall(t, peerID, MethodCreateTransport, map[string]interface{}{"direction": dir})
	return res.(domain.TransportParams).ID
}

func (s *testStack) produce(t *testing.T, peerID domain.PeerID, transportID domain.TransportID, kind domain.MediaKind, source domain.Source) domain.ProducerID {
	t.Helper()
	params := opusParams
	if kind == domain.KindVideo {
		params = vp8Params
	}
	res := s.mustCall(t, peerID, MethodProduce, map[string]interface{}{
		"transportId":   transportID,
		"kind":          kind,
		"rtpParameters": params,
		"source":        source,
	})
	return res.(ProduceResult).ID
}

func (s *testStack) consume(t *testing.T, peerID domain.PeerID, producerID domain.ProducerID) *domain.ConsumerParams {
	t.Helper()
	res := s.mustCall(t, peerID, MethodConsume, map[string]interface{}{"producerId": producerID})
	return res.(*domain.ConsumerParams)
}
