package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"
	"meetsfu/pkg/logger"
	"meetsfu/pkg/tracing"
	"meetsfu/pkg/utils"
	"meetsfu/pkg/validation"

	"go.uber.org/zap"
)

// Signaling request methods.
const (
	MethodJoin             = "join"
	MethodCreateTransport  = "createTransport"
	MethodConnectTransport = "connectTransport"
	MethodProduce          = "produce"
	MethodConsume          = "consume"
	MethodPauseProducer    = "pauseProducer"
	MethodResumeProducer   = "resumeProducer"
	MethodPauseConsumer    = "pauseConsumer"
	MethodResumeConsumer   = "resumeConsumer"
	MethodCloseProducer    = "closeProducer"
	MethodRaiseHand        = "raiseHand"
	MethodLeave            = "leave"
)

// Server-initiated notifications.
const (
	NotifyPeerJoined      = "peerJoined"
	NotifyPeerLeft        = "peerLeft"
	NotifyNewProducer     = "newProducer"
	NotifyProducerClosed  = "producerClosed"
	NotifyConsumerClosed  = "consumerClosed"
	NotifyProducerPaused  = "producerPaused"
	NotifyProducerResumed = "producerResumed"
	NotifyTransportClosed = "transportClosed"
	NotifyHandRaised      = "handRaised"
	NotifyHandLowered     = "handLowered"
	NotifyRoomLocked      = "roomLocked"
	NotifyRoomUnlocked    = "roomUnlocked"
	NotifyRoomClosed      = "roomClosed"
	NotifyKicked          = "kicked"
)

// Transport close reasons reported in transportClosed.
const (
	reasonFailed  = "failed"
	reasonTimeout = "timeout"
	reasonClosed  = "closed"
)

type ProducerEvent struct {
	ProducerID domain.ProducerID `json:"producerId"`
	PeerID     domain.PeerID     `json:"peerId,omitempty"`
	ConsumerID domain.ConsumerID `json:"consumerId,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

type PeerEvent struct {
	PeerID domain.PeerID `json:"peerId"`
	By     domain.PeerID `json:"by,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

type TransportEvent struct {
	TransportID domain.TransportID `json:"transportId"`
	Reason      string             `json:"reason"`
}

type RoomEvent struct {
	RoomID domain.RoomID `json:"roomId"`
	By     domain.PeerID `json:"by"`
}

// RoomClosedEvent tells a member its room is gone. The session is back in
// the connected state and may join again.
type RoomClosedEvent struct {
	RoomID domain.RoomID `json:"roomId"`
	Reason string        `json:"reason"`
}

// ConsumeSkipped answers a consume request that created no consumer.
type ConsumeSkipped struct {
	ProducerID domain.ProducerID `json:"producerId"`
	Consumed   bool              `json:"consumed"`
	Reason     string            `json:"reason"`
}

type ProduceResult struct {
	ID domain.ProducerID `json:"id"`
}

type SessionConfig struct {
	// TransportConnectTimeout bounds how long a transport may stay connecting.
	TransportConnectTimeout time.Duration
}

type session struct {
	peerID   domain.PeerID
	identity domain.Identity
	ctx      context.Context
	cancel   context.CancelFunc

	// opMu serializes requests of one peer.
	opMu sync.Mutex

	state  domain.SessionState
	room   *Room
	peer   *Peer
	caps   *domain.RtpCapabilities
	timers map[domain.TransportID]*time.Timer
	mu     sync.Mutex
}

func (s *session) joined() (*Room, *Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.StateJoined:
		return s.room, s.peer, nil
	case domain.StateConnected:
		return nil, nil, domain.ErrPeerNotJoined
	default:
		return nil, nil, domain.ErrPeerClosed
	}
}

// SessionService drives rooms, peers and the media engine from signaling
// requests and fans out notifications.
type SessionService struct {
	rooms    *RoomManager
	notifier ports.Notifier
	policy   ports.LayerPolicy
	metrics  ports.SessionMetrics
	config   SessionConfig

	sessions map[domain.PeerID]*session
	mu       sync.RWMutex

	logger *zap.SugaredLogger
}

func NewSessionService(rooms *RoomManager, policy ports.LayerPolicy, metrics ports.SessionMetrics, config SessionConfig, logger *zap.SugaredLogger) *SessionService {
	if policy == nil {
		policy = HighestLayerPolicy{}
	}
	if metrics == nil {
		metrics = noopSessionMetrics{}
	}
	svc := &SessionService{
		rooms:    rooms,
		notifier: noopNotifier{},
		policy:   policy,
		metrics:  metrics,
		config:   config,
		sessions: make(map[domain.PeerID]*session),
		logger:   logger,
	}
	rooms.OnRoomLost(svc.roomLost)
	return svc
}

// SetNotifier must be called before the first Connect.
func (svc *SessionService) SetNotifier(n ports.Notifier) {
	svc.notifier = n
}

func (svc *SessionService) Connect(ctx context.Context, peerID domain.PeerID, identity domain.Identity) error {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		peerID:   peerID,
		identity: identity,
		ctx:      sctx,
		cancel:   cancel,
		state:    domain.StateConnected,
		timers:   make(map[domain.TransportID]*time.Timer),
	}

	svc.mu.Lock()
	if _, ok := svc.sessions[peerID]; ok {
		svc.mu.Unlock()
		cancel()
		return fmt.Errorf("session %s already connected", peerID)
	}
	svc.sessions[peerID] = s
	n := len(svc.sessions)
	svc.mu.Unlock()

	svc.metrics.SetSessions(n)
	svc.logger.Infow("peer connected", "peer_id", peerID, "uid", identity.UserID)
	return nil
}

// Disconnect ends the session. It does not wait for in-flight requests of the
// peer; those observe a cancelled context and closed handles.
func (svc *SessionService) Disconnect(ctx context.Context, peerID domain.PeerID) {
	svc.mu.Lock()
	s, ok := svc.sessions[peerID]
	delete(svc.sessions, peerID)
	n := len(svc.sessions)
	svc.mu.Unlock()

	if !ok {
		return
	}
	svc.terminate(s, "disconnect")
	svc.metrics.SetSessions(n)
}

func (svc *SessionService) session(peerID domain.PeerID) (*session, bool) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	s, ok := svc.sessions[peerID]
	return s, ok
}

// State returns the session state of a connected peer.
func (svc *SessionService) State(peerID domain.PeerID) (domain.SessionState, bool) {
	s, ok := svc.session(peerID)
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, true
}

// Peer returns the room member of a joined session.
func (svc *SessionService) Peer(peerID domain.PeerID) (*Peer, bool) {
	s, ok := svc.session(peerID)
	if !ok {
		return nil, false
	}
	_, peer, err := s.joined()
	return peer, err == nil
}

func (svc *SessionService) Sessions() int {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return len(svc.sessions)
}

// Handle processes one request to completion. Requests of the same peer never
// overlap.
func (svc *SessionService) Handle(ctx context.Context, peerID domain.PeerID, method string, data json.RawMessage) (interface{}, error) {
	s, ok := svc.session(peerID)
	if !ok {
		return nil, domain.ErrPeerNotFound
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	ctx = logger.WithPeerID(ctx, string(peerID))
	var roomID domain.RoomID
	if room, _, err := s.joined(); err == nil {
		roomID = room.ID()
		ctx = logger.WithRoomID(ctx, string(roomID))
	}
	ctx, span := tracing.TraceSignalRequest(ctx, method, string(peerID), string(roomID))
	defer span.End()
	log := logger.FromContext(ctx, svc.logger)

	start := time.Now()
	result, err := svc.dispatch(ctx, s, method, data)
	elapsed := time.Since(start)
	svc.metrics.RecordRequest(method, err, elapsed)

	switch {
	case err == nil:
		log.Debugw("request handled", "method", method, "duration", elapsed)
	case domain.IsBenign(err):
		tracing.RecordError(ctx, err)
		log.Debugw("request failed", "method", method, "error", err)
	default:
		tracing.RecordError(ctx, err)
		log.Warnw("request failed", "method", method, "error", err)
	}
	return result, err
}

func (svc *SessionService) dispatch(ctx context.Context, s *session, method string, data json.RawMessage) (interface{}, error) {
	switch method {
	case MethodJoin:
		return svc.join(ctx, s, data)
	case MethodCreateTransport:
		return svc.createTransport(ctx, s, data)
	case MethodConnectTransport:
		return svc.connectTransport(ctx, s, data)
	case MethodProduce:
		return svc.produce(ctx, s, data)
	case MethodConsume:
		return svc.consume(ctx, s, data)
	case MethodPauseProducer:
		return svc.setProducerPaused(ctx, s, data, true)
	case MethodResumeProducer:
		return svc.setProducerPaused(ctx, s, data, false)
	case MethodPauseConsumer:
		return svc.setConsumerPaused(ctx, s, data, true)
	case MethodResumeConsumer:
		return svc.setConsumerPaused(ctx, s, data, false)
	case MethodCloseProducer:
		return svc.closeProducer(s, data)
	case MethodRaiseHand:
		return svc.raiseHand(s, data)
	case MethodHostMute:
		return svc.hostMute(ctx, s, data)
	case MethodHostStopVideo:
		return svc.hostStopSource(s, data, domain.SourceWebcam)
	case MethodHostStopScreenSharing:
		return svc.hostStopSource(s, data, domain.SourceScreen)
	case MethodHostLowerHand:
		return svc.hostLowerHand(s, data)
	case MethodHostKick:
		return svc.hostKick(s, data)
	case MethodHostLockRoom:
		return svc.hostSetLocked(ctx, s, true)
	case MethodHostUnlockRoom:
		return svc.hostSetLocked(ctx, s, false)
	case MethodLeave:
		svc.terminate(s, "leave")
		return struct{}{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown method %q", domain.ErrInvalidParameters, method)
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}
	return nil
}

type joinRequest struct {
	RoomID          domain.RoomID           `json:"roomId"`
	Name            string                  `json:"name"`
	RtpCapabilities *domain.RtpCapabilities `json:"rtpCapabilities"`
}

func (svc *SessionService) join(ctx context.Context, s *session, data json.RawMessage) (interface{}, error) {
	var req joinRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := validation.ValidateRoomID(string(req.RoomID)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case domain.StateConnected:
	case domain.StateJoined:
		return nil, domain.ErrAlreadyJoined
	default:
		return nil, domain.ErrPeerClosed
	}

	identity := s.identity
	if identity.DisplayName == "" {
		identity.DisplayName = utils.TruncateString(utils.SanitizeString(req.Name), 64)
	}
	peer := NewPeer(s.peerID, req.RoomID, identity, svc.policy, svc.logger)
	peer.OnTransportLost(func(id domain.TransportID) {
		svc.notifier.Notify(peer.ID(), NotifyTransportClosed, TransportEvent{TransportID: id, Reason: reasonClosed})
	})

	room, err := svc.rooms.Join(ctx, req.RoomID, peer)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != domain.StateConnected {
		// terminated while the room was being joined
		s.mu.Unlock()
		peer.Close()
		svc.rooms.Leave(context.WithoutCancel(ctx), peer)
		return nil, domain.ErrPeerClosed
	}
	if room.Closed() {
		// router went away while the room was being joined
		s.mu.Unlock()
		peer.Close()
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, req.RoomID)
	}
	s.state = domain.StateJoined
	s.room = room
	s.peer = peer
	s.caps = req.RtpCapabilities
	s.mu.Unlock()

	others := room.PeersExcept(peer.ID())
	infos := make([]domain.PeerInfo, 0, len(others))
	for _, p := range others {
		infos = append(infos, p.Info())
	}
	producers := room.ProducersExcept(peer.ID())
	if producers == nil {
		producers = []domain.ProducerInfo{}
	}

	tracing.AddSpanAttributes(ctx, tracing.UserIDKey.String(string(s.identity.UserID)))
	svc.broadcast(room, peer.ID(), NotifyPeerJoined, peer.Info())

	svc.logger.Infow("peer joined",
		"peer_id", peer.ID(),
		"room_id", room.ID(),
		"role", peer.Role(),
		"peers", len(others)+1,
	)

	return &domain.JoinResult{
		PeerID:          peer.ID(),
		Role:            peer.Role(),
		RtpCapabilities: room.Router().RtpCapabilities(),
		Peers:           infos,
		Producers:       producers,
	}, nil
}

type createTransportRequest struct {
	Direction domain.Direction `json:"direction"`
}

func (svc *SessionService) createTransport(ctx context.Context, s *session, data json.RawMessage) (interface{}, error) {
	room, peer, err := s.joined()
	if err != nil {
		return nil, err
	}
	var req createTransportRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Direction != domain.DirectionSend && req.Direction != domain.DirectionRecv {
		return nil, fmt.Errorf("%w: direction must be send or recv", domain.ErrInvalidParameters)
	}

	mctx, span := tracing.TraceMediaOperation(ctx, "createTransport",
		tracing.RoomIDKey.String(string(room.ID())),
		tracing.PeerIDKey.String(string(peer.ID())),
	)
	t, err := room.Router().CreateWebRtcTransport(mctx, domain.AppData{
		PeerID:    peer.ID(),
		RoomID:    room.ID(),
		Direction: req.Direction,
	})
	span.End()
	if err != nil {
		return nil, err
	}
	if err := peer.AddTransport(t); err != nil {
		return nil, err
	}

	t.OnStateChange(func(state domain.TransportState) {
		if state == domain.TransportFailed {
			svc.closeTransport(peer, t.ID(), reasonFailed)
		}
	})

	svc.logger.Debugw("transport created", "peer_id", peer.ID(), "transport_id", t.ID(), "direction", req.Direction)
	return t.Params(), nil
}

func (svc *SessionService) closeTransport(peer *Peer, id domain.TransportID, reason string) {
	if !peer.CloseTransport(id) {
		return
	}
	svc.logger.Infow("transport closed", "peer_id", peer.ID(), "transport_id", id, "reason", reason)
	svc.notifier.Notify(peer.ID(), NotifyTransportClosed, TransportEvent{TransportID: id, Reason: reason})
}

type connectTransportRequest struct {
	TransportID    domain.TransportID    `json:"transportId"`
	DtlsParameters domain.DtlsParameters `json:"dtlsParameters"`
}

func (svc *SessionService) connectTransport(ctx context.Context, s *session, data json.RawMessage) (interface{}, error) {
	_, peer, err := s.joined()
	if err != nil {
		return nil, err
	}
	var req connectTransportRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	t, ok := peer.Transport(req.TransportID)
	if !ok {
		return struct{}{}, nil
	}
	if err := peer.ConnectTransport(ctx, req.TransportID, req.DtlsParameters); err != nil {
		if errors.Is(err, domain.ErrHandleClosed) {
			return struct{}{}, nil
		}
		return nil, err
	}
	if t.State() == domain.TransportConnecting {
		svc.armConnectTimeout(s, peer, t)
	}
	return struct{}{}, nil
}

// armConnectTimeout closes t if it is still connecting once the timeout passes.
func (svc *SessionService) armConnectTimeout(s *session, peer *Peer, t ports.Transport) {
	timeout := svc.config.TransportConnectTimeout
	if timeout <= 0 {
		return
	}
	id := t.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers == nil {
		return
	}
	if _, ok := s.timers[id]; ok {
		return
	}
	s.timers[id] = time.AfterFunc(timeout, func() {
		s.mu.Lock()
		if s.timers != nil {
			delete(s.timers, id)
		}
		s.mu.Unlock()

		if t.State() != domain.TransportConnecting {
			return
		}
		svc.logger.Warnw("transport connect timed out",
			"peer_id", peer.ID(),
			"transport_id", id,
			"timeout", timeout,
		)
		svc.metrics.RecordTransportTimeout()
		svc.closeTransport(peer, id, reasonTimeout)
	})
}

type produceRequest struct {
	TransportID   domain.TransportID   `json:"transportId"`
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
	Source        domain.Source        `json:"source"`
	Paused        bool                 `json:"paused"`
	AppData       struct {
		Source domain.Source `json:"source"`
	} `json:"appData"`
}

func (svc *SessionService) produce(ctx context.Context, s *session, data json.RawMessage) (interface{}, error) {
	room, peer, err := s.joined()
	if err != nil {
		return nil, err
	}
	var req produceRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	t, ok := peer.Transport(req.TransportID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransportNotFound, req.TransportID)
	}
	if t.AppData().Direction != domain.DirectionSend {
		return nil, domain.ErrWrongDirection
	}

	source := req.Source
	if source == "" {
		source = req.AppData.Source
	}
	if source == "" {
		source = domain.SourceFor(req.Kind)
	}

	mctx, span := tracing.TraceMediaOperation(ctx, "produce",
		tracing.RoomIDKey.String(string(room.ID())),
		tracing.TransportIDKey.String(string(t.ID())),
	)
	producer, err := peer.CreateProducer(mctx, t.ID(), req.Kind, req.RtpParameters, source, req.Paused)
	span.End()
	if err != nil {
		return nil, err
	}

	producer.OnClose(func() {
		svc.broadcast(room, peer.ID(), NotifyProducerClosed, ProducerEvent{ProducerID: producer.ID(), PeerID: peer.ID()})
	})
	if producer.Closed() {
		return nil, domain.ErrHandleClosed
	}

	svc.broadcast(room, peer.ID(), NotifyNewProducer, domain.ProducerInfo{
		ProducerID: producer.ID(),
		PeerID:     peer.ID(),
		Kind:       producer.Kind(),
		Source:     source,
		Paused:     producer.Paused(),
	})

	svc.logger.Infow("producer created",
		"peer_id", peer.ID(),
		"producer_id", producer.ID(),
		"kind", producer.Kind(),
		"source", source,
		"type", producer.Type(),
	)
	return ProduceResult{ID: producer.ID()}, nil
}

type consumeRequest struct {
	ProducerID      domain.ProducerID       `json:"producerId"`
	TransportID     domain.TransportID      `json:"transportId"`
	RtpCapabilities *domain.RtpCapabilities `json:"rtpCapabilities"`
}

func (svc *SessionService) consume(ctx context.Context, s *session, data json.RawMessage) (interface{}, error) {
	room, peer, err := s.joined()
	if err != nil {
		return nil, err
	}
	var req consumeRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	caps := req.RtpCapabilities
	if caps == nil {
		s.mu.Lock()
		caps = s.caps
		s.mu.Unlock()
	}
	if caps == nil {
		return nil, fmt.Errorf("%w: rtpCapabilities are required", domain.ErrInvalidParameters)
	}

	transportID := req.TransportID
	if transportID == "" {
		t, ok := peer.TransportFor(domain.DirectionRecv)
		if !ok {
			return nil, fmt.Errorf("%w: no receive transport", domain.ErrTransportNotFound)
		}
		transportID = t.ID()
	} else if t, ok := peer.Transport(transportID); ok && t.AppData().Direction != domain.DirectionRecv {
		return nil, domain.ErrWrongDirection
	}

	mctx, span := tracing.TraceMediaOperation(ctx, "consume",
		tracing.RoomIDKey.String(string(room.ID())),
		tracing.ProducerIDKey.String(string(req.ProducerID)),
	)
	consumer, params, err := peer.CreateConsumer(mctx, transportID, req.ProducerID, *caps)
	span.End()
	if err != nil {
		return nil, err
	}
	if consumer == nil {
		return ConsumeSkipped{ProducerID: req.ProducerID, Reason: "capabilitiesMismatch"}, nil
	}

	consumerID := consumer.ID()
	producerID := consumer.ProducerID()
	consumer.OnProducerClose(func() {
		peer.RemoveConsumer(consumerID)
		svc.notifier.Notify(peer.ID(), NotifyConsumerClosed, ProducerEvent{ProducerID: producerID, ConsumerID: consumerID})
	})
	consumer.OnProducerPause(func() {
		svc.notifier.Notify(peer.ID(), NotifyProducerPaused, ProducerEvent{ProducerID: producerID, ConsumerID: consumerID})
	})
	consumer.OnProducerResume(func() {
		svc.notifier.Notify(peer.ID(), NotifyProducerResumed, ProducerEvent{ProducerID: producerID, ConsumerID: consumerID})
	})
	if consumer.Closed() {
		peer.RemoveConsumer(consumerID)
		return nil, fmt.Errorf("%w: %s", domain.ErrProducerNotFound, producerID)
	}

	tracing.AddSpanAttributes(ctx, tracing.ConsumerIDKey.String(string(consumerID)))
	svc.logger.Debugw("consumer created",
		"peer_id", peer.ID(),
		"consumer_id", consumerID,
		"producer_id", producerID,
		"type", consumer.Type(),
	)
	return params, nil
}

type producerRequest struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type consumerRequest struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

func (svc *SessionService) setProducerPaused(ctx context.Context, s *session, data json.RawMessage, paused bool) (interface{}, error) {
	_, peer, err := s.joined()
	if err != nil {
		return nil, err
	}
	var req producerRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	producer, ok := peer.Producer(req.ProducerID)
	if !ok {
		return struct{}{}, nil
	}
	if paused {
		err = producer.Pause(ctx)
	} else {
		err = producer.Resume(ctx)
	}
	if err != nil && !errors.Is(err, domain.ErrHandleClosed) {
		return nil, err
	}
	return struct{}{}, nil
}

func (svc *SessionService) setConsumerPaused(ctx context.Context, s *session, data json.RawMessage, paused bool) (interface{}, error) {
	_, peer, err := s.joined()
	if err != nil {
		return nil, err
	}
	var req consumerRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	consumer, ok := peer.Consumer(req.ConsumerID)
	if !ok {
		return struct{}{}, nil
	}
	if paused {
		err = consumer.Pause(ctx)
	} else {
		err = consumer.Resume(ctx)
	}
	if err != nil && !errors.Is(err, domain.ErrHandleClosed) {
		return nil, err
	}
	return struct{}{}, nil
}

func (svc *SessionService) closeProducer(s *session, data json.RawMessage) (interface{}, error) {
	_, peer, err := s.joined()
	if err != nil {
		return nil, err
	}
	var req producerRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	if peer.CloseProducer(req.ProducerID) {
		svc.logger.Infow("producer closed", "peer_id", peer.ID(), "producer_id", req.ProducerID)
	}
	return struct{}{}, nil
}

type raiseHandRequest struct {
	Raised *bool `json:"raised"`
}

func (svc *SessionService) raiseHand(s *session, data json.RawMessage) (interface{}, error) {
	room, peer, err := s.joined()
	if err != nil {
		return nil, err
	}
	var req raiseHandRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}

	raised := req.Raised == nil || *req.Raised
	if peer.SetHandRaised(raised) {
		method := NotifyHandRaised
		if !raised {
			method = NotifyHandLowered
		}
		svc.broadcast(room, peer.ID(), method, PeerEvent{PeerID: peer.ID()})
	}
	return struct{}{}, nil
}

// terminate is the single exit path of a session. Only the first call acts.
func (svc *SessionService) terminate(s *session, reason string) {
	s.mu.Lock()
	if s.state == domain.StateLeaving || s.state == domain.StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = domain.StateLeaving
	room, peer := s.room, s.peer
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()

	s.cancel()
	for _, t := range timers {
		t.Stop()
	}

	if peer != nil {
		peer.Close()
		svc.rooms.Leave(context.Background(), peer)
		svc.broadcast(room, peer.ID(), NotifyPeerLeft, PeerEvent{PeerID: peer.ID(), Reason: reason})
	}

	s.mu.Lock()
	s.state = domain.StateClosed
	s.mu.Unlock()

	svc.logger.Infow("peer left", "peer_id", s.peerID, "reason", reason)
}

// roomLost returns every session joined to room to the connected state after
// the room lost its router.
func (svc *SessionService) roomLost(room *Room) {
	for _, p := range room.Peers() {
		if s, ok := svc.session(p.ID()); ok {
			svc.detach(s, room, "routerClosed")
		}
	}
}

func (svc *SessionService) detach(s *session, room *Room, reason string) {
	s.mu.Lock()
	if s.state != domain.StateJoined || s.room != room {
		s.mu.Unlock()
		return
	}
	peer := s.peer
	timers := s.timers
	s.timers = make(map[domain.TransportID]*time.Timer)
	s.state = domain.StateConnected
	s.room, s.peer, s.caps = nil, nil, nil
	s.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	peer.Close()

	svc.notifier.Notify(s.peerID, NotifyRoomClosed, RoomClosedEvent{RoomID: room.ID(), Reason: reason})
	svc.logger.Warnw("peer detached from closed room", "peer_id", s.peerID, "room_id", room.ID(), "reason", reason)
}

// broadcast notifies every member of room except one, in join order.
func (svc *SessionService) broadcast(room *Room, except domain.PeerID, method string, data interface{}) {
	if room == nil {
		return
	}
	for _, p := range room.PeersExcept(except) {
		svc.notifier.Notify(p.ID(), method, data)
	}
}

// Close ends every session.
func (svc *SessionService) Close() {
	svc.mu.Lock()
	sessions := make([]*session, 0, len(svc.sessions))
	for id, s := range svc.sessions {
		sessions = append(sessions, s)
		delete(svc.sessions, id)
	}
	svc.mu.Unlock()

	for _, s := range sessions {
		svc.terminate(s, "shutdown")
	}
	svc.metrics.SetSessions(0)
}

type noopNotifier struct{}

func (noopNotifier) Notify(domain.PeerID, string, interface{}) {}
func (noopNotifier) Close(domain.PeerID) {}

type noopSessionMetrics struct{}

func (noopSessionMetrics) RecordRequest(string, error, time.Duration) {}
func (noopSessionMetrics) RecordTransportTimeout() {}
func (noopSessionMetrics) SetSessions(int) {}
