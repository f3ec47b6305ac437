package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"meetsfu/internal/core/domain"
	"meetsfu/internal/core/ports"
	"meetsfu/internal/core/services"
	pkgerrors "meetsfu/pkg/errors"
	"meetsfu/pkg/logger"
	"meetsfu/pkg/ratelimit"
	"meetsfu/pkg/tracing"
	"meetsfu/pkg/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures the signaling server.
type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendQueueSize  int
	MaxMessageSize int64

	// Per-connection request rate. Zero disables the limit.
	MessagesPerSecond float64
	Burst             int
	// Per-IP connection rate. Zero disables the limit.
	ConnectionsPerMinute int
	MaxConnections       int
	// LimiterIdleTimeout drops per-IP connection budgets unused for this long.
	LimiterIdleTimeout time.Duration
	// ClientIPs resolves the address a connection is charged to. Nil means
	// the socket peer address.
	ClientIPs *ratelimit.IPResolver

	RequireToken   bool
	AllowedOrigins []string
}

// Metrics receives connection level events.
type Metrics interface {
	SetConnections(n int)
	NotificationDropped(method string)
	ConnectionRejected(reason string)
}

// Request is a client message expecting exactly one Response.
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type ErrorBody struct {
	Code    pkgerrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

type Response struct {
	Response bool            `json:"response"`
	ID       json.RawMessage `json:"id"`
	OK       bool            `json:"ok"`
	Data     interface{}     `json:"data,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
}

// Notification is a server-initiated message with no response.
type Notification struct {
	Notification bool        `json:"notification"`
	Method       string      `json:"method"`
	Data         interface{} `json:"data,omitempty"`
}

// Server accepts websocket signaling connections, feeds their requests to the
// session service one at a time and delivers notifications back. It
// implements ports.Notifier.
type Server struct {
	sessions ports.SessionService
	auth     services.AuthService
	metrics  Metrics
	opts     Options
	upgrader websocket.Upgrader

	connections map[domain.PeerID]*connection
	mu          sync.RWMutex

	connLimiters *ratelimit.Store
	logger       *zap.SugaredLogger
}

func NewServer(sessions ports.SessionService, auth services.AuthService, metrics Metrics, opts Options, logger *zap.SugaredLogger) *Server {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 64
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	s := &Server{
		sessions:    sessions,
		auth:        auth,
		metrics:     metrics,
		opts:        opts,
		connections: make(map[domain.PeerID]*connection),
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	if opts.ConnectionsPerMinute > 0 {
		s.connLimiters = ratelimit.NewStore(
			rate.Every(time.Minute/time.Duration(opts.ConnectionsPerMinute)),
			opts.ConnectionsPerMinute,
			opts.LimiterIdleTimeout,
		)
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// identify resolves the identity of a connecting client from the token query
// parameter, or from uid/name when tokens are optional.
func (s *Server) identify(r *http.Request, peerID domain.PeerID) (domain.Identity, error) {
	query := r.URL.Query()
	if token := query.Get("token"); token != "" {
		if s.auth == nil {
			return domain.Identity{}, services.ErrUnauthorized
		}
		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			return domain.Identity{}, err
		}
		return claims.Identity(), nil
	}
	if s.opts.RequireToken {
		return domain.Identity{}, services.ErrUnauthorized
	}

	identity := domain.Identity{
		UserID:      domain.UserID(query.Get("uid")),
		DisplayName: query.Get("name"),
	}
	if identity.UserID == "" {
		identity.UserID = domain.UserID(peerID)
	}
	return identity, nil
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.connLimiters != nil && !s.connLimiters.Allow(s.opts.ClientIPs.ClientIP(r)) {
		s.metrics.ConnectionRejected("rate_limited")
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	if s.opts.MaxConnections > 0 && s.Connections() >= s.opts.MaxConnections {
		s.metrics.ConnectionRejected("capacity")
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	peerID := domain.PeerID(uuid.NewString())
	identity, err := s.identify(r, peerID)
	if err != nil {
		s.metrics.ConnectionRejected("unauthorized")
		s.logger.Infow("rejected signaling connection",
			"remote_addr", r.RemoteAddr,
			"token", utils.MaskSensitive(r.URL.Query().Get("token"), 8),
			"error", err,
		)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Infow("failed to upgrade websocket connection", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newConnection(peerID, ws, s.opts, s.logger)
	s.mu.Lock()
	s.connections[peerID] = c
	n := len(s.connections)
	s.mu.Unlock()
	s.metrics.SetConnections(n)

	ctx := logger.WithPeerID(tracing.ExtractHTTP(r.Context(), r.Header), string(peerID))
	if err := s.sessions.Connect(ctx, peerID, identity); err != nil {
		s.logger.Errorw("failed to open session", "peer_id", peerID, "error", err)
		s.drop(c)
		return
	}
	s.logger.Infow("signaling connection opened", "peer_id", peerID, "uid", identity.UserID, "remote_addr", r.RemoteAddr)

	s.readLoop(ctx, c)

	s.sessions.Disconnect(ctx, peerID)
	s.drop(c)
	s.logger.Infow("signaling connection closed", "peer_id", peerID)
}

// readLoop handles requests in arrival order until the connection ends.
func (s *Server) readLoop(ctx context.Context, c *connection) {
	if s.opts.MaxMessageSize > 0 {
		c.ws.SetReadLimit(s.opts.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	messages := make(chan []byte, 16)
	errs := make(chan error, 1)
	go func() {
		defer close(messages)
		for {
			_, raw, err := c.ws.ReadMessage()
			if err != nil {
				errs <- err
				return
			}
			c.extendReadDeadline()
			select {
			case messages <- raw:
			case <-c.done:
				return
			}
		}
	}()

	for {
		select {
		case raw, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			s.handleMessage(ctx, c, raw)

		case err := <-errs:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from peer", "peer_id", c.peerID, "error", err)
			}
			return

		case <-c.done:
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, c *connection, raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil || req.Method == "" {
		s.reply(c, req.ID, nil, pkgerrors.NewInvalidInputError("malformed request"))
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		s.reply(c, req.ID, nil, pkgerrors.NewRateLimitError())
		return
	}

	ctx = logger.WithRequestID(ctx, uuid.NewString())
	result, err := s.sessions.Handle(ctx, c.peerID, req.Method, req.Data)
	s.reply(c, req.ID, result, err)
}

// reply queues the response, waiting for room in the send queue. Responses
// are never dropped while the connection is alive.
func (s *Server) reply(c *connection, id json.RawMessage, result interface{}, err error) {
	resp := Response{Response: true, ID: id, OK: err == nil}
	if err != nil {
		appErr := pkgerrors.FromDomain(err)
		resp.Error = &ErrorBody{Code: appErr.Code, Message: appErr.Message}
	} else {
		resp.Data = result
	}

	msg, merr := json.Marshal(resp)
	if merr != nil {
		s.logger.Errorw("failed to encode response", "peer_id", c.peerID, "error", merr)
		msg, _ = json.Marshal(Response{
			Response: true,
			ID:       id,
			Error:    &ErrorBody{Code: pkgerrors.ErrCodeInternal, Message: "internal error"},
		})
	}
	c.enqueueWait(msg)
}

// Notify implements ports.Notifier. Notifications to a peer whose queue is
// full are dropped.
func (s *Server) Notify(peerID domain.PeerID, method string, data interface{}) {
	c, ok := s.connection(peerID)
	if !ok {
		return
	}
	msg, err := json.Marshal(Notification{Notification: true, Method: method, Data: data})
	if err != nil {
		s.logger.Errorw("failed to encode notification", "peer_id", peerID, "method", method, "error", err)
		return
	}
	if !c.enqueue(msg) {
		s.metrics.NotificationDropped(method)
		s.logger.Warnw("notification dropped", "peer_id", peerID, "method", method)
	}
}

// Close implements ports.Notifier: queued messages are flushed, then the
// connection is closed.
func (s *Server) Close(peerID domain.PeerID) {
	if c, ok := s.connection(peerID); ok {
		c.closeGracefully()
	}
}

func (s *Server) connection(peerID domain.PeerID) (*connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[peerID]
	return c, ok
}

func (s *Server) drop(c *connection) {
	s.mu.Lock()
	if s.connections[c.peerID] == c {
		delete(s.connections, c.peerID)
	}
	n := len(s.connections)
	s.mu.Unlock()

	c.stop()
	s.metrics.SetConnections(n)
}

func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *Server) ConnectedPeers() []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]domain.PeerID, 0, len(s.connections))
	for peerID := range s.connections {
		peers = append(peers, peerID)
	}
	return peers
}

// Shutdown flushes and closes every connection.
func (s *Server) Shutdown() {
	s.mu.RLock()
	conns := make([]*connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.closeGracefully()
	}
	for _, c := range conns {
		<-c.done
	}
}

type noopMetrics struct{}

func (noopMetrics) SetConnections(int)          {}
func (noopMetrics) NotificationDropped(string) {}
func (noopMetrics) ConnectionRejected(string)  {}
