package signal

import (
	"sync"
	"time"

	"meetsfu/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// connection owns one websocket. All frames are written by writeLoop, in
// the order they were queued.
type connection struct {
	peerID domain.PeerID
	ws     *websocket.Conn
	opts   Options

	send    chan []byte
	closing chan struct{}
	quit    chan struct{}
	done    chan struct{}

	closingOnce sync.Once
	quitOnce    sync.Once

	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

func newConnection(peerID domain.PeerID, ws *websocket.Conn, opts Options, logger *zap.SugaredLogger) *connection {
	c := &connection{
		peerID:  peerID,
		ws:      ws,
		opts:    opts,
		send:    make(chan []byte, opts.SendQueueSize),
		closing: make(chan struct{}),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
	if opts.MessagesPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), burst)
	}

	go c.writeLoop()
	return c
}

func (c *connection) extendReadDeadline() {
	if c.opts.PongTimeout > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	}
}

// enqueue reports false when the queue is full or the writer has exited.
func (c *connection) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// enqueueWait blocks until msg is queued or the writer exits.
func (c *connection) enqueueWait(msg []byte) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

// closeGracefully flushes queued messages, then closes the socket.
func (c *connection) closeGracefully() {
	c.closingOnce.Do(func() { close(c.closing) })
}

// stop closes the socket without flushing.
func (c *connection) stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

func (c *connection) write(messageType int, data []byte) error {
	if c.opts.WriteTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	return c.ws.WriteMessage(messageType, data)
}

func (c *connection) writeLoop() {
	defer close(c.done)
	defer c.ws.Close()

	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Infow("error writing to peer", "peer_id", c.peerID, "error", err)
				return
			}

		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Infow("error sending ping", "peer_id", c.peerID, "error", err)
				return
			}

		case <-c.closing:
			if err := c.flush(); err != nil {
				return
			}
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.quit:
			return
		}
	}
}

func (c *connection) flush() error {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
