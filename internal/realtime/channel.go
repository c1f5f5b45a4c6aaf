// Package realtime owns the duplex connection to the chat service and
// its reconnect policy. Inbound message events are published on the bus
// for the stream merger; the channel itself never touches the store.
package realtime

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatroom-im/chatroom/internal/auth"
	"github.com/chatroom-im/chatroom/internal/bus"
	"github.com/chatroom-im/chatroom/internal/status"
	"github.com/chatroom-im/chatroom/internal/store"
)

// ErrUnauthenticated is returned by Connect when no credential is
// available. The channel stays Disconnected.
var ErrUnauthenticated = errors.New("realtime: no credential available")

// ErrClosed is returned by Connect after an explicit Close.
var ErrClosed = errors.New("realtime: channel closed")

const (
	defaultPingInterval   = 30 * time.Second
	defaultReconnectDelay = 2 * time.Second
	handshakeTimeout      = 15 * time.Second
	writeTimeout          = 10 * time.Second
)

// Config holds channel settings. Zero intervals take the defaults; tests
// shorten them.
type Config struct {
	URL            string
	PingInterval   time.Duration
	ReconnectDelay time.Duration
}

// Channel maintains the websocket connection, restarting it after a
// fixed backoff on any disconnect until Close is called. Disconnects are
// a background concern: they drive the state machine, never a
// user-facing error.
type Channel struct {
	cfg     Config
	tokens  auth.TokenSource
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu      sync.Mutex
	wmu     sync.Mutex // serializes writes to conn (gorilla requirement)
	conn    *websocket.Conn
	dialing bool
	base    context.Context
	cancel  context.CancelFunc
	closed  bool
}

// NewChannel creates a realtime channel.
func NewChannel(cfg Config, tokens auth.TokenSource, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Channel {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	return &Channel{
		cfg:     cfg,
		tokens:  tokens,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Connect establishes the duplex stream and starts the receive loop.
// Without a credential it stays Disconnected and returns
// ErrUnauthenticated. A failed dial schedules a reconnect like any other
// disconnect.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil || c.dialing {
		c.mu.Unlock()
		return nil
	}
	if !c.tokens.IsAuthenticated() {
		c.mu.Unlock()
		c.logger.Warn("realtime connect skipped: not authenticated")
		return ErrUnauthenticated
	}
	if c.base == nil {
		c.base, c.cancel = context.WithCancel(ctx)
	}
	// Held until the dial resolves, so a concurrent Connect cannot open
	// a second socket.
	c.dialing = true
	dialCtx := c.base
	token := c.tokens.Token()
	c.mu.Unlock()

	if cur := c.machine.Current(); cur == status.Disconnected {
		_ = c.machine.Transition(status.Connecting)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(dialCtx, c.cfg.URL+"?token="+url.QueryEscape(token), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
		c.logger.Warn("realtime dial failed", zap.Error(err))
		_ = c.machine.Transition(status.Disconnected)
		c.scheduleReconnect()
		return err
	}

	c.mu.Lock()
	c.dialing = false
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	_ = c.machine.Transition(status.Connected)
	c.logger.Info("realtime connected", zap.String("url", c.cfg.URL))
	c.bus.Publish(bus.New(bus.KindRTConnected, nil))

	go c.readLoop(conn)
	go c.pingLoop(conn)
	return nil
}

// Close tears the channel down for good: it aborts any in-flight dial or
// backoff wait and suppresses further reconnects.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
		_ = conn.Close()
	}
	_ = c.machine.Transition(status.Closed)
	c.logger.Info("realtime channel closed")
}

// Send writes a message out on the live connection. There is no delivery
// confirmation or retry here; callers needing guaranteed delivery use
// the outbox. When not connected this is a logged no-op.
func (c *Channel) Send(m *store.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || c.machine.Current() != status.Connected {
		c.logger.Warn("realtime send while not connected, dropping", zap.String("msg_id", m.ID))
		return nil
	}

	data, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop produces the inbound message sequence until the connection
// dies. Malformed frames are dropped with a log, never fatal.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		msg, perr := ParseFrame(data)
		if perr != nil {
			c.logger.Warn("dropping malformed realtime frame", zap.Error(perr))
			continue
		}
		c.bus.Publish(bus.New(bus.KindRTMessage, msg))
	}
}

// pingLoop sends a liveness ping at a fixed interval while connected.
// Pong enforcement is left to the transport's own failure detection.
func (c *Channel) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		current := c.conn
		c.mu.Unlock()
		if current != conn {
			return
		}
		c.wmu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
		c.wmu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *Channel) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Warn("realtime disconnected", zap.Error(err))
	_ = c.machine.Transition(status.Disconnected)
	c.bus.Publish(bus.New(bus.KindRTDropped, nil))
	c.scheduleReconnect()
}

// scheduleReconnect retries Connect after a fixed delay. No retry cap
// and no backoff growth: eventual connectivity wins over resource
// conservation here.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	base := c.base
	closed := c.closed
	c.mu.Unlock()
	if closed || base == nil {
		return
	}
	go func() {
		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-base.Done():
			return
		}
		if err := c.Connect(base); err != nil && err != ErrClosed {
			c.logger.Warn("realtime reconnect attempt failed", zap.Error(err))
		}
	}()
}
