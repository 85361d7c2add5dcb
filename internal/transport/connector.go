package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/auth"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/status"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 4 << 20
)

// ErrTokenRejected reports that the server rejected an access token the
// connector had just refreshed.
var ErrTokenRejected = errors.New("server rejected the refreshed access token")

// Credentials is what the connector needs from the session.
type Credentials interface {
	AccessToken() string
	Valid() bool
	Refresh(ctx context.Context) error
	Invalidate()
	Logout()
}

// Config tunes the connector.
type Config struct {
	URL          string
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	PingInterval time.Duration // zero disables keepalive
}

// DefaultConfig returns the stock reconnect policy for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		BaseDelay:    time.Second,
		MaxDelay:     10 * time.Second,
		MaxAttempts:  5,
		PingInterval: 30 * time.Second,
	}
}

// Option customizes a Connector.
type Option func(*Connector)

// WithAfterFunc replaces the timer used to schedule reconnects.
func WithAfterFunc(f AfterFunc) Option {
	return func(c *Connector) { c.afterFunc = f }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Connector) { c.dialer = d }
}

// Connector owns the single WebSocket connection: connect, reconnect with
// backoff, and outbound framing. Its state machine lives in status.Machine.
type Connector struct {
	cfg       Config
	creds     Credentials
	queue     *outbox.Queue
	status    *status.Machine
	bus       *bus.Bus
	logger    *zap.Logger
	metrics   *metrics.Metrics
	dialer    *websocket.Dialer
	afterFunc AfterFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	handler  func([]byte)
	attempt  int
	rejected int  // invalid-token reports since the last accepted frame
	halted   bool // retries exhausted or session gone; only Connect clears it
	closed   bool // deliberate Close; suppresses reconnect
	dialing  bool
	timer    Stopper
	timerGen uint64
}

// New creates a disconnected connector.
func New(cfg Config, creds Credentials, q *outbox.Queue, st *status.Machine, b *bus.Bus, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Connector{
		cfg:       cfg,
		creds:     creds,
		queue:     q,
		status:    st,
		bus:       b,
		logger:    logger,
		metrics:   m,
		dialer:    &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 15 * time.Second},
		afterFunc: realAfterFunc,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHandler installs the callback receiving every inbound frame, in delivery order.
func (c *Connector) SetHandler(h func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// State returns the current connection state.
func (c *Connector) State() status.State {
	return c.status.Current()
}

// Connect resets the retry budget and dials. It never fails: a failed dial
// becomes a scheduled retry, and a lost session becomes a notification.
func (c *Connector) Connect(ctx context.Context) {
	c.mu.Lock()
	c.attempt = 0
	c.rejected = 0
	c.halted = false
	c.closed = false
	c.stopTimerLocked()
	c.mu.Unlock()

	c.dial(ctx)
}

// Send writes cmd, or queues it while no connection is open.
func (c *Connector) Send(cmd protocol.Command) {
	c.mu.Lock()
	if c.conn == nil {
		n := c.queue.Push(cmd)
		c.mu.Unlock()
		c.logger.Debug("command queued", zap.String("source", cmd.Source()), zap.Int("queued", n))
		c.bus.Notify(bus.Notification{
			Kind:  bus.NotifyQueued,
			Title: "Waiting for connection",
			Body:  fmt.Sprintf("%d pending", n),
		})
		return
	}
	conn := c.conn
	err := c.writeLocked(cmd)
	if err != nil {
		// Unpublish the connection before unlocking so later sends queue
		// behind this one instead of failing on the dead socket.
		c.conn = nil
		c.queue.PushFront(cmd)
	}
	c.mu.Unlock()

	if err != nil {
		c.dropped(conn, err)
	}
}

// Close tears the connection down on purpose. No reconnect follows, and a
// pending reconnect timer is cancelled.
func (c *Connector) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	conn := c.conn
	c.conn = nil
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.status.Reset()
}

// Discard drops every command waiting for a connection. The logout path calls
// it so one account's offline commands never reach the next account's socket.
func (c *Connector) Discard() {
	if n := len(c.queue.Drain()); n > 0 {
		c.logger.Info("outbound queue discarded", zap.Int("commands", n))
	}
}

// Reauthenticate drops the connection and the access token, then reconnects
// with a refreshed token. A second rejection before any frame is accepted
// means the refreshed token is no good either, and the session is ended.
func (c *Connector) Reauthenticate() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.rejected++
	again := c.rejected > 1
	conn := c.conn
	c.conn = nil
	c.stopTimerLocked()
	c.mu.Unlock()

	c.creds.Invalidate()
	if conn != nil {
		_ = conn.Close()
	}
	c.status.Reset()
	if again {
		c.authFailed(ErrTokenRejected)
		return
	}
	c.dial(context.Background())
}

func (c *Connector) dial(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.halted || c.conn != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	c.dialing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
	}()

	if err := c.status.Transition(status.Connecting); err != nil {
		c.logger.Debug("state transition skipped", zap.Error(err))
	}

	if !c.creds.Valid() {
		if err := c.creds.Refresh(ctx); err != nil {
			c.authFailed(err)
			return
		}
	}

	target, err := c.endpoint()
	if err != nil {
		c.logger.Error("invalid socket url", zap.Error(err))
		c.status.Reset()
		return
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.creds.Invalidate()
		}
		c.status.Reset()
		c.logger.Warn("dial failed", zap.Error(err))
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		c.status.Reset()
		return
	}
	c.conn = conn
	c.attempt = 0
	if err := c.status.Transition(status.Open); err != nil {
		c.logger.Debug("state transition skipped", zap.Error(err))
	}
	if err := c.resyncLocked(); err != nil {
		c.conn = nil
		c.mu.Unlock()
		c.dropped(conn, err)
		return
	}
	c.mu.Unlock()

	c.logger.Info("connected")
	go c.readLoop(conn)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(conn)
	}
}

// resyncLocked requests the snapshots, then drains the queue in order. It runs
// in the same critical section that published the connection, so no Send
// can slip in between.
func (c *Connector) resyncLocked() error {
	for _, cmd := range protocol.Resync() {
		if err := c.writeLocked(cmd); err != nil {
			return err
		}
	}
	pending := c.queue.Drain()
	for i, cmd := range pending {
		if err := c.writeLocked(cmd); err != nil {
			c.queue.PushFront(pending[i:]...)
			return err
		}
	}
	if len(pending) > 0 {
		c.logger.Info("outbound queue flushed", zap.Int("commands", len(pending)))
	}
	return nil
}

func (c *Connector) writeLocked(cmd protocol.Command) error {
	frame, err := protocol.Encode(cmd)
	if err != nil {
		c.logger.Error("dropping unencodable command", zap.String("source", cmd.Source()), zap.Error(err))
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Connector) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", c.creds.AccessToken())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Connector) authFailed(err error) {
	c.status.Reset()
	c.logger.Warn("token refresh failed", zap.Error(err))
	c.bus.Notify(bus.Notification{
		Kind:  bus.NotifyAuthFailed,
		Title: "Authentication failed",
		Body:  err.Error(),
	})
	if errors.Is(err, auth.ErrRefreshRejected) || errors.Is(err, auth.ErrNoRefreshToken) || errors.Is(err, ErrTokenRejected) {
		c.mu.Lock()
		c.halted = true
		c.stopTimerLocked()
		c.mu.Unlock()
		c.Discard()
		c.creds.Logout()
		return
	}
	c.scheduleReconnect()
}

func (c *Connector) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	c.extendDeadline(conn)
	conn.SetPongHandler(func(string) error {
		c.extendDeadline(conn)
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, err)
			return
		}
		c.extendDeadline(conn)

		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			h(data)
		}

		// A handler that reauthenticated has replaced conn.
		c.mu.Lock()
		if c.conn == conn {
			c.rejected = 0
		}
		c.mu.Unlock()
	}
}

func (c *Connector) extendDeadline(conn *websocket.Conn) {
	if c.cfg.PingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * c.cfg.PingInterval))
	}
}

func (c *Connector) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		current := c.conn == conn
		c.mu.Unlock()
		if !current {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			c.handleDrop(conn, err)
			return
		}
	}
}

// handleDrop reacts to the loss of conn. Drops of a connection that was
// already replaced or closed on purpose are ignored.
func (c *Connector) handleDrop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	c.dropped(conn, cause)
}

// dropped finishes the teardown of a connection already unpublished from c.conn.
func (c *Connector) dropped(conn *websocket.Conn, cause error) {
	_ = conn.Close()
	c.status.Reset()
	c.logger.Warn("connection lost", zap.Error(cause))
	c.scheduleReconnect()
}

func (c *Connector) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.halted {
		return
	}
	c.attempt++
	if c.attempt > c.cfg.MaxAttempts {
		c.halted = true
		c.logger.Error("reconnect attempts exhausted", zap.Int("max_attempts", c.cfg.MaxAttempts))
		c.bus.Notify(bus.Notification{
			Kind:  bus.NotifyConnectionFailed,
			Title: "Connection failed",
			Body:  "Could not reach the server. Retry when the network is back.",
		})
		return
	}

	delay := Backoff(c.attempt, c.cfg.BaseDelay, c.cfg.MaxDelay)
	c.stopTimerLocked()
	gen := c.timerGen
	c.timer = c.afterFunc(delay, func() { c.fire(gen) })
	c.metrics.ReconnectScheduled()
	c.logger.Info("reconnect scheduled", zap.Int("attempt", c.attempt), zap.Duration("delay", delay))
}

func (c *Connector) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.timerGen || c.closed || c.halted {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()
	c.dial(context.Background())
}

// stopTimerLocked cancels the pending reconnect. Bumping the generation turns
// a callback that already started into a no-op.
func (c *Connector) stopTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
