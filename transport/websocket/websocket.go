// Package websocket provides a transport.Transport implementation using WebSockets.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/localrivet/sandboxsdk/logx"
	"github.com/localrivet/sandboxsdk/protocol"
	"github.com/localrivet/sandboxsdk/transport"
)

// connection is one physical WebSocket. Reads go through r, which may hold
// frames buffered during the handshake.
type connection struct {
	net.Conn
	r    io.Reader
	done chan struct{} // closed when the read loop exits
}

func (c *connection) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// connectAttempt is shared by every caller waiting on the same dial.
type connectAttempt struct {
	reconnect bool
	done      chan struct{}
	err       error
}

// Transport implements transport.Transport over a client WebSocket.
type Transport struct {
	transport.BaseTransport

	opts     Options
	endpoint string // includes the token
	redacted string // safe to log
	logger   logx.Logger

	mu                sync.Mutex
	conn              *connection
	attempt           *connectAttempt
	queue             [][]byte
	closing           bool
	exhausted         bool
	reconnectAttempts int
	reconnectTimer    *time.Timer

	// writeMu serializes frames on the wire, including control replies
	// written by the read loop.
	writeMu sync.Mutex
}

// Ensure Transport implements transport.Transport
var _ transport.Transport = (*Transport)(nil)

// New creates a Transport. No connection is opened until Connect, WaitForReady
// or a queued Send triggers one.
func New(opts Options) (*Transport, error) {
	opts.applyDefaults()

	endpoint, redacted, err := buildEndpoint(opts.URL, opts.Token)
	if err != nil {
		return nil, &transport.Error{Op: "connect", Err: err}
	}

	return &Transport{
		opts:     opts,
		endpoint: endpoint,
		redacted: redacted,
		logger:   opts.Logger,
	}, nil
}

// NewTransport creates a Transport for rawURL with functional options.
func NewTransport(rawURL string, options ...Option) (*Transport, error) {
	opts := Options{URL: rawURL}
	for _, option := range options {
		option(&opts)
	}
	return New(opts)
}

// buildEndpoint normalizes the scheme and attaches the token. The second return
// value is the same URL with the token masked.
func buildEndpoint(rawURL, token string) (string, string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", "", errors.New("empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", errors.New("URL has no host")
	}

	if token == "" {
		s := u.String()
		return s, s, nil
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	endpoint := u.String()

	q.Set("token", "REDACTED")
	u.RawQuery = q.Encode()
	return endpoint, u.String(), nil
}

// Endpoint returns the connection URL with the token redacted.
func (t *Transport) Endpoint() string {
	return t.redacted
}

// Connect opens the connection, joining an attempt already in flight.
func (t *Transport) Connect(ctx context.Context) error {
	return t.WaitForReady(ctx)
}

// WaitForReady blocks until the transport is connected. If no attempt is in
// flight one is started; a pending backoff timer is skipped.
func (t *Transport) WaitForReady(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.closing = false
	a := t.attempt
	if a == nil {
		reconnect := t.reconnectTimer != nil
		a = t.startAttemptLocked(reconnect)
	}
	t.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return &transport.Error{Op: "connect", Endpoint: t.redacted, Err: ctx.Err()}
	}
}

func (t *Transport) startAttemptLocked(reconnect bool) *connectAttempt {
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	a := &connectAttempt{reconnect: reconnect, done: make(chan struct{})}
	t.attempt = a
	go t.dial(a)
	return a
}

func (t *Transport) dial(a *connectAttempt) {
	if a.reconnect {
		t.SetStatus(transport.StatusReconnecting)
	} else {
		t.SetStatus(transport.StatusConnecting)
	}
	t.logger.Info("Connecting to %s", t.redacted)

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.ConnectTimeout)
	defer cancel()

	dialer := ws.Dialer{}
	if t.opts.Header != nil {
		dialer.Header = ws.HandshakeHeaderHTTP(t.opts.Header)
	}

	conn, br, _, err := dialer.Dial(ctx, t.endpoint)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %v: %v", transport.ErrConnectTimeout, t.opts.ConnectTimeout, err)
		}
		t.failAttempt(a, err)
		return
	}

	c := &connection{Conn: conn, r: conn, done: make(chan struct{})}
	if br != nil {
		c.r = br
	}

	t.mu.Lock()
	if t.closing {
		t.attempt = nil
		t.mu.Unlock()
		_ = conn.Close()
		t.SetStatus(transport.StatusDisconnected)
		t.finish(a, &transport.Error{Op: "connect", Endpoint: t.redacted, Err: transport.ErrClosed})
		return
	}
	t.conn = c
	t.attempt = nil
	t.reconnectAttempts = 0
	t.exhausted = false
	queued := t.queue
	t.queue = nil
	// Hold the write lock across the flush so that sends racing with the
	// connect cannot overtake queued envelopes.
	t.writeMu.Lock()
	t.mu.Unlock()

	go t.readLoop(c)

	for i, data := range queued {
		if err := t.writeLocked(context.Background(), c, data); err != nil {
			t.logger.Error("Failed to flush queued message %d/%d: %v", i+1, len(queued), err)
			break
		}
	}
	t.writeMu.Unlock()
	if len(queued) > 0 {
		t.logger.Debug("Flushed %d queued message(s)", len(queued))
	}

	if t.opts.KeepAliveInterval > 0 {
		go t.keepAlive(c)
	}

	t.logger.Info("Connected to %s", t.redacted)
	t.SetStatus(transport.StatusConnected)
	t.finish(a, nil)
}

func (t *Transport) failAttempt(a *connectAttempt, cause error) {
	t.mu.Lock()
	t.attempt = nil
	closing := t.closing
	retry := false
	if a.reconnect && !closing {
		retry = t.scheduleReconnectLocked()
	}
	t.mu.Unlock()

	err := &transport.Error{Op: "connect", Endpoint: t.redacted, Err: cause}
	t.logger.Error("Connection attempt failed: %v", err)
	t.EmitError(err)

	switch {
	case closing:
		t.SetStatus(transport.StatusDisconnected)
	case retry:
		// Status stays reconnecting until the next attempt resolves.
	case a.reconnect:
		t.SetStatus(transport.StatusDisconnected)
	default:
		t.SetStatus(transport.StatusError)
	}
	t.finish(a, err)
}

func (t *Transport) finish(a *connectAttempt, err error) {
	a.err = err
	close(a.done)
}

// scheduleReconnectLocked arms the backoff timer. It reports false once the
// attempt ceiling is reached, leaving the transport exhausted.
func (t *Transport) scheduleReconnectLocked() bool {
	if !t.opts.AutoReconnect {
		return false
	}
	if t.reconnectAttempts >= t.opts.Backoff.MaxAttempts() {
		t.exhausted = true
		t.logger.Warn("Giving up after %d reconnect attempt(s)", t.reconnectAttempts)
		return false
	}
	t.reconnectAttempts++
	delay := t.opts.Backoff.NextDelay(t.reconnectAttempts)
	t.logger.Info("Reconnecting in %v (attempt %d/%d)", delay, t.reconnectAttempts, t.opts.Backoff.MaxAttempts())
	t.reconnectTimer = time.AfterFunc(delay, t.reconnect)
	return true
}

func (t *Transport) reconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnectTimer = nil
	if t.closing || t.conn != nil || t.attempt != nil {
		return
	}
	t.startAttemptLocked(true)
}

// ReconnectAttempts returns the number of reconnect attempts since the last
// successful connection.
func (t *Transport) ReconnectAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reconnectAttempts
}

// Send transmits env. While a connection is pending, or reconnection is
// enabled, the envelope is queued and flushed in order on connect. Otherwise it
// is dropped and ErrDropped is returned.
func (t *Transport) Send(ctx context.Context, env *protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return &transport.Error{Op: "send", Endpoint: t.redacted, Err: err}
	}

	t.mu.Lock()
	c := t.conn
	if c == nil {
		if t.canQueueLocked() {
			t.queue = append(t.queue, data)
			n := len(t.queue)
			t.mu.Unlock()
			t.logger.Debug("Queued %s envelope (%d pending)", env.Type, n)
			return nil
		}
		t.mu.Unlock()
		t.logger.Warn("Dropping %s envelope: not connected and not reconnecting", env.Type)
		return &transport.Error{Op: "send", Endpoint: t.redacted, Err: transport.ErrDropped}
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.writeLocked(ctx, c, data); err != nil {
		return &transport.Error{Op: "send", Endpoint: t.redacted, Err: err}
	}
	return nil
}

// DiscardQueued drops envelopes waiting for the next connection.
func (t *Transport) DiscardQueued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.queue)
	t.queue = nil
	if n > 0 {
		t.logger.Debug("Discarded %d queued message(s)", n)
	}
	return n
}

func (t *Transport) canQueueLocked() bool {
	if t.attempt != nil || t.reconnectTimer != nil {
		return true
	}
	return t.opts.AutoReconnect && !t.closing && !t.exhausted
}

// writeLocked writes one text frame. The caller holds writeMu.
func (t *Transport) writeLocked(ctx context.Context, c *connection, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.opts.WriteTimeout)
	}
	if err := c.SetWriteDeadline(deadline); err != nil {
		t.logger.Warn("Failed to set write deadline: %v", err)
	}

	if t.opts.Debug {
		t.logger.Debug("Send: %s", data)
	}
	err := wsutil.WriteClientMessage(c, ws.OpText, data)

	if resetErr := c.SetWriteDeadline(time.Time{}); resetErr != nil && err == nil {
		t.logger.Warn("Failed to reset write deadline: %v", resetErr)
	}
	if err != nil {
		// Closing the socket makes the read loop observe the failure.
		_ = c.Close()
		return fmt.Errorf("failed to write websocket message: %w", err)
	}
	return nil
}

func (t *Transport) readLoop(c *connection) {
	defer close(c.done)

	controlHandler := wsutil.ControlFrameHandler(c, ws.StateClientSide)
	handleControl := func(h ws.Header, r io.Reader) error {
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		return controlHandler(h, r)
	}
	rd := &wsutil.Reader{
		Source:         c,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: handleControl,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			t.handleDrop(c, err)
			return
		}
		if hdr.OpCode.IsControl() {
			if err := handleControl(hdr, rd); err != nil {
				t.handleDrop(c, err)
				return
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				t.handleDrop(c, err)
				return
			}
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			t.handleDrop(c, err)
			return
		}
		t.handleFrame(data)
	}
}

// handleFrame parses one inbound frame. Malformed frames are logged and dropped,
// pongs are consumed here.
func (t *Transport) handleFrame(data []byte) {
	if len(data) == 0 {
		return
	}
	if t.opts.Debug {
		t.logger.Debug("Received: %s", data)
	}
	t.EmitRaw(data)

	env, err := protocol.Parse(data)
	if err != nil {
		t.logger.Warn("Dropping malformed frame: %v", err)
		return
	}
	if protocol.IsPong(env) {
		t.logger.Debug("Keepalive pong received")
		return
	}
	t.EmitMessage(env)
}

func (t *Transport) handleDrop(c *connection, cause error) {
	t.mu.Lock()
	if t.conn != c {
		// Replaced or deliberately closed.
		t.mu.Unlock()
		return
	}
	t.conn = nil
	_ = c.Close()
	if t.closing {
		t.mu.Unlock()
		return
	}
	reconnect := t.scheduleReconnectLocked()
	t.mu.Unlock()

	var closed wsutil.ClosedError
	if errors.As(cause, &closed) {
		t.logger.Warn("Connection closed by peer (code %d %q)", closed.Code, closed.Reason)
	} else {
		t.logger.Warn("Connection lost: %v", cause)
	}
	t.EmitError(&transport.Error{Op: "receive", Endpoint: t.redacted, Err: cause})

	if reconnect {
		t.SetStatus(transport.StatusReconnecting)
	} else {
		t.SetStatus(transport.StatusDisconnected)
	}
}

func (t *Transport) keepAlive(c *connection) {
	ticker := time.NewTicker(t.opts.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			data, err := protocol.NewPing(now).Marshal()
			if err != nil {
				continue
			}
			t.writeMu.Lock()
			err = t.writeLocked(context.Background(), c, data)
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Warn("Keepalive ping failed: %v", err)
				return
			}
			t.logger.Debug("Keepalive ping sent")
		}
	}
}

// Disconnect closes the connection, cancels any scheduled reconnect and drops
// queued envelopes. The status always ends up disconnected.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.closing = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	c := t.conn
	t.conn = nil
	if n := len(t.queue); n > 0 {
		t.logger.Warn("Discarding %d queued message(s) on disconnect", n)
	}
	t.queue = nil
	t.mu.Unlock()

	if c != nil {
		t.writeMu.Lock()
		if err := c.SetWriteDeadline(time.Now().Add(closeFrameTimeout)); err != nil {
			t.logger.Warn("Failed to set write deadline for close frame: %v", err)
		}
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		if err := wsutil.WriteClientMessage(c, ws.OpClose, body); err != nil {
			t.logger.Debug("Failed to write close frame: %v", err)
		}
		t.writeMu.Unlock()

		if err := c.Close(); err != nil {
			t.logger.Debug("Error closing underlying connection: %v", err)
		}
		t.logger.Info("Disconnected from %s", t.redacted)
	}

	t.SetStatus(transport.StatusDisconnected)
	return nil
}
