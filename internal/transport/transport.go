// Package transport owns one physical websocket connection to the
// gateway: dialing, frame delivery, byte accounting, ping/pong latency
// and close-code classification. It knows nothing about the protocol
// above it; the owning session decides what frames mean.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrAlreadyClosed   = errors.New("transport already closed")
	ErrStaleConnection = errors.New("connection stale (no pong)")
)

// CloseError reports a socket close with the code and reason the server
// sent. The owning session consults the code to decide resumability.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed: code %d (%s)", e.Code, e.Text)
}

// Frame is one raw inbound websocket message.
type Frame struct {
	Data       []byte
	Binary     bool
	ReceivedAt time.Time
}

// Counters reports cumulative transport traffic.
type Counters struct {
	BytesSent      int64
	BytesReceived  int64
	FramesSent     int64
	FramesReceived int64
}

// Config configures a Transport.
type Config struct {
	HandshakeTimeout time.Duration // dial deadline
	WriteTimeout     time.Duration // per-send deadline
	PingInterval     time.Duration // websocket-level keepalive pings
	PongTimeout      time.Duration // max silence before the socket is stale
	HighLatency      time.Duration // RTT above this logs a warning
	BufferSize       int           // inbound frame channel depth
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      90 * time.Second,
		HighLatency:      time.Second,
		BufferSize:       256,
	}
}

// Transport is a single-use websocket connection. A reconnecting
// session discards its transport and dials a fresh one.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	conn *websocket.Conn

	frames chan Frame
	errs   chan error
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu         sync.RWMutex
	connected  bool
	closed     bool
	lastPongAt time.Time
	pingSentAt time.Time
	latency    time.Duration
	counters   Counters
}

// New creates a Transport.
func New(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize == 0 {
		cfg = DefaultConfig()
	}

	return &Transport{
		cfg:    cfg,
		logger: logger,
		frames: make(chan Frame, cfg.BufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Connect opens the websocket. Any previously open socket on this
// transport is torn down first.
func (t *Transport) Connect(ctx context.Context, url string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	prior := t.conn
	t.conn = nil
	t.mu.Unlock()

	if prior != nil {
		prior.Close()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		now := time.Now()
		t.mu.Lock()
		t.lastPongAt = now
		if !t.pingSentAt.IsZero() {
			t.latency = now.Sub(t.pingSentAt)
			if t.latency > t.cfg.HighLatency {
				t.logger.Warn("high round-trip latency", "latency", t.latency)
			}
		}
		t.mu.Unlock()
		return nil
	})

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.lastPongAt = time.Now()
	t.mu.Unlock()

	go t.readLoop(conn)
	go t.pingLoop(conn)

	t.logger.Debug("websocket connected", "url", url)
	return nil
}

// Send queues one message for transmission. Fails fast when the socket
// is not open.
func (t *Transport) Send(data []byte, binary bool) error {
	t.mu.RLock()
	conn := t.conn
	connected := t.connected
	t.mu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	msgType := websocket.TextMessage
	if binary {
		msgType = websocket.BinaryMessage
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := conn.WriteMessage(msgType, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	t.mu.Lock()
	t.counters.BytesSent += int64(len(data))
	t.counters.FramesSent++
	t.mu.Unlock()

	return nil
}

// Close shuts the socket down with the given close code and releases
// the read and ping loops. Idempotent.
func (t *Transport) Close(code int, text string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	conn := t.conn
	t.mu.Unlock()

	close(t.done)

	if conn != nil {
		t.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// Frames returns the inbound frame channel.
func (t *Transport) Frames() <-chan Frame { return t.frames }

// Errors returns the connection error channel.
func (t *Transport) Errors() <-chan error { return t.errs }

// IsConnected returns the current connection state.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Latency returns the last measured ping round-trip time.
func (t *Transport) Latency() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latency
}

// Stats returns cumulative traffic counters.
func (t *Transport) Stats() Counters {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counters
}

// readLoop reads messages until the socket fails or Close is called.
func (t *Transport) readLoop(conn *websocket.Conn) {
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	for {
		select {
		case <-t.done:
			return
		default:
		}

		msgType, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-t.done:
				// Errors after Close are expected; drop them.
				return
			default:
			}
			t.reportError(classifyReadError(err))
			return
		}

		t.mu.Lock()
		t.counters.BytesReceived += int64(len(data))
		t.counters.FramesReceived++
		t.mu.Unlock()

		frame := Frame{
			Data:       data,
			Binary:     msgType == websocket.BinaryMessage,
			ReceivedAt: receivedAt,
		}

		select {
		case t.frames <- frame:
		case <-t.done:
			return
		}
	}
}

// pingLoop sends keepalive pings and detects dead peers.
func (t *Transport) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.Lock()
			t.pingSentAt = time.Now()
			lastPong := t.lastPongAt
			t.mu.Unlock()

			deadline := time.Now().Add(t.cfg.WriteTimeout)
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, deadline)
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug("failed to send ping", "error", err)
			}

			if time.Since(lastPong) > t.cfg.PongTimeout {
				t.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", t.cfg.PongTimeout,
				)
				t.reportError(ErrStaleConnection)
				return
			}
		}
	}
}

// reportError delivers one error without blocking; the first error wins.
func (t *Transport) reportError(err error) {
	select {
	case t.errs <- err:
	default:
	}
}

// classifyReadError converts websocket close errors into CloseError so
// the session can consult the close code.
func classifyReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Text: ce.Text}
	}
	return fmt.Errorf("read frame: %w", err)
}
