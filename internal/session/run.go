package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rickgao/gateway/internal/compress"
	"github.com/rickgao/gateway/internal/payload"
	"github.com/rickgao/gateway/internal/ratelimit"
	"github.com/rickgao/gateway/internal/transport"
)

var (
	errZombie          = errors.New("zombied connection (heartbeat ack missed)")
	errServerReconnect = errors.New("server requested reconnect")
)

// conn is the state of one connection attempt. It lives entirely on the
// run goroutine.
type conn struct {
	tr     *transport.Transport
	engine compress.Engine

	hb          *time.Timer
	hbInterval  time.Duration
	awaitingAck bool
	beatSentAt  time.Time

	handshakeOK bool

	// Close code sent when the connection winds down. Non-1000 codes
	// keep the session resumable on the server side.
	closeCode int
	closeText string
}

// run owns the reconnect loop: dial, drive the connection until it
// ends, classify the failure, back off, repeat. Successful handshakes
// reset the attempt budget.
func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()

	attempts := 0
	delay := s.cfg.ReconnectBaseDelay

	for {
		c := &conn{}
		err := s.connect(ctx, c)

		if ctx.Err() != nil || s.isDestroyed() {
			s.setStatus(StatusDisconnected)
			return
		}
		if c.handshakeOK {
			attempts = 0
			delay = s.cfg.ReconnectBaseDelay
		}

		if err == nil || errors.Is(err, errCleanClose) {
			s.logger.Info("session closed")
			s.setStatus(StatusDisconnected)
			return
		}

		var fe *fatalError
		if errors.As(err, &fe) {
			s.logger.Error("unrecoverable gateway failure", "error", fe.err)
			s.notify(Notification{Type: NotifyError, Err: fe.err})
			s.setStatus(StatusDisconnected)
			return
		}

		attempts++
		if attempts > s.cfg.MaxReconnectAttempts {
			err = fmt.Errorf("%w: %d attempts, last error: %v",
				ErrReconnectExhausted, attempts-1, err)
			s.logger.Error("giving up on reconnect", "error", err)
			s.notify(Notification{Type: NotifyError, Err: err})
			s.setStatus(StatusDisconnected)
			return
		}

		s.mu.Lock()
		s.reconnects++
		s.status = StatusReconnecting
		s.mu.Unlock()
		s.notify(Notification{Type: NotifyReconnecting})
		s.logger.Warn("reconnecting",
			"attempt", attempts,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setStatus(StatusDisconnected)
			return
		case <-timer.C:
		}
		delay *= 2
		if delay > s.cfg.ReconnectMaxDelay {
			delay = s.cfg.ReconnectMaxDelay
		}
	}
}

// connect dials a fresh socket with a fresh decompression engine and
// runs the event loop until the connection ends. Everything protocol
// related happens here, on one goroutine, so frames for this shard are
// handled strictly in arrival order.
func (s *Session) connect(ctx context.Context, c *conn) error {
	engine, err := compress.New(s.cfg.Compression, compress.Options{MaxChunkSize: s.cfg.MaxChunkSize})
	if err != nil {
		return &fatalError{err}
	}
	c.engine = engine
	if engine != nil {
		defer engine.Close()
	}

	resuming := s.canResume()
	if resuming {
		s.setStatus(StatusResuming)
	} else {
		s.setStatus(StatusConnecting)
		s.notify(Notification{Type: NotifyConnecting})
	}

	c.tr = transport.New(s.cfg.Transport, s.logger)
	s.mu.Lock()
	s.tr = c.tr
	s.mu.Unlock()

	if err := c.tr.Connect(ctx, s.connectURL(resuming)); err != nil {
		s.collect(c)
		return err
	}

	c.closeCode, c.closeText = 4000, "reconnecting"
	defer func() {
		c.tr.Close(c.closeCode, c.closeText)
		s.collect(c)
	}()

	// Armed for real once hello announces the interval.
	c.hb = time.NewTimer(time.Hour)
	defer c.hb.Stop()

	for {
		select {
		case <-ctx.Done():
			c.closeCode, c.closeText = 1000, ""
			return nil

		case frame := <-c.tr.Frames():
			if err := s.handleFrame(ctx, c, frame); err != nil {
				return err
			}

		case err := <-c.tr.Errors():
			return s.classifyDisconnect(err)

		case <-c.hb.C:
			if c.awaitingAck {
				s.logger.Warn("heartbeat ack missed, connection is a zombie")
				s.clearResumeState()
				c.closeCode, c.closeText = 1000, "zombied connection"
				return errZombie
			}
			if err := s.beat(ctx, c); err != nil {
				return err
			}
			c.hb.Reset(c.hbInterval)
		}
	}
}

// handleFrame decompresses, decodes and interprets one inbound frame.
// Codec failures drop the frame; decompression failures end the
// connection.
func (s *Session) handleFrame(ctx context.Context, c *conn, frame transport.Frame) error {
	data := frame.Data
	if c.engine != nil {
		out, err := c.engine.Decompress(data)
		if err != nil {
			s.logger.Error("decompression failed, resetting connection", "error", err)
			return err
		}
		if out == nil {
			return nil
		}
		data = out
	}

	env, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Warn("dropping undecodable frame", "error", err)
		return nil
	}

	switch env.Op {
	case payload.OpHello:
		return s.handleHello(ctx, c, env)

	case payload.OpHeartbeat:
		// The server may demand an immediate beat at any time.
		if err := s.beat(ctx, c); err != nil {
			return err
		}
		if c.hbInterval > 0 {
			c.hb.Reset(c.hbInterval)
		}
		return nil

	case payload.OpHeartbeatACK:
		c.awaitingAck = false
		s.mu.Lock()
		s.hbLatency = time.Since(c.beatSentAt)
		s.mu.Unlock()
		return nil

	case payload.OpDispatch:
		s.handleDispatch(c, env, frame.ReceivedAt)
		return nil

	case payload.OpReconnect:
		s.logger.Info("server requested reconnect")
		return errServerReconnect

	case payload.OpInvalidSession:
		return s.handleInvalidSession(ctx, c, env)

	default:
		s.logger.Debug("ignoring unexpected opcode", "op", int(env.Op))
		return nil
	}
}

// handleHello starts the heartbeat cycle and authenticates. The first
// beat lands at a random point inside the interval so a fleet of shards
// does not thump in unison.
func (s *Session) handleHello(ctx context.Context, c *conn, env *payload.Envelope) error {
	var hello payload.HelloData
	if err := json.Unmarshal(env.Data, &hello); err != nil {
		return fmt.Errorf("malformed hello: %w", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return fmt.Errorf("malformed hello: interval %dms", hello.HeartbeatInterval)
	}
	c.hbInterval = time.Duration(hello.HeartbeatInterval) * time.Millisecond
	c.hb.Reset(time.Duration(rand.Float64() * float64(c.hbInterval)))

	s.logger.Debug("hello received", "heartbeat_interval", c.hbInterval)
	return s.authenticate(ctx, c)
}

// authenticate resumes when a session handle is on hand, otherwise
// waits for an identify slot and identifies from scratch.
func (s *Session) authenticate(ctx context.Context, c *conn) error {
	if s.canResume() {
		s.setStatus(StatusResuming)
		s.mu.RLock()
		sessionID, seq := s.sessionID, s.seq
		s.mu.RUnlock()

		s.logger.Info("resuming session", "session_id", sessionID, "seq", seq)
		return s.sendOn(ctx, c.tr, payload.Resume(s.cfg.Token, sessionID, seq))
	}

	if err := s.gov.AcquireIdentify(ctx, s.cfg.ShardID); err != nil {
		if errors.Is(err, ratelimit.ErrGovernorAborted) {
			return &fatalError{err}
		}
		return err
	}

	s.logger.Info("identifying", "shard_count", s.cfg.ShardCount)
	return s.sendOn(ctx, c.tr, payload.Identify(payload.IdentifyData{
		Token:          s.cfg.Token,
		Intents:        s.cfg.Intents,
		Shard:          [2]int{s.cfg.ShardID, s.cfg.ShardCount},
		LargeThreshold: s.cfg.LargeThreshold,
		Presence:       s.cfg.Presence,
	}))
}

// handleInvalidSession waits out the mandatory random pause and then
// re-authenticates on the same connection.
func (s *Session) handleInvalidSession(ctx context.Context, c *conn, env *payload.Envelope) error {
	resumable := payload.InvalidSession(env.Data)
	s.logger.Warn("session invalidated", "resumable", resumable)
	if !resumable {
		s.clearResumeState()
	}

	wait := time.Second + time.Duration(rand.Float64()*float64(4*time.Second))
	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}
	return s.authenticate(ctx, c)
}

// handleDispatch records the sequence number, intercepts the handshake
// completions and forwards the event upward.
func (s *Session) handleDispatch(c *conn, env *payload.Envelope, receivedAt time.Time) {
	var seq int64 = -1
	if env.Seq != nil {
		seq = *env.Seq
		s.mu.Lock()
		s.seq = seq
		s.seqValid = true
		s.mu.Unlock()
	}

	switch env.Event {
	case "READY":
		var ready payload.ReadyData
		if err := json.Unmarshal(env.Data, &ready); err != nil {
			s.logger.Error("malformed READY dispatch", "error", err)
			break
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
		s.guilds = len(ready.Guilds)
		s.status = StatusConnected
		s.mu.Unlock()
		c.handshakeOK = true

		s.logger.Info("shard ready",
			"session_id", ready.SessionID,
			"guilds", len(ready.Guilds),
		)
		s.notify(Notification{Type: NotifyReady})

	case "RESUMED":
		s.setStatus(StatusConnected)
		c.handshakeOK = true
		s.logger.Info("session resumed")
		s.notify(Notification{Type: NotifyResumed})
	}

	s.dispatch(Dispatch{Event: env.Event, Data: env.Data, Seq: seq, ReceivedAt: receivedAt})
}

// classifyDisconnect turns a transport failure into a reconnect
// decision: fatal close codes stop the session, non-resumable ones drop
// the resume handle, everything else retries with state intact.
func (s *Session) classifyDisconnect(err error) error {
	var ce *transport.CloseError
	if !errors.As(err, &ce) {
		return err
	}

	code := payload.CloseCode(ce.Code)
	s.notify(Notification{Type: NotifyDisconnect, CloseCode: ce.Code})
	s.logger.Warn("gateway closed connection", "code", ce.Code, "reason", ce.Text)

	switch {
	case code.Fatal():
		s.clearResumeState()
		return &fatalError{err}
	case ce.Code == 1000 || ce.Code == 1001:
		s.clearResumeState()
		return errCleanClose
	case !code.Resumable():
		s.clearResumeState()
	}
	return err
}

// beat sends one heartbeat through the shared command budget.
func (s *Session) beat(ctx context.Context, c *conn) error {
	s.mu.RLock()
	var seq *int64
	if s.seqValid {
		v := s.seq
		seq = &v
	}
	s.mu.RUnlock()

	if err := s.sendOn(ctx, c.tr, payload.Heartbeat(seq)); err != nil {
		return err
	}
	c.awaitingAck = true
	c.beatSentAt = time.Now()
	return nil
}

// sendOn transmits a command on a specific transport, used by the run
// goroutine before the session reaches the connected state.
func (s *Session) sendOn(ctx context.Context, tr *transport.Transport, cmd *payload.Command) error {
	if err := s.gov.Acquire(ctx, commandBucket); err != nil {
		return err
	}
	data, err := s.codec.Encode(cmd)
	if err != nil {
		return err
	}
	return tr.Send(data, s.codec.Binary())
}

// collect folds the dead connection's counters into the session totals
// and detaches the transport.
func (s *Session) collect(c *conn) {
	traffic := c.tr.Stats()
	var compressed compress.Stats
	if c.engine != nil {
		compressed = c.engine.Stats()
	}

	s.mu.Lock()
	s.traffic.BytesSent += traffic.BytesSent
	s.traffic.BytesReceived += traffic.BytesReceived
	s.traffic.FramesSent += traffic.FramesSent
	s.traffic.FramesReceived += traffic.FramesReceived
	s.compressed.BytesIn += compressed.BytesIn
	s.compressed.BytesOut += compressed.BytesOut
	s.compressed.Frames += compressed.Frames
	if s.tr == c.tr {
		s.tr = nil
	}
	s.mu.Unlock()
}
