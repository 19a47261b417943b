// Package session implements the per-shard session state machine: one
// goroutine per shard that owns the transport, decompression engine and
// codec for its connection, drives the heartbeat and identify/resume
// handshake, and forwards dispatches upward in strict arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rickgao/gateway/internal/compress"
	"github.com/rickgao/gateway/internal/payload"
	"github.com/rickgao/gateway/internal/ratelimit"
	"github.com/rickgao/gateway/internal/transport"
)

// Errors
var (
	ErrNotConnected       = errors.New("session not connected")
	ErrSessionDestroyed   = errors.New("session destroyed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrInvalidShard       = errors.New("invalid shard configuration")
)

// fatalError marks a connection failure that must not be retried.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// errCleanClose signals a server-initiated normal closure. The session
// stops without treating it as a failure.
var errCleanClose = errors.New("server closed connection normally")

// Config configures one shard session.
type Config struct {
	ShardID    int
	ShardCount int

	Token   string
	Intents int64

	// GatewayURL is the initial connect endpoint. Resumes prefer the
	// resume URL announced in READY when one is known.
	GatewayURL string
	Version    int // gateway API version, default 10

	Encoding    payload.Encoding
	Compression compress.Mode

	LargeThreshold int // default 50
	Presence       *payload.PresenceUpdateData

	// MaxReconnectAttempts bounds consecutive failed connection
	// attempts; a successful handshake resets the count. Default 10.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration // default 1s
	ReconnectMaxDelay    time.Duration // default 30s

	Transport    transport.Config
	MaxChunkSize int
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 10
	}
	if c.LargeThreshold == 0 {
		c.LargeThreshold = 50
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.Transport.BufferSize == 0 {
		c.Transport = transport.DefaultConfig()
	}
}

// Info is a point-in-time snapshot of one session.
type Info struct {
	ShardID    int
	ShardCount int
	Status     Status
	SessionID  string
	Seq        int64
	Guilds     int
	Reconnects int64

	// HeartbeatLatency is the last heartbeat round trip; PingLatency is
	// the websocket-level ping round trip.
	HeartbeatLatency time.Duration
	PingLatency      time.Duration

	Encoding    string
	Compression compress.Mode
	Traffic     transport.Counters
	Compressed  compress.Stats
}

// Session is one shard's connection lifecycle. All protocol handling
// runs on a single goroutine started by Start; exported methods only
// read snapshots or enqueue work through the transport.
type Session struct {
	cfg      Config
	logger   *slog.Logger
	gov      *ratelimit.Governor
	codec    payload.Codec
	handlers Handlers

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	status     Status
	seq        int64
	seqValid   bool
	sessionID  string
	resumeURL  string
	guilds     int
	reconnects int64
	hbLatency  time.Duration
	traffic    transport.Counters
	compressed compress.Stats
	tr         *transport.Transport
	destroyed  bool
	started    bool
}

// New creates a session. The governor is shared across all shards of
// the process; it must not be nil.
func New(cfg Config, gov *ratelimit.Governor, handlers Handlers, logger *slog.Logger) (*Session, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.ShardCount < 1 || cfg.ShardID < 0 || cfg.ShardID >= cfg.ShardCount {
		return nil, fmt.Errorf("%w: shard %d of %d", ErrInvalidShard, cfg.ShardID, cfg.ShardCount)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidShard)
	}
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("%w: empty gateway url", ErrInvalidShard)
	}
	if gov == nil {
		return nil, errors.New("nil governor")
	}

	codec, err := payload.NewCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	eng, err := compress.New(cfg.Compression, compress.Options{})
	if err != nil {
		return nil, err
	}
	if eng != nil {
		eng.Close()
	}

	return &Session{
		cfg:      cfg,
		logger:   logger.With("shard_id", cfg.ShardID),
		gov:      gov,
		codec:    codec,
		handlers: handlers,
		status:   StatusIdle,
	}, nil
}

// Start launches the session goroutine. It returns immediately; the
// handshake outcome arrives through notifications.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrSessionDestroyed
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Destroy tears the session down: the run goroutine stops, the socket
// closes with a normal closure so the server discards the session, and
// all state is final. Destroy blocks until the goroutine exits.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.destroyed = true
	cancel := s.cancel
	tr := s.tr
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		tr.Close(1000, "")
	}
	s.wg.Wait()

	s.mu.Lock()
	s.status = StatusDestroyed
	s.mu.Unlock()
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ShardID:          s.cfg.ShardID,
		ShardCount:       s.cfg.ShardCount,
		Status:           s.status,
		SessionID:        s.sessionID,
		Guilds:           s.guilds,
		Reconnects:       s.reconnects,
		HeartbeatLatency: s.hbLatency,
		Encoding:         s.codec.Name(),
		Compression:      s.cfg.Compression,
		Traffic:          s.traffic,
		Compressed:       s.compressed,
	}
	if s.seqValid {
		info.Seq = s.seq
	} else {
		info.Seq = -1
	}
	if s.tr != nil {
		info.PingLatency = s.tr.Latency()
		live := s.tr.Stats()
		info.Traffic.BytesSent += live.BytesSent
		info.Traffic.BytesReceived += live.BytesReceived
		info.Traffic.FramesSent += live.FramesSent
		info.Traffic.FramesReceived += live.FramesReceived
	}
	return info
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Send encodes and transmits one command, debiting the shared command
// budget first. It blocks while the budget is exhausted.
func (s *Session) Send(ctx context.Context, cmd *payload.Command) error {
	if err := s.gov.Acquire(ctx, commandBucket); err != nil {
		return err
	}

	s.mu.RLock()
	tr := s.tr
	connected := s.status == StatusConnected
	s.mu.RUnlock()
	if tr == nil || !connected {
		return ErrNotConnected
	}

	data, err := s.codec.Encode(cmd)
	if err != nil {
		return err
	}
	return tr.Send(data, s.codec.Binary())
}

// RequestGuildMembers asks for member chunks and returns the request
// nonce carried by the resulting GUILD_MEMBERS_CHUNK dispatches.
func (s *Session) RequestGuildMembers(ctx context.Context, d payload.RequestGuildMembersData) (string, error) {
	cmd, nonce := payload.RequestGuildMembers(d)
	if err := s.Send(ctx, cmd); err != nil {
		return "", err
	}
	return nonce, nil
}

// UpdatePresence replaces the shard's presence.
func (s *Session) UpdatePresence(ctx context.Context, d payload.PresenceUpdateData) error {
	return s.Send(ctx, payload.UpdatePresence(d))
}

// UpdateVoiceState joins, moves or leaves a voice channel.
func (s *Session) UpdateVoiceState(ctx context.Context, d payload.VoiceStateUpdateData) error {
	return s.Send(ctx, payload.UpdateVoiceState(d))
}

// RequestSoundboardSounds asks for the soundboard sounds of the given
// guilds.
func (s *Session) RequestSoundboardSounds(ctx context.Context, guildIDs []string) error {
	return s.Send(ctx, payload.RequestSoundboardSounds(guildIDs))
}

// commandBucket is the shared token bucket key for outbound traffic.
const commandBucket = "gateway:commands"

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Session) isDestroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}

// canResume reports whether a session id and sequence are on hand.
func (s *Session) canResume() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID != "" && s.seqValid
}

// clearResumeState drops the resume handle. The next connection
// identifies from scratch and sequence numbering restarts.
func (s *Session) clearResumeState() {
	s.mu.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.seq = 0
	s.seqValid = false
	s.mu.Unlock()
}

// connectURL builds the dial URL with version, encoding and compression
// query parameters. Resuming sessions prefer the announced resume URL.
func (s *Session) connectURL(resuming bool) string {
	base := s.cfg.GatewayURL
	if resuming {
		s.mu.RLock()
		if s.resumeURL != "" {
			base = s.resumeURL
		}
		s.mu.RUnlock()
	}

	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(s.cfg.Version))
	q.Set("encoding", s.codec.Name())
	if s.cfg.Compression != compress.ModeNone && s.cfg.Compression != "" {
		q.Set("compress", string(s.cfg.Compression))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Session) notify(n Notification) {
	n.ShardID = s.cfg.ShardID
	if s.handlers.OnNotify != nil {
		s.handlers.OnNotify(n)
	}
}

func (s *Session) dispatch(d Dispatch) {
	d.ShardID = s.cfg.ShardID
	if s.handlers.OnDispatch != nil {
		s.handlers.OnDispatch(d)
	}
}
