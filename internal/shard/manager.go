package shard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/gateway/internal/ratelimit"
	"github.com/rickgao/gateway/internal/session"
)

// FleetStats aggregates the whole fleet.
type FleetStats struct {
	ShardCount int
	Connected  int
	Guilds     int
	Reconnects int64
	Shards     []session.Info
	Dispatch   BufferStats
}

// Manager owns the fleet of shard sessions for one process. All shards
// share one rate-limit governor and deliver dispatches into one buffer.
type Manager struct {
	opts   Options
	logger *slog.Logger
	gov    *ratelimit.Governor

	dispatches *Buffer[session.Dispatch]
	notes      chan session.Notification

	mu        sync.RWMutex
	sessions  map[int]*session.Session
	spawned   bool
	destroyed bool
	cursor    int // round-robin position over opts.ShardIDs
}

// NewManager creates a manager. Spawn actually connects the shards.
func NewManager(opts Options, logger *slog.Logger) (*Manager, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		opts:       opts,
		logger:     logger,
		gov:        ratelimit.New(opts.RateLimit, logger),
		dispatches: NewBuffer[session.Dispatch](opts.DispatchBufferSize),
		notes:      make(chan session.Notification, opts.NotifyBufferSize),
		sessions:   make(map[int]*session.Session),
	}, nil
}

// Spawn brings up every shard this process owns, bucket by bucket: all
// shards of one identify bucket start in parallel, successive buckets
// are separated by the spawn delay.
func (m *Manager) Spawn(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrManagerDestroyed
	}
	if m.spawned {
		m.mu.Unlock()
		return ErrAlreadySpawned
	}
	m.spawned = true
	m.mu.Unlock()

	buckets := spawnBuckets(m.opts.ShardIDs, m.opts.MaxConcurrency)
	m.logger.Info("spawning shards",
		"shard_count", m.opts.ShardCount,
		"shards", len(m.opts.ShardIDs),
		"buckets", len(buckets),
		"max_concurrency", m.opts.MaxConcurrency,
	)

	for i, bucket := range buckets {
		if i > 0 {
			timer := time.NewTimer(m.opts.SpawnDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		// Sessions outlive the spawn call, so they start under the
		// caller's context, not a group-scoped one.
		var g errgroup.Group
		for _, id := range bucket {
			id := id
			g.Go(func() error {
				sess, err := m.startSession(ctx, id)
				if err != nil {
					return fmt.Errorf("shard %d: %w", id, err)
				}
				m.mu.Lock()
				m.sessions[id] = sess
				m.mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// startSession builds and starts one shard session wired into the
// shared dispatch buffer and notification channel.
func (m *Manager) startSession(ctx context.Context, id int) (*session.Session, error) {
	cfg := session.Config{
		ShardID:              id,
		ShardCount:           m.opts.ShardCount,
		Token:                m.opts.Token,
		Intents:              m.opts.Intents,
		GatewayURL:           m.opts.GatewayURL,
		Encoding:             m.opts.Encoding,
		Compression:          m.opts.Compression,
		LargeThreshold:       m.opts.LargeThreshold,
		Presence:             m.opts.Presence,
		MaxReconnectAttempts: m.opts.MaxReconnectAttempts,
		ReconnectBaseDelay:   m.opts.ReconnectBaseDelay,
		ReconnectMaxDelay:    m.opts.ReconnectMaxDelay,
		Transport:            m.opts.Transport,
	}

	sess, err := session.New(cfg, m.gov, session.Handlers{
		OnDispatch: func(d session.Dispatch) {
			m.dispatches.Send(d)
		},
		OnNotify: func(n session.Notification) {
			select {
			case m.notes <- n:
			default:
				m.logger.Warn("notification dropped, channel full",
					"type", n.Type, "shard_id", n.ShardID)
			}
		},
	}, m.logger)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// RespawnShard replaces one shard with graceful handoff: the new
// session comes up first and the old one keeps serving until the
// replacement is connected or the handoff timeout passes.
func (m *Manager) RespawnShard(ctx context.Context, id int) error {
	m.mu.RLock()
	old, ok := m.sessions[id]
	destroyed := m.destroyed
	m.mu.RUnlock()
	if destroyed {
		return ErrManagerDestroyed
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownShard, id)
	}

	m.logger.Info("respawning shard", "shard_id", id)
	next, err := m.startSession(ctx, id)
	if err != nil {
		return err
	}

	if err := m.awaitConnected(ctx, next); err != nil {
		m.logger.Warn("replacement shard not ready, handing off anyway",
			"shard_id", id, "error", err)
	}

	m.mu.Lock()
	m.sessions[id] = next
	m.mu.Unlock()
	old.Destroy()
	return nil
}

// RespawnAll replaces every shard in id order. The identify governor
// paces the replacements.
func (m *Manager) RespawnAll(ctx context.Context) error {
	for _, id := range m.opts.ShardIDs {
		if err := m.RespawnShard(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// awaitConnected polls the session until it reports connected, the
// handoff timeout passes, or the context ends.
func (m *Manager) awaitConnected(ctx context.Context, sess *session.Session) error {
	deadline := time.NewTimer(m.opts.HandoffTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if sess.Status() == session.StatusConnected {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("handoff timeout after %s", m.opts.HandoffTimeout)
		case <-tick.C:
		}
	}
}

// Shard returns the session for a shard id.
func (m *Manager) Shard(id int) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownShard, id)
	}
	return sess, nil
}

// ShardForGuild returns the session that serves the guild.
func (m *Manager) ShardForGuild(guildID string) (*session.Session, error) {
	id, err := CalculateShardID(guildID, m.opts.ShardCount)
	if err != nil {
		return nil, err
	}
	return m.Shard(id)
}

// NextShard cycles round-robin over this process's shard ids, for work
// that does not belong to a particular guild.
func (m *Manager) NextShard() (*session.Session, error) {
	m.mu.Lock()
	id := m.opts.ShardIDs[m.cursor%len(m.opts.ShardIDs)]
	m.cursor++
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownShard, id)
	}
	return sess, nil
}

// Dispatches returns the shared dispatch buffer all shards feed.
func (m *Manager) Dispatches() *Buffer[session.Dispatch] {
	return m.dispatches
}

// Notifications returns the lifecycle notification channel.
func (m *Manager) Notifications() <-chan session.Notification {
	return m.notes
}

// ShardCount returns the total topology size.
func (m *Manager) ShardCount() int { return m.opts.ShardCount }

// Governor exposes the shared rate-limit governor.
func (m *Manager) Governor() *ratelimit.Governor { return m.gov }

// Stats aggregates every shard's snapshot.
func (m *Manager) Stats() FleetStats {
	m.mu.RLock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	stats := FleetStats{
		ShardCount: m.opts.ShardCount,
		Dispatch:   m.dispatches.Stats(),
	}
	for _, sess := range sessions {
		info := sess.Info()
		stats.Shards = append(stats.Shards, info)
		stats.Guilds += info.Guilds
		stats.Reconnects += info.Reconnects
		if info.Status == session.StatusConnected {
			stats.Connected++
		}
	}
	sort.Slice(stats.Shards, func(i, j int) bool {
		return stats.Shards[i].ShardID < stats.Shards[j].ShardID
	})
	return stats
}

// Destroy tears the whole fleet down: sessions close with a normal
// closure, waiters on the governor abort, and the dispatch buffer
// closes once drained of producers.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		sess := sess
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Destroy()
		}()
	}
	wg.Wait()

	m.gov.Destroy()
	m.dispatches.Close()
	m.logger.Info("shard manager destroyed")
}
