// Package shard orchestrates a fleet of gateway shard sessions:
// deriving the shard topology, spawning sessions bucket by bucket under
// the identify rate limit, replacing individual shards with graceful
// handoff, and funneling every shard's dispatches into one buffer.
package shard

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rickgao/gateway/internal/compress"
	"github.com/rickgao/gateway/internal/payload"
	"github.com/rickgao/gateway/internal/ratelimit"
	"github.com/rickgao/gateway/internal/transport"
)

// Errors
var (
	ErrInvalidOptions   = errors.New("invalid shard options")
	ErrUnknownShard     = errors.New("unknown shard id")
	ErrManagerDestroyed = errors.New("shard manager destroyed")
	ErrAlreadySpawned   = errors.New("shards already spawned")
)

// Options configures a Manager.
type Options struct {
	Token      string
	Intents    int64
	GatewayURL string

	// ShardCount of 0 derives the count from TotalGuilds and
	// GuildsPerShard.
	ShardCount     int
	TotalGuilds    int
	GuildsPerShard int // default 2500

	// ShardIDs restricts this process to a subset of the topology.
	// Empty means all shards.
	ShardIDs []int

	// MaxConcurrency is the identify concurrency the platform granted,
	// in [1, 16].
	MaxConcurrency int

	// SpawnDelay separates successive identify buckets during Spawn.
	SpawnDelay time.Duration // default 5s

	// HandoffTimeout bounds how long a respawn waits for the
	// replacement to come up before retiring the old session anyway.
	HandoffTimeout time.Duration // default 5s

	Encoding       payload.Encoding
	Compression    compress.Mode
	LargeThreshold int
	Presence       *payload.PresenceUpdateData

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	Transport            transport.Config

	RateLimit ratelimit.Config

	DispatchBufferSize int // default 1024
	NotifyBufferSize   int // default 64
}

func (o *Options) applyDefaults() {
	if o.GuildsPerShard == 0 {
		o.GuildsPerShard = 2500
	}
	if o.MaxConcurrency == 0 {
		o.MaxConcurrency = 1
	}
	if o.SpawnDelay == 0 {
		o.SpawnDelay = 5 * time.Second
	}
	if o.HandoffTimeout == 0 {
		o.HandoffTimeout = 5 * time.Second
	}
	if o.DispatchBufferSize == 0 {
		o.DispatchBufferSize = 1024
	}
	if o.NotifyBufferSize == 0 {
		o.NotifyBufferSize = 64
	}
	if o.ShardCount == 0 {
		o.ShardCount = DeriveShardCount(o.TotalGuilds, o.GuildsPerShard)
	}
	if len(o.ShardIDs) == 0 {
		o.ShardIDs = make([]int, o.ShardCount)
		for i := range o.ShardIDs {
			o.ShardIDs[i] = i
		}
	}
	if o.RateLimit.MaxConcurrency == 0 {
		o.RateLimit.MaxConcurrency = o.MaxConcurrency
	}
}

func (o *Options) validate() error {
	if o.Token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidOptions)
	}
	if o.GatewayURL == "" {
		return fmt.Errorf("%w: empty gateway url", ErrInvalidOptions)
	}
	if o.ShardCount < 1 {
		return fmt.Errorf("%w: shard count %d", ErrInvalidOptions, o.ShardCount)
	}
	if o.MaxConcurrency < 1 || o.MaxConcurrency > 16 {
		return fmt.Errorf("%w: max concurrency %d outside [1, 16]", ErrInvalidOptions, o.MaxConcurrency)
	}
	if o.GuildsPerShard < 1 {
		return fmt.Errorf("%w: guilds per shard %d", ErrInvalidOptions, o.GuildsPerShard)
	}
	if o.TotalGuilds > 0 {
		perShard := (o.TotalGuilds + o.ShardCount - 1) / o.ShardCount
		if perShard > o.GuildsPerShard {
			return fmt.Errorf("%w: %d guilds over %d shards puts %d on a shard, ceiling %d",
				ErrInvalidOptions, o.TotalGuilds, o.ShardCount, perShard, o.GuildsPerShard)
		}
	}
	for _, id := range o.ShardIDs {
		if id < 0 || id >= o.ShardCount {
			return fmt.Errorf("%w: shard id %d outside [0, %d)", ErrInvalidOptions, id, o.ShardCount)
		}
	}
	return nil
}

// DeriveShardCount returns the smallest shard count that keeps every
// shard at or under guildsPerShard guilds. At least 1.
func DeriveShardCount(totalGuilds, guildsPerShard int) int {
	if totalGuilds <= 0 || guildsPerShard <= 0 {
		return 1
	}
	count := (totalGuilds + guildsPerShard - 1) / guildsPerShard
	if count < 1 {
		count = 1
	}
	return count
}

// CalculateShardID maps a guild snowflake onto a shard using the
// standard (id >> 22) % count placement.
func CalculateShardID(guildID string, shardCount int) (int, error) {
	if shardCount < 1 {
		return 0, fmt.Errorf("%w: shard count %d", ErrInvalidOptions, shardCount)
	}
	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse guild id %q: %w", guildID, err)
	}
	return int((id >> 22) % uint64(shardCount)), nil
}

// spawnBuckets groups shard ids by identify bucket (id mod
// maxConcurrency), ordered by bucket id ascending. All shards of one
// bucket spawn in parallel; the orchestrator waits the spawn delay
// between buckets. The governor still paces identifies inside each
// bucket.
func spawnBuckets(shardIDs []int, maxConcurrency int) [][]int {
	grouped := make(map[int][]int)
	for _, id := range shardIDs {
		b := id % maxConcurrency
		grouped[b] = append(grouped[b], id)
	}

	buckets := make([]int, 0, len(grouped))
	for b := range grouped {
		buckets = append(buckets, b)
	}
	sort.Ints(buckets)

	out := make([][]int, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, grouped[b])
	}
	return out
}
