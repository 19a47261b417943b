package config

import (
	"time"

	"github.com/rickgao/gateway/internal/compress"
	"github.com/rickgao/gateway/internal/payload"
	"github.com/rickgao/gateway/internal/ratelimit"
	"github.com/rickgao/gateway/internal/shard"
	"github.com/rickgao/gateway/internal/transport"
)

// Config is the root configuration for a gateway daemon instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Sharding ShardingConfig `yaml:"sharding"`
	Limits   LimitsConfig   `yaml:"limits"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this daemon.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// GatewayConfig holds connection settings shared by every shard.
type GatewayConfig struct {
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Intents int64  `yaml:"intents"`

	Encoding       string `yaml:"encoding"`    // json or msgpack
	Compression    string `yaml:"compression"` // none, zlib-stream or zstd-stream
	LargeThreshold int    `yaml:"large_threshold"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`

	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

// ShardingConfig holds the shard topology.
type ShardingConfig struct {
	// Count of 0 derives the topology from total_guilds.
	Count          int   `yaml:"count"`
	IDs            []int `yaml:"ids"` // subset for this process; empty means all
	TotalGuilds    int   `yaml:"total_guilds"`
	GuildsPerShard int   `yaml:"guilds_per_shard"`
	MaxConcurrency int   `yaml:"max_concurrency"`

	SpawnDelay     time.Duration `yaml:"spawn_delay"`
	HandoffTimeout time.Duration `yaml:"handoff_timeout"`

	DispatchBufferSize int `yaml:"dispatch_buffer_size"`
}

// LimitsConfig holds outbound rate-limit settings.
type LimitsConfig struct {
	CommandCapacity  int           `yaml:"command_capacity"`
	CommandInterval  time.Duration `yaml:"command_interval"`
	IdentifyInterval time.Duration `yaml:"identify_interval"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// ShardOptions converts the configuration into manager options.
func (c *Config) ShardOptions() shard.Options {
	return shard.Options{
		Token:          c.Gateway.Token,
		Intents:        c.Gateway.Intents,
		GatewayURL:     c.Gateway.URL,
		ShardCount:     c.Sharding.Count,
		ShardIDs:       c.Sharding.IDs,
		TotalGuilds:    c.Sharding.TotalGuilds,
		GuildsPerShard: c.Sharding.GuildsPerShard,
		MaxConcurrency: c.Sharding.MaxConcurrency,
		SpawnDelay:     c.Sharding.SpawnDelay,
		HandoffTimeout: c.Sharding.HandoffTimeout,
		Encoding:       payload.Encoding(c.Gateway.Encoding),
		Compression:    compress.Mode(c.Gateway.Compression),
		LargeThreshold: c.Gateway.LargeThreshold,

		MaxReconnectAttempts: c.Gateway.MaxReconnectAttempts,
		ReconnectBaseDelay:   c.Gateway.ReconnectBaseDelay,
		ReconnectMaxDelay:    c.Gateway.ReconnectMaxDelay,
		Transport: transport.Config{
			HandshakeTimeout: c.Gateway.HandshakeTimeout,
			WriteTimeout:     c.Gateway.WriteTimeout,
			PingInterval:     c.Gateway.PingInterval,
			PongTimeout:      c.Gateway.PongTimeout,
			HighLatency:      time.Second,
			BufferSize:       256,
		},
		RateLimit: ratelimit.Config{
			CommandCapacity:  c.Limits.CommandCapacity,
			CommandInterval:  c.Limits.CommandInterval,
			IdentifyInterval: c.Limits.IdentifyInterval,
			MaxConcurrency:   c.Sharding.MaxConcurrency,
		},
		DispatchBufferSize: c.Sharding.DispatchBufferSize,
	}
}
