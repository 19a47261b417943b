package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultGatewayURL       = "wss://gateway.discord.gg"
	DefaultEncoding         = "json"
	DefaultCompression      = "zlib-stream"
	DefaultLargeThreshold   = 50
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPongTimeout      = 90 * time.Second

	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10

	DefaultGuildsPerShard     = 2500
	DefaultMaxConcurrency     = 1
	DefaultSpawnDelay         = 5 * time.Second
	DefaultHandoffTimeout     = 5 * time.Second
	DefaultDispatchBufferSize = 1024

	DefaultCommandCapacity  = 120
	DefaultCommandInterval  = 60 * time.Second
	DefaultIdentifyInterval = 5 * time.Second

	DefaultHealthPort = 8080
	DefaultHealthPath = "/health"
)

func (c *Config) applyDefaults() {
	// Gateway defaults
	if c.Gateway.URL == "" {
		c.Gateway.URL = DefaultGatewayURL
	}
	if c.Gateway.Encoding == "" {
		c.Gateway.Encoding = DefaultEncoding
	}
	if c.Gateway.Compression == "" {
		c.Gateway.Compression = DefaultCompression
	}
	if c.Gateway.LargeThreshold == 0 {
		c.Gateway.LargeThreshold = DefaultLargeThreshold
	}
	if c.Gateway.HandshakeTimeout == 0 {
		c.Gateway.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = DefaultWriteTimeout
	}
	if c.Gateway.PingInterval == 0 {
		c.Gateway.PingInterval = DefaultPingInterval
	}
	if c.Gateway.PongTimeout == 0 {
		c.Gateway.PongTimeout = DefaultPongTimeout
	}
	if c.Gateway.ReconnectBaseDelay == 0 {
		c.Gateway.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Gateway.ReconnectMaxDelay == 0 {
		c.Gateway.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Gateway.MaxReconnectAttempts == 0 {
		c.Gateway.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	// Sharding defaults
	if c.Sharding.GuildsPerShard == 0 {
		c.Sharding.GuildsPerShard = DefaultGuildsPerShard
	}
	if c.Sharding.MaxConcurrency == 0 {
		c.Sharding.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Sharding.SpawnDelay == 0 {
		c.Sharding.SpawnDelay = DefaultSpawnDelay
	}
	if c.Sharding.HandoffTimeout == 0 {
		c.Sharding.HandoffTimeout = DefaultHandoffTimeout
	}
	if c.Sharding.DispatchBufferSize == 0 {
		c.Sharding.DispatchBufferSize = DefaultDispatchBufferSize
	}

	// Limits defaults
	if c.Limits.CommandCapacity == 0 {
		c.Limits.CommandCapacity = DefaultCommandCapacity
	}
	if c.Limits.CommandInterval == 0 {
		c.Limits.CommandInterval = DefaultCommandInterval
	}
	if c.Limits.IdentifyInterval == 0 {
		c.Limits.IdentifyInterval = DefaultIdentifyInterval
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}
}
