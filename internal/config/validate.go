package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Gateway.Token == "" {
		return errors.New("gateway.token is required")
	}
	switch c.Gateway.Encoding {
	case "json", "msgpack":
	default:
		return fmt.Errorf("gateway.encoding must be json or msgpack, got %q", c.Gateway.Encoding)
	}
	switch c.Gateway.Compression {
	case "none", "zlib-stream", "zstd-stream":
	default:
		return fmt.Errorf("gateway.compression must be none, zlib-stream or zstd-stream, got %q", c.Gateway.Compression)
	}
	if c.Gateway.LargeThreshold < 50 || c.Gateway.LargeThreshold > 250 {
		return fmt.Errorf("gateway.large_threshold must be between 50 and 250, got %d", c.Gateway.LargeThreshold)
	}

	if c.Sharding.Count < 0 {
		return errors.New("sharding.count must be >= 0")
	}
	if c.Sharding.MaxConcurrency < 1 || c.Sharding.MaxConcurrency > 16 {
		return fmt.Errorf("sharding.max_concurrency must be between 1 and 16, got %d", c.Sharding.MaxConcurrency)
	}
	if c.Sharding.GuildsPerShard < 1 {
		return errors.New("sharding.guilds_per_shard must be >= 1")
	}
	if c.Sharding.Count > 0 {
		for _, id := range c.Sharding.IDs {
			if id < 0 || id >= c.Sharding.Count {
				return fmt.Errorf("sharding.ids entry %d outside [0, %d)", id, c.Sharding.Count)
			}
		}
	}

	if c.Limits.CommandCapacity < 1 {
		return errors.New("limits.command_capacity must be >= 1")
	}
	if c.Limits.CommandInterval <= 0 {
		return errors.New("limits.command_interval must be > 0")
	}
	if c.Limits.IdentifyInterval <= 0 {
		return errors.New("limits.identify_interval must be > 0")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}
