package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
instance:
  id: gw-test-1
gateway:
  token: test-token
`

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("GW_TEST_TOKEN", "secret-from-env")

	path := writeConfig(t, `
instance:
  id: gw-test-1
gateway:
  token: ${GW_TEST_TOKEN}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gateway.Token != "secret-from-env" {
		t.Errorf("Token = %q, want expanded env value", cfg.Gateway.Token)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Gateway.URL != DefaultGatewayURL {
		t.Errorf("URL = %q, want default", cfg.Gateway.URL)
	}
	if cfg.Gateway.Encoding != "json" {
		t.Errorf("Encoding = %q, want json", cfg.Gateway.Encoding)
	}
	if cfg.Gateway.Compression != "zlib-stream" {
		t.Errorf("Compression = %q, want zlib-stream", cfg.Gateway.Compression)
	}
	if cfg.Sharding.GuildsPerShard != 2500 {
		t.Errorf("GuildsPerShard = %d, want 2500", cfg.Sharding.GuildsPerShard)
	}
	if cfg.Limits.CommandCapacity != 120 || cfg.Limits.CommandInterval != 60*time.Second {
		t.Errorf("Limits = %+v, want platform defaults", cfg.Limits)
	}
	if cfg.Health.Port != DefaultHealthPort {
		t.Errorf("Health.Port = %d, want %d", cfg.Health.Port, DefaultHealthPort)
	}
}

func TestLoadWithDefaults_ExplicitValuesKept(t *testing.T) {
	path := writeConfig(t, `
instance:
  id: gw-test-1
gateway:
  token: test-token
  encoding: msgpack
  compression: zstd-stream
sharding:
  count: 4
  max_concurrency: 2
  spawn_delay: 1s
`)
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Gateway.Encoding != "msgpack" {
		t.Errorf("Encoding = %q", cfg.Gateway.Encoding)
	}
	if cfg.Gateway.Compression != "zstd-stream" {
		t.Errorf("Compression = %q", cfg.Gateway.Compression)
	}
	if cfg.Sharding.Count != 4 || cfg.Sharding.MaxConcurrency != 2 {
		t.Errorf("Sharding = %+v", cfg.Sharding)
	}
	if cfg.Sharding.SpawnDelay != time.Second {
		t.Errorf("SpawnDelay = %v, want 1s", cfg.Sharding.SpawnDelay)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	if _, err := LoadAndValidate(path); err != nil {
		t.Errorf("LoadAndValidate failed: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name    string
		mut     func(*Config)
		wantMsg string
	}{
		{"missing instance id", func(c *Config) { c.Instance.ID = "" }, "instance.id"},
		{"missing token", func(c *Config) { c.Gateway.Token = "" }, "gateway.token"},
		{"bad encoding", func(c *Config) { c.Gateway.Encoding = "etf" }, "gateway.encoding"},
		{"bad compression", func(c *Config) { c.Gateway.Compression = "gzip" }, "gateway.compression"},
		{"large threshold too high", func(c *Config) { c.Gateway.LargeThreshold = 500 }, "large_threshold"},
		{"concurrency out of range", func(c *Config) { c.Sharding.MaxConcurrency = 32 }, "max_concurrency"},
		{"shard id out of range", func(c *Config) { c.Sharding.Count = 2; c.Sharding.IDs = []int{5} }, "sharding.ids"},
		{"bad health port", func(c *Config) { c.Health.Port = 70000 }, "health.port"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{Instance: InstanceConfig{ID: "gw-1"}}
			cfg.Gateway.Token = "token"
			cfg.applyDefaults()
			tc.mut(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestShardOptions(t *testing.T) {
	path := writeConfig(t, `
instance:
  id: gw-test-1
gateway:
  token: test-token
  intents: 513
sharding:
  total_guilds: 9000
  max_concurrency: 2
`)
	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	opts := cfg.ShardOptions()
	if opts.Token != "test-token" || opts.Intents != 513 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.TotalGuilds != 9000 || opts.MaxConcurrency != 2 {
		t.Errorf("sharding opts = %+v", opts)
	}
	if opts.RateLimit.MaxConcurrency != 2 {
		t.Errorf("RateLimit.MaxConcurrency = %d, want 2", opts.RateLimit.MaxConcurrency)
	}
}
