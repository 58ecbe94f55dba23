package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
instance:
  id: streamd-test
feed:
  url: wss://feed.example.com/v1/stream
  api_key: test-key
  symbols: [AAPL, MSFT]
server:
  addr: ":9101"
database:
  postgres:
    host: localhost
    name: stockstream_test
    user: testuser
    password: testpass
tx_stream:
  url: nats://localhost:4222
`

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streamd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	cfg, err := LoadAndValidate(writeTempFile(t, validYAML))
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	if cfg.Instance.ID != "streamd-test" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "streamd-test")
	}
	if cfg.Feed.URL != "wss://feed.example.com/v1/stream" {
		t.Errorf("Feed.URL = %q", cfg.Feed.URL)
	}
	if len(cfg.Feed.Symbols) != 2 {
		t.Errorf("Feed.Symbols = %v, want 2 symbols", cfg.Feed.Symbols)
	}
	if cfg.Server.Addr != ":9101" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":9101")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := LoadAndValidate(writeTempFile(t, validYAML))
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	if cfg.Feed.HeartbeatTimeout != DefaultHeartbeatTimeout {
		t.Errorf("HeartbeatTimeout = %v, want %v", cfg.Feed.HeartbeatTimeout, DefaultHeartbeatTimeout)
	}
	if cfg.Feed.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("ReconnectMaxDelay = %v, want %v", cfg.Feed.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.Server.OutboundQueueSize != DefaultOutboundQueueSize {
		t.Errorf("OutboundQueueSize = %d, want %d", cfg.Server.OutboundQueueSize, DefaultOutboundQueueSize)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Postgres.Port = %d, want %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.TxStream.Subject != DefaultNATSSubject {
		t.Errorf("TxStream.Subject = %q, want %q", cfg.TxStream.Subject, DefaultNATSSubject)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("STREAMD_TEST_DB_PASSWORD", "secret-from-env")

	yaml := `
instance:
  id: streamd-test
feed:
  url: wss://feed.example.com/v1/stream
  symbols: [AAPL]
database:
  postgres:
    host: localhost
    name: stockstream_test
    user: testuser
    password: ${STREAMD_TEST_DB_PASSWORD}
tx_stream:
  url: nats://localhost:4222
`
	cfg, err := LoadAndValidate(writeTempFile(t, yaml))
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.Database.Postgres.Password != "secret-from-env" {
		t.Errorf("Password = %q, want env-expanded value", cfg.Database.Postgres.Password)
	}
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeTempFile(t, validYAML))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		cfg.applyDefaults()
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing instance id", func(c *Config) { c.Instance.ID = "" }},
		{"missing feed url", func(c *Config) { c.Feed.URL = "" }},
		{"no symbols", func(c *Config) { c.Feed.Symbols = nil }},
		{"base delay above cap", func(c *Config) {
			c.Feed.ReconnectBaseDelay = 2 * time.Minute
			c.Feed.ReconnectMaxDelay = time.Minute
		}},
		{"zero queue size", func(c *Config) { c.Server.OutboundQueueSize = -1 }},
		{"ping not shorter than idle", func(c *Config) {
			c.Server.PingInterval = c.Server.ClientIdleTimeout
		}},
		{"missing db host", func(c *Config) { c.Database.Postgres.Host = "" }},
		{"missing nats url", func(c *Config) { c.TxStream.URL = "" }},
		{"bad health port", func(c *Config) { c.Health.Port = 70000 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
