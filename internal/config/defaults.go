package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultDialTimeout        = 10 * time.Second
	DefaultHeartbeatTimeout   = 30 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second

	DefaultServerAddr        = ":8081"
	DefaultClientIdleTimeout = 60 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPingInterval      = 50 * time.Second
	DefaultOutboundQueueSize = 256

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultNATSSubject = "transactions"

	DefaultHealthPort = 8080
)

func (c *Config) applyDefaults() {
	// Feed defaults
	if c.Feed.DialTimeout == 0 {
		c.Feed.DialTimeout = DefaultDialTimeout
	}
	if c.Feed.HeartbeatTimeout == 0 {
		c.Feed.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.ClientIdleTimeout == 0 {
		c.Server.ClientIdleTimeout = DefaultClientIdleTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.OutboundQueueSize == 0 {
		c.Server.OutboundQueueSize = DefaultOutboundQueueSize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Transaction stream defaults
	if c.TxStream.Subject == "" {
		c.TxStream.Subject = DefaultNATSSubject
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
