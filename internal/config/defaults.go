package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerAddress      = "localhost:6789"
	DefaultAdminAddress       = "localhost:6790"
	DefaultWriteTimeout       = 5 * time.Second
	DefaultShutdownGrace      = 2 * time.Second
	DefaultMaxFrameSize       = 16 << 20
	DefaultPingInterval       = 30 * time.Second
	DefaultDialTimeout        = 10 * time.Second
	DefaultWSPath             = "/relay"
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultService            = "effekt"
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultBatchSize          = 100
	DefaultFlushInterval      = 5 * time.Second
	DefaultBufferSize         = 1000
	DefaultMirrorURL          = "nats://localhost:4222"
	DefaultSubjectPrefix      = "effekt.events"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Address == "" {
		c.Server.Address = DefaultServerAddress
	}
	if c.Server.AdminAddress == "" {
		c.Server.AdminAddress = DefaultAdminAddress
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownGrace == 0 {
		c.Server.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Server.MaxFrameSize == 0 {
		c.Server.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}

	// Client defaults
	if c.Client.DialTimeout == 0 {
		c.Client.DialTimeout = DefaultDialTimeout
	}
	if c.Client.WriteTimeout == 0 {
		c.Client.WriteTimeout = DefaultWriteTimeout
	}
	if c.Client.MaxFrameSize == 0 {
		c.Client.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Client.WSPath == "" {
		c.Client.WSPath = DefaultWSPath
	}
	if c.Client.ReconnectBaseDelay == 0 {
		c.Client.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Client.ReconnectMaxDelay == 0 {
		c.Client.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Service == "" {
		c.Logging.Service = DefaultService
	}

	// Audit defaults
	applyDBDefaults(&c.Audit.Database)
	if c.Audit.Writer.BatchSize == 0 {
		c.Audit.Writer.BatchSize = DefaultBatchSize
	}
	if c.Audit.Writer.FlushInterval == 0 {
		c.Audit.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Audit.Writer.BufferSize == 0 {
		c.Audit.Writer.BufferSize = DefaultBufferSize
	}

	// Mirror defaults
	if c.Mirror.URL == "" {
		c.Mirror.URL = DefaultMirrorURL
	}
	if c.Mirror.SubjectPrefix == "" {
		c.Mirror.SubjectPrefix = DefaultSubjectPrefix
	}

	if c.Values == nil {
		c.Values = Values{}
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
