package config

import "time"

// Config is the root configuration for relayd and relaycat.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
	Audit   AuditConfig   `yaml:"audit"`
	Mirror  MirrorConfig  `yaml:"mirror"`
	Values  Values        `yaml:"values"`
}

// ServerConfig holds broadcast server settings.
type ServerConfig struct {
	Address       string        `yaml:"address"`       // TCP relay listen address
	AdminAddress  string        `yaml:"admin_address"` // HTTP admin + WebSocket relay address
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	MaxFrameSize  int           `yaml:"max_frame_size"`
	PingInterval  time.Duration `yaml:"ping_interval"`
}

// ClientConfig holds relay client settings.
type ClientConfig struct {
	URI                   string        `yaml:"uri"` // Empty = values.GATEWAY_CONNECTION_URI or the built-in default
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
	MaxFrameSize          int           `yaml:"max_frame_size"`
	WSPath                string        `yaml:"ws_path"`
	ReconnectBaseDelay    time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay     time.Duration `yaml:"reconnect_max_delay"`
	NoBackgroundReconnect bool          `yaml:"no_background_reconnect"`
}

// LoggingConfig holds slog handler settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`  // debug, info, warn, error
	Format  string `yaml:"format"` // text or json
	Service string `yaml:"service"`
}

// AuditConfig holds the optional session audit store.
type AuditConfig struct {
	Enabled  bool         `yaml:"enabled"`
	Migrate  bool         `yaml:"migrate"` // Run embedded migrations at startup
	Database DBConfig     `yaml:"database"`
	Writer   WriterConfig `yaml:"writer"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MirrorConfig holds the NATS event mirror settings.
type MirrorConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}
