package config

import (
	"errors"
	"fmt"

	"github.com/rickgao/effekt/internal/connection"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if c.Server.MaxFrameSize < 1 {
		return errors.New("server.max_frame_size must be >= 1")
	}
	if c.Server.ShutdownGrace < 0 {
		return errors.New("server.shutdown_grace must be >= 0")
	}

	if c.Client.URI != "" {
		if _, err := connection.ParseURI(c.Client.URI); err != nil {
			return fmt.Errorf("client.uri: %w", err)
		}
	}
	if c.Client.MaxFrameSize < 1 {
		return errors.New("client.max_frame_size must be >= 1")
	}
	if c.Client.ReconnectMaxDelay < c.Client.ReconnectBaseDelay {
		return fmt.Errorf("client.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Client.ReconnectMaxDelay, c.Client.ReconnectBaseDelay)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Audit.Enabled {
		if err := c.Audit.Database.validate("audit.database"); err != nil {
			return err
		}
		if c.Audit.Writer.BatchSize < 1 {
			return errors.New("audit.writer.batch_size must be >= 1")
		}
		if c.Audit.Writer.BufferSize < 1 {
			return errors.New("audit.writer.buffer_size must be >= 1")
		}
	}

	if c.Mirror.Enabled && c.Mirror.URL == "" {
		return errors.New("mirror.url is required")
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
