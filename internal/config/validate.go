package config

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const minAPIKeyLength = 32

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	switch c.Dispatch.Backend {
	case "local":
		if c.Dispatch.QueueSize <= 0 {
			return errors.New("dispatch.queue_size must be a positive integer")
		}
	case "asynq":
		if c.Redis.Address == "" {
			return errors.New("redis.address is required when dispatch.backend is asynq")
		}
	case "amqp":
		if c.AMQP.URL == "" {
			return errors.New("amqp.url is required when dispatch.backend is amqp")
		}
	default:
		return fmt.Errorf("dispatch.backend must be local, asynq or amqp, got %q", c.Dispatch.Backend)
	}
	if c.Dispatch.Concurrency <= 0 {
		return errors.New("dispatch.concurrency must be a positive integer")
	}

	if err := c.Retry.Extraction.validate("retry.extraction"); err != nil {
		return err
	}
	if err := c.Retry.Delivery.validate("retry.delivery"); err != nil {
		return err
	}

	if c.Callback.Timeout < 5*time.Second || c.Callback.Timeout > 120*time.Second {
		return fmt.Errorf("callback.timeout must be between 5s and 120s, got %s", c.Callback.Timeout)
	}
	if c.Callback.MaxConnections <= 0 {
		return errors.New("callback.max_connections must be a positive integer")
	}
	if c.Callback.MaxIdle < 0 || c.Callback.MaxIdle > c.Callback.MaxConnections {
		return fmt.Errorf("callback.max_idle (%d) must be between 0 and max_connections (%d)", c.Callback.MaxIdle, c.Callback.MaxConnections)
	}

	switch c.Providers.Web.Engine {
	case "http", "browser":
	default:
		return fmt.Errorf("providers.web.engine must be http or browser, got %q", c.Providers.Web.Engine)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// ValidateServer checks what the HTTP API additionally needs.
func (c *Config) ValidateServer() error {
	if len(c.Server.APIKey) < minAPIKeyLength {
		return fmt.Errorf("server.api_key must be at least %d characters", minAPIKeyLength)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

func (r RetrySettings) validate(prefix string) error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("%s.max_attempts must be at least 1", prefix)
	}
	if r.MinBackoff < 0 || r.MaxBackoff < r.MinBackoff {
		return fmt.Errorf("%s.min_backoff (%s) must not exceed max_backoff (%s)", prefix, r.MinBackoff, r.MaxBackoff)
	}
	if r.MaxElapsed <= 0 {
		return fmt.Errorf("%s.max_elapsed must be positive", prefix)
	}
	return nil
}
