package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validateURL("api.base_url", c.API.BaseURL); err != nil {
		return err
	}
	if c.Hub.URL != "" {
		if err := validateURL("hub.url", c.Hub.URL); err != nil {
			return err
		}
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Hub.ReconnectBaseDelay <= 0 {
		return errors.New("hub.reconnect_base_delay must be > 0")
	}
	if c.Hub.ReconnectMaxDelay < c.Hub.ReconnectBaseDelay {
		return fmt.Errorf("hub.reconnect_max_delay (%v) cannot be less than reconnect_base_delay (%v)",
			c.Hub.ReconnectMaxDelay, c.Hub.ReconnectBaseDelay)
	}
	if c.Hub.ServerTimeout <= c.Hub.PingInterval {
		return fmt.Errorf("hub.server_timeout (%v) must exceed ping_interval (%v)",
			c.Hub.ServerTimeout, c.Hub.PingInterval)
	}
	if c.Hub.ReplayLimit < 1 {
		return errors.New("hub.replay_limit must be >= 1")
	}

	if c.Bidding.Timeout <= 0 {
		return errors.New("bidding.timeout must be > 0")
	}
	if c.Bidding.TokenRefreshMargin < 0 {
		return errors.New("bidding.token_refresh_margin must be >= 0")
	}

	if (c.Auth.User == "") != (c.Auth.Password == "") {
		return errors.New("auth.user and auth.password must be set together")
	}

	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}
	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}

	if c.Catalog.PageSize < 1 {
		return errors.New("catalog.page_size must be >= 1")
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("%s must be an http(s) or ws(s) url, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", field)
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
