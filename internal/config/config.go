package config

import (
	"strings"
	"time"
)

// Config is the root configuration for the watcher and bidder binaries.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Hub     HubConfig     `yaml:"hub"`
	Bidding BiddingConfig `yaml:"bidding"`
	Auth    AuthConfig    `yaml:"auth"`
	Poller  PollerConfig  `yaml:"poller"`
	Catalog CatalogConfig `yaml:"catalog"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
	Health  HealthConfig  `yaml:"health"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// HubConfig holds live hub connection settings.
type HubConfig struct {
	URL                string        `yaml:"url"`  // Full hub URL; derived from api.base_url + path when empty
	Path               string        `yaml:"path"` // Hub path under api.base_url
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	InvokeTimeout      time.Duration `yaml:"invoke_timeout"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ServerTimeout      time.Duration `yaml:"server_timeout"`
	ReplayLimit        int           `yaml:"replay_limit"`
}

// BiddingConfig holds bid coordinator settings.
type BiddingConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	TokenRefreshMargin time.Duration `yaml:"token_refresh_margin"`
}

// AuthConfig holds credentials. Either user/password or a pre-issued
// access_token may be set; neither means anonymous (watch only).
type AuthConfig struct {
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
}

// PollerConfig holds REST fallback poller settings.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CatalogConfig holds active auction catalog settings (watcher -all mode).
type CatalogConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	PageSize          int           `yaml:"page_size"`
}

// JournalConfig holds bid journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	BufferMax     int           `yaml:"buffer_max"`
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

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// HealthConfig holds the health endpoint settings. An empty Addr disables it.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// HubURL returns the hub endpoint.
func (c *Config) HubURL() string {
	if c.Hub.URL != "" {
		return c.Hub.URL
	}
	return strings.TrimRight(c.API.BaseURL, "/") + "/" + strings.TrimLeft(c.Hub.Path, "/")
}

// HasCredentials reports whether any way of signing in is configured.
func (a AuthConfig) HasCredentials() bool {
	return a.AccessToken != "" || (a.User != "" && a.Password != "")
}
