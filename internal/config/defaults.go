package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL            = "http://localhost:5240"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultHubPath            = "/hubs/auction"
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 16 * time.Second
	DefaultInvokeTimeout      = 15 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultPingInterval       = 15 * time.Second
	DefaultServerTimeout      = 30 * time.Second
	DefaultReplayLimit        = 8
	DefaultBidTimeout         = 10 * time.Second
	DefaultTokenRefreshMargin = 60 * time.Second
	DefaultPollInterval       = 15 * time.Second
	DefaultPollConcurrency    = 4
	DefaultPollTimeout        = 10 * time.Second
	DefaultCatalogInterval    = time.Minute
	DefaultCatalogPageSize    = 50
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultBatchSize          = 100
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 1024
	DefaultBufferMax          = 65536
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
)

// ApplyDefaults fills every unset optional field.
func (c *Config) ApplyDefaults() {
	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Hub defaults
	if c.Hub.Path == "" {
		c.Hub.Path = DefaultHubPath
	}
	if c.Hub.ReconnectBaseDelay == 0 {
		c.Hub.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Hub.ReconnectMaxDelay == 0 {
		c.Hub.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Hub.InvokeTimeout == 0 {
		c.Hub.InvokeTimeout = DefaultInvokeTimeout
	}
	if c.Hub.HandshakeTimeout == 0 {
		c.Hub.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Hub.PingInterval == 0 {
		c.Hub.PingInterval = DefaultPingInterval
	}
	if c.Hub.ServerTimeout == 0 {
		c.Hub.ServerTimeout = DefaultServerTimeout
	}
	if c.Hub.ReplayLimit == 0 {
		c.Hub.ReplayLimit = DefaultReplayLimit
	}

	// Bidding defaults
	if c.Bidding.Timeout == 0 {
		c.Bidding.Timeout = DefaultBidTimeout
	}
	if c.Bidding.TokenRefreshMargin == 0 {
		c.Bidding.TokenRefreshMargin = DefaultTokenRefreshMargin
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}

	// Catalog defaults
	if c.Catalog.ReconcileInterval == 0 {
		c.Catalog.ReconcileInterval = DefaultCatalogInterval
	}
	if c.Catalog.PageSize == 0 {
		c.Catalog.PageSize = DefaultCatalogPageSize
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}
	if c.Journal.BufferMax == 0 {
		c.Journal.BufferMax = DefaultBufferMax
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
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
