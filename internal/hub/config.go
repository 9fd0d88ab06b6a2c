package hub

import (
	"github.com/rickgao/bidup-live/internal/config"
)

// ConfigFrom maps the file configuration onto a hub Config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()

	c.Connection.URL = cfg.HubURL()
	c.Connection.HandshakeTimeout = cfg.Hub.HandshakeTimeout
	c.Connection.InvokeTimeout = cfg.Hub.InvokeTimeout
	c.Connection.ReconnectBaseWait = cfg.Hub.ReconnectBaseDelay
	c.Connection.ReconnectMaxWait = cfg.Hub.ReconnectMaxDelay
	c.Connection.PingInterval = cfg.Hub.PingInterval
	c.Connection.ServerTimeout = cfg.Hub.ServerTimeout

	c.BidTimeout = cfg.Bidding.Timeout
	c.ReplayLimit = cfg.Hub.ReplayLimit

	if cfg.Journal.Enabled {
		c.Router.BidBufferSize = cfg.Journal.BufferSize
		c.Router.BidBufferMax = cfg.Journal.BufferMax
	}
	return c
}
