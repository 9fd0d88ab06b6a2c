package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/bidup-live/internal/protocol"
	"github.com/rickgao/bidup-live/internal/version"
)

// Client represents a single WebSocket connection to the auction hub.
type Client interface {
	// Connect dials the hub and completes the protocol handshake.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes one or more encoded records to the connection.
	Send(data []byte) error

	// Messages returns a channel of hub records (events, completions, pings, close).
	// Each record includes a local timestamp for when its frame was received.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	lastReadAt time.Time
	closed     bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and performs the handshake.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	target, err := c.dialURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}

	leftover, err := c.handshake(conn)
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastReadAt = time.Now()
	c.mu.Unlock()

	receivedAt := time.Now()
	for _, record := range leftover {
		c.messages <- TimestampedMessage{Data: record, ReceivedAt: receivedAt}
	}

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// dialURL maps http(s) to ws(s) and appends the credential as the
// access_token query parameter; browsers cannot set headers on WebSocket
// upgrades, so hubs accept it there as well.
func (c *client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if c.cfg.AccessToken != "" {
		q := u.Query()
		q.Set("access_token", c.cfg.AccessToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// handshake sends the protocol request and waits for the server's answer.
// Records that arrive in the same frame as the answer are returned.
func (c *client) handshake(conn *websocket.Conn) ([][]byte, error) {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	if c.cfg.HandshakeTimeout <= 0 {
		deadline = time.Time{}
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, protocol.EncodeHandshake()); err != nil {
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	conn.SetReadDeadline(deadline)
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	records := protocol.Split(frame)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty response", protocol.ErrHandshakeFailed)
	}
	if err := protocol.DecodeHandshake(records[0]); err != nil {
		return nil, err
	}
	return records[1:], nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}

	return nil
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads frames, splits them into records and forwards each record.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		_, frame, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
				c.fail(err)
				return
			}
		}

		c.mu.Lock()
		c.lastReadAt = receivedAt
		c.mu.Unlock()

		for _, record := range protocol.Split(frame) {
			select {
			case c.messages <- TimestampedMessage{Data: record, ReceivedAt: receivedAt}:
			case <-c.done:
				return
			}
		}
	}
}

// heartbeatLoop sends keep-alive pings and detects a silent server.
func (c *client) heartbeatLoop() {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = DefaultClientConfig().PingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Send(protocol.EncodePing()); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			lastRead := c.lastReadAt
			conn := c.conn
			c.mu.RUnlock()

			if c.cfg.ServerTimeout > 0 && time.Since(lastRead) > c.cfg.ServerTimeout {
				c.logger.Warn("no server traffic, connection stale",
					"last_read", lastRead,
					"timeout", c.cfg.ServerTimeout,
				)
				c.fail(ErrStaleConnection)
				// Unblock readLoop; its own error is dropped since errors is full.
				conn.Close()
				return
			}
		}
	}
}

func (c *client) fail(err error) {
	select {
	case c.errors <- err:
	default:
	}
}
