package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no server traffic)")
	ErrTimeout         = errors.New("operation timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrConnectionLost  = errors.New("connection lost")
	ErrUnauthorized    = errors.New("credential rejected")
)

// State is the lifecycle state of the hub connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectionError is returned when the transport cannot be established.
// Unauthorized failures mean real-time features are unavailable; they are not
// meant to be shown to end users.
type ConnectionError struct {
	Op           string
	Unauthorized bool
	Err          error
}

func (e *ConnectionError) Error() string {
	if e.Unauthorized {
		return fmt.Sprintf("%s: unauthorized: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HubError is a server-side failure reported in an invocation completion.
type HubError struct {
	Target  string
	Message string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub %s failed: %s", e.Target, e.Message)
}

// TimestampedMessage wraps one hub protocol record with its receive time.
type TimestampedMessage struct {
	Data       []byte    // Single record, separator stripped
	ReceivedAt time.Time // Local timestamp when the frame was read
}

// Handler receives server-pushed invocations (events), one at a time, in the
// order they were read from the connection.
type Handler interface {
	HandleInvocation(target string, args []json.RawMessage, receivedAt time.Time)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(target string, args []json.RawMessage, receivedAt time.Time)

func (f HandlerFunc) HandleInvocation(target string, args []json.RawMessage, receivedAt time.Time) {
	f(target, args, receivedAt)
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Hub URL (e.g., ws://localhost:5240/hubs/auction)
	AccessToken      string        // Bearer credential, sent as header and access_token query param
	HandshakeTimeout time.Duration // Dial + protocol handshake deadline
	PingInterval     time.Duration // How often to send a keep-alive Ping record
	ServerTimeout    time.Duration // Max time without inbound traffic before the connection is stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		ServerTimeout:    30 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL               string        // Hub URL
	HandshakeTimeout  time.Duration // Dial + handshake deadline
	InvokeTimeout     time.Duration // Max wait for an invocation completion
	ReconnectBaseWait time.Duration // First reconnect delay
	ReconnectMaxWait  time.Duration // Reconnect delay cap
	PingInterval      time.Duration // Keep-alive interval
	ServerTimeout     time.Duration // Inbound silence tolerated before reconnecting
	WriteTimeout      time.Duration // Write deadline for sends
	MessageBufferSize int           // Inbound record buffer per connection
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout:  10 * time.Second,
		InvokeTimeout:     15 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  16 * time.Second,
		PingInterval:      15 * time.Second,
		ServerTimeout:     30 * time.Second,
		WriteTimeout:      5 * time.Second,
		MessageBufferSize: 1024,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State             State
	SessionID         string
	Reconnects        int64
	InvocationsSent   int64
	InvocationsFailed int64
	EventsReceived    int64
}
