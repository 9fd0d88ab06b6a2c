package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/bidup-live/internal/protocol"
)

// Invoker calls a hub method and waits for the server's completion.
type Invoker interface {
	Invoke(ctx context.Context, target string, args ...any) error
}

// Manager owns the hub connection for one authenticated client.
type Manager interface {
	Invoker

	// Connect establishes the connection with the given bearer credential.
	// It is a no-op when already connected. A stale or half-open connection
	// is torn down first.
	Connect(ctx context.Context, credential string) error

	// Disconnect closes the connection and stops any reconnection in progress.
	Disconnect(ctx context.Context) error

	// State returns the current lifecycle state.
	State() State

	// IsConnected reports whether State() == StateConnected.
	IsConnected() bool

	// Stats returns current connection statistics.
	Stats() ManagerStats
}

// TokenSource returns a current bearer credential.
type TokenSource func(ctx context.Context) (string, error)

// ReconnectHook runs on every connection after the first, before the manager
// reports Connected. That covers the backoff loop and a fresh Connect that
// replaces a lost or closed connection. The Invoker it receives is bound to
// the new connection.
type ReconnectHook func(ctx context.Context, inv Invoker) error

// StateListener is notified of every state transition.
type StateListener func(from, to State)

// ManagerOption configures a Manager.
type ManagerOption func(*manager)

// WithClock sets the clock used for backoff and invocation timeouts.
func WithClock(clock clockwork.Clock) ManagerOption {
	return func(m *manager) {
		m.clock = clock
	}
}

// WithTokenSource sets where reconnect attempts obtain a fresh credential.
// Without it the credential passed to Connect is reused.
func WithTokenSource(src TokenSource) ManagerOption {
	return func(m *manager) {
		m.tokens = src
	}
}

// WithReconnectHook sets the hook that restores server-side state after a reconnect.
func WithReconnectHook(hook ReconnectHook) ManagerOption {
	return func(m *manager) {
		m.onReconnect = hook
	}
}

// WithStateListener adds a state transition listener.
func WithStateListener(fn StateListener) ManagerOption {
	return func(m *manager) {
		m.listeners = append(m.listeners, fn)
	}
}

// WithClientFactory overrides how transport clients are created.
func WithClientFactory(fn func(ClientConfig, *slog.Logger) Client) ManagerOption {
	return func(m *manager) {
		m.newClient = fn
	}
}

// inbound is one server-pushed invocation awaiting dispatch.
type inbound struct {
	target     string
	args       []json.RawMessage
	receivedAt time.Time
}

// session holds the state for a single physical connection.
type session struct {
	id     uuid.UUID
	client Client

	// Command/response correlation
	pendingMu sync.Mutex
	pending   map[string]chan protocol.Message
	lost      bool
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	handler Handler
	logger  *slog.Logger

	clock       clockwork.Clock
	tokens      TokenSource
	onReconnect ReconnectHook
	listeners   []StateListener
	newClient   func(ClientConfig, *slog.Logger) Client

	mu         sync.Mutex
	state      State
	sess       *session
	credential string
	hadSession bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	invocationID atomic.Int64

	reconnects        atomic.Int64
	invocationsSent   atomic.Int64
	invocationsFailed atomic.Int64
	eventsReceived    atomic.Int64
}

// NewManager creates a new Connection Manager. Server-pushed events are
// delivered to handler.
func NewManager(cfg ManagerConfig, handler Handler, logger *slog.Logger, opts ...ManagerOption) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &manager{
		cfg:       cfg,
		handler:   handler,
		logger:    logger,
		clock:     clockwork.NewRealClock(),
		newClient: NewClient,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect establishes the connection. When a connection existed before, the
// reconnect hook runs on the new one before Connected is reported. A dial
// failure other than a rejected credential leaves the manager Reconnecting
// with the usual backoff.
func (m *manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.state == StateConnected && m.sess != nil && m.sess.client.IsConnected() {
		m.mu.Unlock()
		return nil
	}
	m.teardownLocked()
	m.credential = credential
	from := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	m.notify(from, StateConnecting)

	sessCtx, cancel := context.WithCancel(context.Background())
	sess, err := m.dial(ctx, credential)
	if err != nil {
		unauthorized := errors.Is(err, ErrUnauthorized)
		retry := !unauthorized && ctx.Err() == nil

		m.mu.Lock()
		to := StateDisconnected
		if retry {
			m.teardownLocked()
			m.cancel = cancel
			to = StateReconnecting
			m.wg.Add(1)
			go m.reconnect(sessCtx)
		} else {
			cancel()
		}
		from := m.setStateLocked(to)
		m.mu.Unlock()
		m.notify(from, to)

		if unauthorized {
			m.logger.Debug("hub rejected credential", "error", err)
		} else {
			m.logger.Warn("hub connect failed", "error", err, "retrying", retry)
		}
		return &ConnectionError{Op: "connect", Unauthorized: unauthorized, Err: err}
	}

	m.mu.Lock()
	// A concurrent Connect may have won the race.
	m.teardownLocked()
	replay := m.hadSession
	m.hadSession = true
	m.sess = sess
	m.cancel = cancel
	m.wg.Add(1)
	go m.readLoop(sessCtx, sess)
	m.mu.Unlock()

	if replay {
		m.restore(ctx, sess)
	}

	m.mu.Lock()
	if m.sess != sess {
		// Lost during replay; the reconnect loop owns the state now.
		m.mu.Unlock()
		return &ConnectionError{Op: "connect", Err: ErrConnectionLost}
	}
	from = m.setStateLocked(StateConnected)
	m.mu.Unlock()
	m.notify(from, StateConnected)

	m.logger.Info("hub connected", "session", sess.id, "replayed", replay)
	return nil
}

// Disconnect closes the connection and cancels reconnection.
func (m *manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.teardownLocked()
	from := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
	m.notify(from, StateDisconnected)

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("disconnect timeout, abandoning hub goroutines")
	}

	m.logger.Info("hub disconnected")
	return nil
}

// Invoke calls a hub method on the current connection.
func (m *manager) Invoke(ctx context.Context, target string, args ...any) error {
	m.mu.Lock()
	if m.state != StateConnected || m.sess == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	sess := m.sess
	m.mu.Unlock()

	return m.invoke(ctx, sess, target, args...)
}

// State returns the current lifecycle state.
func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the manager is connected.
func (m *manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	state := m.state
	var sessionID string
	if m.sess != nil {
		sessionID = m.sess.id.String()
	}
	m.mu.Unlock()

	return ManagerStats{
		State:             state,
		SessionID:         sessionID,
		Reconnects:        m.reconnects.Load(),
		InvocationsSent:   m.invocationsSent.Load(),
		InvocationsFailed: m.invocationsFailed.Load(),
		EventsReceived:    m.eventsReceived.Load(),
	}
}

// dial opens a client and wraps it in a new session.
func (m *manager) dial(ctx context.Context, credential string) (*session, error) {
	id := uuid.New()
	client := m.newClient(m.clientConfig(credential), m.logger.With("session", id))
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return &session{
		id:      id,
		client:  client,
		pending: make(map[string]chan protocol.Message),
	}, nil
}

func (m *manager) clientConfig(credential string) ClientConfig {
	return ClientConfig{
		URL:              m.cfg.URL,
		AccessToken:      credential,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		PingInterval:     m.cfg.PingInterval,
		ServerTimeout:    m.cfg.ServerTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.MessageBufferSize,
	}
}

// teardownLocked stops the session goroutines and fails pending invocations.
// Caller must hold m.mu.
func (m *manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.sess != nil {
		m.sess.client.Close()
		m.sess.failPending()
		m.sess = nil
	}
}

// setStateLocked updates the state and returns the previous one.
// Caller must hold m.mu.
func (m *manager) setStateLocked(s State) State {
	from := m.state
	m.state = s
	return from
}

func (m *manager) notify(from, to State) {
	if from == to {
		return
	}
	m.logger.Debug("hub state changed", "from", from, "to", to)
	for _, fn := range m.listeners {
		fn(from, to)
	}
}

// readLoop consumes records from one session until it ends.
func (m *manager) readLoop(ctx context.Context, sess *session) {
	defer m.wg.Done()

	// Events are handed off to a dispatcher so handlers may invoke hub
	// methods without blocking completion routing.
	events := make(chan inbound, m.cfg.MessageBufferSize)
	m.wg.Add(1)
	go m.dispatchLoop(events)
	defer close(events)

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-sess.client.Errors():
			m.connectionLost(ctx, sess, err, true)
			return

		case msg, ok := <-sess.client.Messages():
			if !ok {
				return
			}

			rec, err := protocol.Decode(msg.Data)
			if err != nil {
				m.logger.Warn("undecodable hub record", "error", err)
				continue
			}

			switch rec.Type {
			case protocol.TypeInvocation:
				m.eventsReceived.Add(1)
				select {
				case events <- inbound{target: rec.Target, args: rec.Arguments, receivedAt: msg.ReceivedAt}:
				case <-ctx.Done():
					return
				}

			case protocol.TypeCompletion:
				sess.routeCompletion(rec)

			case protocol.TypePing:
				// Keep-alive; lastReadAt already refreshed by the client.

			case protocol.TypeClose:
				reason := errors.New("server closed connection")
				if rec.Error != "" {
					reason = fmt.Errorf("server closed connection: %s", rec.Error)
				}
				m.connectionLost(ctx, sess, reason, rec.AllowReconnect)
				return

			default:
				m.logger.Debug("ignoring hub record", "type", rec.Type)
			}
		}
	}
}

// dispatchLoop delivers events to the handler in receipt order.
func (m *manager) dispatchLoop(events <-chan inbound) {
	defer m.wg.Done()
	for ev := range events {
		if m.handler != nil {
			m.handler.HandleInvocation(ev.target, ev.args, ev.receivedAt)
		}
	}
}

// connectionLost transitions to Reconnecting (or Disconnected when the server
// forbids reconnecting) after the given session failed.
func (m *manager) connectionLost(ctx context.Context, sess *session, cause error, allowReconnect bool) {
	m.mu.Lock()
	if m.sess != sess || ctx.Err() != nil {
		// Already torn down or replaced.
		m.mu.Unlock()
		return
	}
	sess.client.Close()
	sess.failPending()
	m.sess = nil

	if !allowReconnect {
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		from := m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.notify(from, StateDisconnected)
		m.logger.Warn("hub connection closed, not reconnecting", "error", cause)
		return
	}

	from := m.setStateLocked(StateReconnecting)
	m.wg.Add(1)
	go m.reconnect(ctx)
	m.mu.Unlock()
	m.notify(from, StateReconnecting)

	m.logger.Warn("hub connection lost", "session", sess.id, "error", cause)
}

// reconnect retries with exponential backoff until connected or cancelled.
func (m *manager) reconnect(ctx context.Context) {
	defer m.wg.Done()

	wait := m.cfg.ReconnectBaseWait
	maxWait := m.cfg.ReconnectMaxWait

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(wait):
		}

		// Exponential backoff for the next attempt
		next := wait * 2
		if next > maxWait {
			next = maxWait
		}

		m.logger.Info("attempting reconnection", "attempt", attempt)

		credential, err := m.reconnectCredential(ctx)
		if err != nil {
			m.logger.Warn("no credential for reconnection", "attempt", attempt, "error", err)
			wait = next
			continue
		}

		sess, err := m.dial(ctx, credential)
		if err != nil {
			m.logger.Warn("reconnection failed", "attempt", attempt, "error", err)
			wait = next
			continue
		}

		m.mu.Lock()
		if ctx.Err() != nil {
			m.mu.Unlock()
			sess.client.Close()
			return
		}
		m.sess = sess
		m.hadSession = true
		m.credential = credential
		m.wg.Add(1)
		go m.readLoop(ctx, sess)
		m.mu.Unlock()

		m.restore(ctx, sess)

		m.mu.Lock()
		if ctx.Err() != nil || m.sess != sess {
			// Lost again during replay; a newer reconnect owns the state.
			m.mu.Unlock()
			return
		}
		from := m.setStateLocked(StateConnected)
		m.mu.Unlock()
		m.reconnects.Add(1)
		m.notify(from, StateConnected)

		m.logger.Info("reconnected", "session", sess.id, "attempts", attempt)
		return
	}
}

// restore runs the reconnect hook on sess before callers see Connected.
func (m *manager) restore(ctx context.Context, sess *session) {
	if m.onReconnect == nil {
		return
	}
	if err := m.onReconnect(ctx, sessionInvoker{m: m, sess: sess}); err != nil {
		m.logger.Warn("reconnect hook failed", "session", sess.id, "error", err)
	}
}

func (m *manager) reconnectCredential(ctx context.Context) (string, error) {
	if m.tokens != nil {
		return m.tokens(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credential, nil
}

// invoke sends an invocation on sess and waits for its completion.
func (m *manager) invoke(ctx context.Context, sess *session, target string, args ...any) error {
	id := strconv.FormatInt(m.invocationID.Add(1), 10)
	respCh := make(chan protocol.Message, 1)

	if !sess.addPending(id, respCh) {
		return fmt.Errorf("%s: %w", target, ErrConnectionLost)
	}
	defer sess.removePending(id)

	data, err := protocol.EncodeInvocation(id, target, args...)
	if err != nil {
		return fmt.Errorf("encode %s: %w", target, err)
	}

	if err := sess.client.Send(data); err != nil {
		m.invocationsFailed.Add(1)
		return fmt.Errorf("send %s: %w", target, err)
	}
	m.invocationsSent.Add(1)

	timer := m.clock.NewTimer(m.cfg.InvokeTimeout)
	defer timer.Stop()

	// Wait for completion
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		m.invocationsFailed.Add(1)
		return fmt.Errorf("%s: %w", target, ErrTimeout)
	case resp, ok := <-respCh:
		if !ok {
			m.invocationsFailed.Add(1)
			return fmt.Errorf("%s: %w", target, ErrConnectionLost)
		}
		if resp.Error != "" {
			m.invocationsFailed.Add(1)
			return &HubError{Target: target, Message: resp.Error}
		}
		return nil
	}
}

// sessionInvoker invokes on one specific session regardless of manager state.
type sessionInvoker struct {
	m    *manager
	sess *session
}

func (s sessionInvoker) Invoke(ctx context.Context, target string, args ...any) error {
	return s.m.invoke(ctx, s.sess, target, args...)
}

func (s *session) addPending(id string, ch chan protocol.Message) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.lost {
		return false
	}
	s.pending[id] = ch
	return true
}

func (s *session) removePending(id string) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

// routeCompletion sends a completion to the waiting goroutine.
func (s *session) routeCompletion(msg protocol.Message) {
	s.pendingMu.Lock()
	ch, ok := s.pending[msg.InvocationID]
	if ok {
		delete(s.pending, msg.InvocationID)
	}
	s.pendingMu.Unlock()

	if ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

// failPending wakes every waiter with a closed channel.
func (s *session) failPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.lost = true
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}
