package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/rickgao/bidup-live/internal/auction"
	"github.com/rickgao/bidup-live/internal/auth"
	"github.com/rickgao/bidup-live/internal/bidding"
	"github.com/rickgao/bidup-live/internal/connection"
	"github.com/rickgao/bidup-live/internal/model"
	"github.com/rickgao/bidup-live/internal/room"
	"github.com/rickgao/bidup-live/internal/router"
)

// MethodRequestTimerSync asks the server for a TimerSync push.
const MethodRequestTimerSync = "RequestTimerSync"

// Config holds configuration for a Hub.
type Config struct {
	Connection  connection.ManagerConfig
	Router      router.RouterConfig
	BidTimeout  time.Duration // Default: 10s
	ReplayLimit int           // Concurrent rejoins after reconnect. Default: 8
	JoinTimeout time.Duration // Default: 10s
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Connection:  connection.DefaultManagerConfig(),
		Router:      router.DefaultRouterConfig(),
		BidTimeout:  bidding.DefaultTimeout,
		ReplayLimit: 8,
		JoinTimeout: 10 * time.Second,
	}
}

// Stats contains runtime statistics for the whole client.
type Stats struct {
	Connection connection.ManagerStats
	Router     router.RouterStats
	Bidding    bidding.Stats
	Rooms      []string
	Watches    int
}

// Option configures a Hub.
type Option func(*options)

type options struct {
	clock         clockwork.Clock
	clientFactory func(connection.ClientConfig, *slog.Logger) connection.Client
}

// WithClock sets the clock for reconnect backoff and bid deadlines.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithClientFactory overrides how transport clients are created.
func WithClientFactory(fn func(connection.ClientConfig, *slog.Logger) connection.Client) Option {
	return func(o *options) {
		o.clientFactory = fn
	}
}

// Hub is the live auction client.
type Hub struct {
	cfg    Config
	logger *slog.Logger
	tokens auth.Source

	router router.Router
	mgr    connection.Manager
	rooms  *room.Registry
	coord  *bidding.Coordinator

	mu             sync.RWMutex
	nextWatch      uint64
	watches        map[uint64]*Subscription
	liveStats      func(model.LiveStats)
	stateListeners []connection.StateListener
}

// New creates a Hub. Nothing is dialed until Connect.
func New(cfg Config, tokens auth.Source, logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}

	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	h := &Hub{
		cfg:     cfg,
		logger:  logger,
		tokens:  tokens,
		watches: make(map[uint64]*Subscription),
	}

	h.router = router.NewRouter(cfg.Router, logger.With("component", "router"))

	mgrOpts := []connection.ManagerOption{
		connection.WithClock(o.clock),
		connection.WithTokenSource(tokens.Token),
		connection.WithReconnectHook(func(ctx context.Context, inv connection.Invoker) error {
			return h.rooms.Replay(ctx, inv)
		}),
		connection.WithStateListener(h.stateChanged),
	}
	if o.clientFactory != nil {
		mgrOpts = append(mgrOpts, connection.WithClientFactory(o.clientFactory))
	}
	h.mgr = connection.NewManager(cfg.Connection, h.router, logger.With("component", "connection"), mgrOpts...)

	h.rooms = room.NewRegistry(h.mgr, cfg.ReplayLimit, logger.With("component", "rooms"))
	h.coord = bidding.NewCoordinator(h.mgr, tokens,
		bidding.WithClock(o.clock),
		bidding.WithTimeout(cfg.BidTimeout),
		bidding.WithLogger(logger),
	)
	return h
}

// Connect obtains a credential and connects. Failure is not fatal: the
// client stays usable without live updates, and the caller may fall back to
// polling. Unless the credential was rejected the connection keeps retrying
// in the background. Recorded rooms are rejoined on a replacement connection
// and watched auctions are joined once connected.
func (h *Hub) Connect(ctx context.Context) error {
	token, err := h.tokens.Token(ctx)
	if err != nil {
		h.logger.Debug("no credential for hub connection", "error", err)
		return &connection.ConnectionError{Op: "connect", Unauthorized: true, Err: err}
	}

	h.installListeners()

	if err := h.mgr.Connect(ctx, token); err != nil {
		return fmt.Errorf("hub connect: %w", err)
	}
	return nil
}

// Disconnect leaves every room (errors ignored), closes the connection and
// clears all listeners and room records.
func (h *Hub) Disconnect(ctx context.Context) error {
	h.rooms.LeaveAll(ctx)
	err := h.mgr.Disconnect(ctx)

	h.router.Clear()
	h.rooms.Clear()

	h.mu.Lock()
	for _, sub := range h.watches {
		sub.closed = true
	}
	h.watches = make(map[uint64]*Subscription)
	h.liveStats = nil
	h.mu.Unlock()

	return err
}

// Close disconnects and closes the bid journal buffer.
func (h *Hub) Close(ctx context.Context) error {
	err := h.Disconnect(ctx)
	h.router.Close()
	return err
}

// State returns the connection state.
func (h *Hub) State() connection.State {
	return h.mgr.State()
}

// IsConnected reports whether the hub is live.
func (h *Hub) IsConnected() bool {
	return h.mgr.IsConnected()
}

// OnStateChange registers fn for connection state transitions.
func (h *Hub) OnStateChange(fn connection.StateListener) {
	h.mu.Lock()
	h.stateListeners = append(h.stateListeners, fn)
	h.mu.Unlock()
}

// OnLiveStats registers the LiveStatsUpdated listener, replacing any other.
func (h *Hub) OnLiveStats(fn func(model.LiveStats)) {
	h.mu.Lock()
	h.liveStats = fn
	h.mu.Unlock()
}

// OffLiveStats removes the LiveStatsUpdated listener.
func (h *Hub) OffLiveStats() {
	h.OnLiveStats(nil)
}

// RequestTimerSync asks the server to push a TimerSync for auctionID. It does
// nothing when not connected, and failures are only logged.
func (h *Hub) RequestTimerSync(ctx context.Context, auctionID string) {
	if !h.mgr.IsConnected() {
		return
	}
	if err := h.mgr.Invoke(ctx, MethodRequestTimerSync, auctionID); err != nil {
		h.logger.Debug("timer sync request failed", "auction_id", auctionID, "error", err)
	}
}

// Coordinator returns the client's bid coordinator.
func (h *Hub) Coordinator() *bidding.Coordinator {
	return h.coord
}

// NewBidder creates a Bidder for view. Accepted bids are applied to the view
// optimistically; onError, when set, receives every other outcome.
func (h *Hub) NewBidder(view *auction.View, onError func(bidding.Result)) *bidding.Bidder {
	prices := func() (decimal.Decimal, decimal.Decimal) {
		s := view.Snapshot()
		return s.CurrentPrice, s.MinBidIncrement
	}
	opts := []bidding.BidderOption{
		bidding.OnSuccess(func(b model.Bid) { view.ApplyLocalBid(b) }),
	}
	if onError != nil {
		opts = append(opts, bidding.OnError(onError))
	}
	return bidding.NewBidder(h.coord, view.AuctionID(), prices, opts...)
}

// BidJournal returns the buffer of observed bids, or nil when disabled.
func (h *Hub) BidJournal() *router.GrowableBuffer[router.BidMsg] {
	return h.router.Buffers().Bids
}

// Rooms returns the auction rooms currently joined.
func (h *Hub) Rooms() []string {
	return h.rooms.Rooms()
}

// Stats returns current statistics.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	watches := len(h.watches)
	h.mu.RUnlock()

	return Stats{
		Connection: h.mgr.Stats(),
		Router:     h.router.Stats(),
		Bidding:    h.coord.Stats(),
		Rooms:      h.rooms.Rooms(),
		Watches:    watches,
	}
}

func (h *Hub) installListeners() {
	h.router.SetListeners(router.Listeners{
		router.EventNewBid:               h.onNewBid,
		router.EventBidAccepted:          h.onBidAccepted,
		router.EventBidError:             h.onBidError,
		router.EventAuctionStatusChanged: h.fanOut,
		router.EventAuctionEnded:         h.fanOut,
		router.EventTimerSync:            h.fanOut,
		router.EventJoinedAuction:        h.fanOut,
		router.EventLiveStatsUpdated:     h.onLiveStats,
	})
}

func (h *Hub) onNewBid(ev router.Event) {
	h.coord.ObserveNewBid(*ev.NewBid)
	h.fanOut(ev)
}

func (h *Hub) onBidAccepted(ev router.Event) {
	h.coord.OnBidAccepted(*ev.Accepted)
}

func (h *Hub) onBidError(ev router.Event) {
	h.coord.OnBidError(ev.Rejected.Message)
}

func (h *Hub) onLiveStats(ev router.Event) {
	h.mu.RLock()
	fn := h.liveStats
	h.mu.RUnlock()
	if fn != nil {
		fn(*ev.LiveStats)
	}
}

// fanOut delivers a room event to every watch on that auction, in
// registration order.
func (h *Hub) fanOut(ev router.Event) {
	for _, sub := range h.watchesSnapshot() {
		if l := sub.listeners[ev.Type]; l != nil {
			l(ev)
		}
	}
}

func (h *Hub) stateChanged(from, to connection.State) {
	h.mu.RLock()
	listeners := append([]connection.StateListener(nil), h.stateListeners...)
	h.mu.RUnlock()

	if to == connection.StateConnected {
		h.joinWatched()
	}
	for _, fn := range listeners {
		fn(from, to)
	}
}

// joinWatched joins rooms for watches created while not connected. Rooms
// already recorded are no-ops.
func (h *Hub) joinWatched() {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.JoinTimeout)
	defer cancel()
	for _, sub := range h.watchesSnapshot() {
		h.rooms.Join(ctx, sub.auctionID)
	}
}
