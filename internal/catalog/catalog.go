package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/bidup-live/internal/model"
)

// ChangeBufferSize is the capacity of the Change channel.
const ChangeBufferSize = 256

// ChangeType says what happened to an auction.
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeStatus  ChangeType = "status_change"
	ChangeRemoved ChangeType = "removed"
)

// Change represents an auction entering, changing in, or leaving the catalog.
type Change struct {
	AuctionID string
	Type      ChangeType
	OldStatus model.AuctionStatus
	NewStatus model.AuctionStatus
	Auction   *model.Auction // Nil when only a status push was seen
}

// Lister is the REST call the catalog syncs from.
type Lister interface {
	GetActiveAuctions(ctx context.Context, page, pageSize int) ([]model.Auction, error)
}

// Config holds Catalog configuration.
type Config struct {
	ReconcileInterval  time.Duration
	PageSize           int
	MaxPages           int
	InitialLoadTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval:  time.Minute,
		PageSize:           50,
		MaxPages:           100,
		InitialLoadTimeout: 30 * time.Second,
	}
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock sets the clock driving reconciliation.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Catalog) {
		c.clock = clock
	}
}

// Catalog tracks active auctions.
type Catalog struct {
	cfg    Config
	rest   Lister
	logger *slog.Logger
	clock  clockwork.Clock

	state *catalogState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Catalog. Nothing is fetched until Start.
func New(cfg Config, rest Lister, logger *slog.Logger, opts ...Option) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = def.ReconcileInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.InitialLoadTimeout <= 0 {
		cfg.InitialLoadTimeout = def.InitialLoadTimeout
	}

	c := &Catalog{
		cfg:    cfg,
		rest:   rest,
		logger: logger,
		clock:  clockwork.NewRealClock(),
		state:  newState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start performs the initial load, then reconciles in the background.
func (c *Catalog) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	loadCtx, cancel := context.WithTimeout(c.ctx, c.cfg.InitialLoadTimeout)
	defer cancel()
	if err := c.initialSync(loadCtx); err != nil {
		c.cancel()
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconciliationLoop(c.ctx)
	}()

	c.logger.Info("auction catalog started", "active_auctions", c.state.activeCount())
	return nil
}

// Stop gracefully shuts down.
func (c *Catalog) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("auction catalog stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the open auctions, soonest ending first.
func (c *Catalog) Active() []model.Auction {
	return c.state.active()
}

// Get returns an auction by id.
func (c *Catalog) Get(auctionID string) (model.Auction, bool) {
	return c.state.get(auctionID)
}

// Changes returns the channel of catalog changes. When nobody drains it the
// oldest changes are dropped.
func (c *Catalog) Changes() <-chan Change {
	return c.state.changes
}

// LastSync returns when the catalog last matched the API.
func (c *Catalog) LastSync() time.Time {
	c.state.mu.RLock()
	defer c.state.mu.RUnlock()
	return c.state.lastSyncAt
}

// HandleStatus applies a hub status push. Pushes for unknown auctions are ignored;
// the next reconciliation picks them up.
func (c *Catalog) HandleStatus(n model.AuctionStatusNotification) {
	old, found := c.state.updateStatus(n.AuctionID, n.Status)
	if !found || old == n.Status {
		return
	}

	change := Change{AuctionID: n.AuctionID, Type: ChangeStatus, OldStatus: old, NewStatus: n.Status}
	if !n.Status.IsOpen() {
		change.Type = ChangeRemoved
	}
	c.state.notifyChange(change)

	c.logger.Debug("auction status pushed", "auction", n.AuctionID, "from", old, "to", n.Status)
}
