package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/bidup-live/internal/model"
)

// Fetcher loads one auction over REST.
type Fetcher interface {
	GetAuction(ctx context.Context, id string) (*model.Auction, error)
}

// AuctionSource provides the auction ids to poll.
type AuctionSource interface {
	WatchedAuctions() []string
}

// AuctionSourceFunc is a function adapter for AuctionSource.
type AuctionSourceFunc func() []string

func (f AuctionSourceFunc) WatchedAuctions() []string {
	return f()
}

// AuctionHandler receives fetched auctions.
type AuctionHandler interface {
	HandleAuction(a model.Auction) error
}

// AuctionHandlerFunc is a function adapter for AuctionHandler.
type AuctionHandlerFunc func(model.Auction) error

func (f AuctionHandlerFunc) HandleAuction(a model.Auction) error {
	return f(a)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 15s)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    15 * time.Second,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Stats contains poller counters.
type Stats struct {
	Cycles  int64
	Skipped int64 // Cycles skipped because the hub was live
	Fetched int64
	Errors  int64
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock sets the clock driving the poll interval.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Poller) {
		p.clock = clock
	}
}

// WithLiveCheck sets the function reporting whether the hub is live.
// Without one, every cycle polls.
func WithLiveCheck(fn func() bool) Option {
	return func(p *Poller) {
		p.live = fn
	}
}

// Poller periodically refreshes watched auctions via REST.
type Poller struct {
	cfg      Config
	client   Fetcher
	auctions AuctionSource
	handler  AuctionHandler
	logger   *slog.Logger
	clock    clockwork.Clock
	live     func() bool

	cycles, skipped, fetched, errs atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, client Fetcher, auctions AuctionSource, handler AuctionHandler, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	p := &Poller{
		cfg:      cfg,
		client:   client,
		auctions: auctions,
		handler:  handler,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("fallback poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("fallback poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns poller counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:  p.cycles.Load(),
		Skipped: p.skipped.Load(),
		Fetched: p.fetched.Load(),
		Errors:  p.errs.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.Chan():
			p.pollAll()
		}
	}
}

// pollAll fetches every watched auction concurrently, unless the hub is live.
func (p *Poller) pollAll() {
	if p.live != nil && p.live() {
		p.skipped.Add(1)
		return
	}
	p.cycles.Add(1)
	start := p.clock.Now()

	ids := p.auctions.WatchedAuctions()
	if len(ids) == 0 {
		p.logger.Debug("no watched auctions to poll")
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var fetched, failed atomic.Int64

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			if err := p.pollAuction(id); err != nil {
				p.logger.Warn("failed to poll auction",
					"auction_id", id,
					"error", err,
				)
				failed.Add(1)
				return
			}

			fetched.Add(1)
		}(id)
	}

	wg.Wait()

	p.fetched.Add(fetched.Load())
	p.errs.Add(failed.Load())
	p.logger.Debug("poll cycle complete",
		"auctions", len(ids),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", p.clock.Since(start),
	)
}

// pollAuction fetches and handles a single auction.
func (p *Poller) pollAuction(id string) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	a, err := p.client.GetAuction(ctx, id)
	if err != nil {
		return err
	}

	if p.handler != nil {
		if err := p.handler.HandleAuction(*a); err != nil {
			return err
		}
	}

	return nil
}
