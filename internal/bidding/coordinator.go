package bidding

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/rickgao/bidup-live/internal/auth"
	"github.com/rickgao/bidup-live/internal/connection"
	"github.com/rickgao/bidup-live/internal/model"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for the resolution deadline.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithTimeout sets the resolution deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type pendingBid struct {
	req   Request
	done  Callback
	timer clockwork.Timer
}

// Coordinator owns the client's single pending-bid slot.
type Coordinator struct {
	conn    Conn
	tokens  auth.Source
	clock   clockwork.Clock
	timeout time.Duration
	logger  *slog.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	pending *pendingBid

	submitted  atomic.Int64
	duplicates atomic.Int64
	accepted   atomic.Int64
	rejected   atomic.Int64
	superseded atomic.Int64
	timedOut   atomic.Int64
	failed     atomic.Int64
	late       atomic.Int64
}

// NewCoordinator creates a coordinator sending through conn. tokens is
// consulted before every submission.
func NewCoordinator(conn Conn, tokens auth.Source, opts ...Option) *Coordinator {
	c := &Coordinator{
		conn:    conn,
		tokens:  tokens,
		clock:   clockwork.NewRealClock(),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "bidding")
	return c
}

// Submit places a bid. It returns ErrBidInFlight, without calling done, when
// another bid is unresolved. Otherwise done is called exactly once with the
// resolution; it may be called before Submit returns.
//
// Submit blocks until the server confirms the send, not until the bid is
// resolved.
func (c *Coordinator) Submit(ctx context.Context, auctionID string, amount decimal.Decimal, done Callback) error {
	if done == nil {
		done = func(Result) {}
	}
	if c.Busy() {
		c.duplicates.Add(1)
		return ErrBidInFlight
	}

	if msg, err := c.authorize(ctx); err != nil {
		done(Result{AuctionID: auctionID, Amount: amount, Outcome: OutcomeUnauthenticated, Message: msg, Err: err})
		return nil
	}

	if !c.conn.IsConnected() {
		c.failed.Add(1)
		done(Result{AuctionID: auctionID, Amount: amount, Outcome: OutcomeSendFailed, Message: MsgNotConnected, Err: connection.ErrNotConnected})
		return nil
	}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		c.duplicates.Add(1)
		return ErrBidInFlight
	}
	req := Request{
		ID:        c.nextID.Add(1),
		AuctionID: auctionID,
		Amount:    amount,
		CreatedAt: c.clock.Now(),
	}
	c.pending = &pendingBid{req: req, done: done}
	c.mu.Unlock()

	c.submitted.Add(1)
	c.logger.Debug("placing bid", "request_id", req.ID, "auction_id", auctionID, "amount", amount)

	// BidAccepted may arrive before the completion, resolving the bid while
	// this call is still blocked.
	if err := c.conn.Invoke(ctx, MethodPlaceBid, auctionID, json.Number(amount.String())); err != nil {
		msg := MsgSendFailed
		if errors.Is(err, connection.ErrNotConnected) {
			msg = MsgNotConnected
		}
		c.logger.Warn("bid send failed", "request_id", req.ID, "auction_id", auctionID, "error", err)
		c.resolveIf(req.ID, func(r *Result) {
			r.Outcome = OutcomeSendFailed
			r.Message = msg
			r.Err = err
		})
		return nil
	}

	c.mu.Lock()
	if c.pending != nil && c.pending.req.ID == req.ID {
		c.pending.req.Deadline = c.clock.Now().Add(c.timeout)
		c.pending.timer = c.clock.AfterFunc(c.timeout, func() { c.expire(req.ID) })
	}
	c.mu.Unlock()
	return nil
}

// authorize checks for a usable credential and returns the user-facing
// message when there is none.
func (c *Coordinator) authorize(ctx context.Context) (string, error) {
	if _, err := c.tokens.Token(ctx); err != nil {
		c.failed.Add(1)
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return MsgSignInRequired, err
		}
		return MsgSessionExpired, err
	}
	return "", nil
}

// OnBidAccepted resolves the pending bid as accepted. It reports whether a
// bid was pending.
func (c *Coordinator) OnBidAccepted(bid model.Bid) bool {
	return c.resolveCurrent("BidAccepted", func(r *Result) {
		r.Outcome = OutcomeAccepted
		r.Bid = &bid
	})
}

// OnBidError resolves the pending bid as rejected with the server's message.
func (c *Coordinator) OnBidError(message string) bool {
	if message == "" {
		message = MsgRejected
	}
	return c.resolveCurrent("BidError", func(r *Result) {
		r.Outcome = OutcomeRejected
		r.Message = message
	})
}

// ObserveNewBid checks a room broadcast against the pending bid. A bid on the
// same auction for a different amount means another bidder was accepted
// first; an equal amount is taken to be this client's own bid and is left for
// BidAccepted to resolve.
func (c *Coordinator) ObserveNewBid(n model.BidNotification) bool {
	c.mu.Lock()
	p := c.pending
	if p == nil || !model.SameAuction(p.req.AuctionID, n.AuctionID) || p.req.Amount.Equal(n.Bid.Amount) {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	return c.resolveIf(p.req.ID, func(r *Result) {
		r.Outcome = OutcomeSuperseded
		r.Message = MsgSuperseded
		c.logger.Info("bid superseded",
			"request_id", r.RequestID,
			"auction_id", r.AuctionID,
			"amount", r.Amount,
			"winning_amount", n.Bid.Amount,
		)
	})
}

// Pending returns the bid in flight, if any.
func (c *Coordinator) Pending() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return Request{}, false
	}
	return c.pending.req, true
}

// Busy reports whether a bid is in flight.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Stats returns coordinator counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Submitted:  c.submitted.Load(),
		Duplicates: c.duplicates.Load(),
		Accepted:   c.accepted.Load(),
		Rejected:   c.rejected.Load(),
		Superseded: c.superseded.Load(),
		TimedOut:   c.timedOut.Load(),
		Failed:     c.failed.Load(),
		Late:       c.late.Load(),
	}
}

// expire fires from the deadline timer. A timer belonging to an already
// resolved request does nothing.
func (c *Coordinator) expire(id uint64) {
	c.resolveIf(id, func(r *Result) {
		r.Outcome = OutcomeTimedOut
		r.Message = MsgTimedOut
		c.logger.Warn("bid timed out", "request_id", id, "auction_id", r.AuctionID)
	})
}

func (c *Coordinator) resolveCurrent(event string, fill func(*Result)) bool {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()

	if p == nil {
		c.late.Add(1)
		c.logger.Debug("resolution event with no pending bid", "event", event)
		return false
	}
	return c.resolveIf(p.req.ID, fill)
}

// resolveIf clears the pending slot when it still holds request id, then
// hands the filled Result to the submitter.
func (c *Coordinator) resolveIf(id uint64, fill func(*Result)) bool {
	c.mu.Lock()
	p := c.pending
	if p == nil || p.req.ID != id {
		c.mu.Unlock()
		c.late.Add(1)
		return false
	}
	c.pending = nil
	if p.timer != nil {
		p.timer.Stop()
	}
	c.mu.Unlock()

	r := Result{RequestID: p.req.ID, AuctionID: p.req.AuctionID, Amount: p.req.Amount}
	fill(&r)
	c.count(r.Outcome)
	p.done(r)
	return true
}

func (c *Coordinator) count(o Outcome) {
	switch o {
	case OutcomeAccepted:
		c.accepted.Add(1)
	case OutcomeRejected:
		c.rejected.Add(1)
	case OutcomeSuperseded:
		c.superseded.Add(1)
	case OutcomeTimedOut:
		c.timedOut.Add(1)
	default:
		c.failed.Add(1)
	}
}
