package bidding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rickgao/bidup-live/internal/model"
)

// PriceFunc returns an auction's last known current price and minimum
// increment.
type PriceFunc func() (current, increment decimal.Decimal)

// MinNextBid is the smallest amount the increment rule allows.
func MinNextBid(current, increment decimal.Decimal) decimal.Decimal {
	return current.Add(increment)
}

// Valid reports whether amount may be submitted: it must exceed the current
// price and meet the increment minimum. The first condition still matters
// when the increment is zero or negative.
func Valid(amount, current, increment decimal.Decimal) bool {
	return amount.GreaterThan(current) && amount.GreaterThanOrEqual(MinNextBid(current, increment))
}

// BidderOption configures a Bidder.
type BidderOption func(*Bidder)

// OnSuccess is called with the accepted bid.
func OnSuccess(fn func(model.Bid)) BidderOption {
	return func(b *Bidder) {
		b.onSuccess = fn
	}
}

// OnError is called with every non-accepted Result, so the caller can
// refresh from REST.
func OnError(fn func(Result)) BidderOption {
	return func(b *Bidder) {
		b.onError = fn
	}
}

// Bidder places bids for one auction view.
type Bidder struct {
	coord     *Coordinator
	auctionID string
	prices    PriceFunc

	onSuccess func(model.Bid)
	onError   func(Result)

	mu         sync.Mutex
	amount     string
	submitting bool
	err        string
	last       *Result
}

// NewBidder creates a Bidder for auctionID.
func NewBidder(coord *Coordinator, auctionID string, prices PriceFunc, opts ...BidderOption) *Bidder {
	b := &Bidder{
		coord:     coord,
		auctionID: auctionID,
		prices:    prices,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AuctionID returns the auction this bidder bids on.
func (b *Bidder) AuctionID() string {
	return b.auctionID
}

// MinNextBid returns the minimum amount at the current price.
func (b *Bidder) MinNextBid() decimal.Decimal {
	return MinNextBid(b.prices())
}

// SetAmount sets the amount input.
func (b *Bidder) SetAmount(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.amount = strings.TrimSpace(text)
}

// Amount returns the amount input.
func (b *Bidder) Amount() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.amount
}

// IsValid reports whether the amount input passes the validity gate.
func (b *Bidder) IsValid() bool {
	amount, ok := b.parsedAmount()
	if !ok {
		return false
	}
	current, increment := b.prices()
	return Valid(amount, current, increment)
}

// IsSubmitting reports whether this bidder's bid is in flight.
func (b *Bidder) IsSubmitting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitting
}

// Err returns the last error message, or "" after a success.
func (b *Bidder) Err() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// LastResult returns the most recent resolution.
func (b *Bidder) LastResult() (Result, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return Result{}, false
	}
	return *b.last, true
}

// Submit bids the amount input. Without a credential the bid resolves as
// unauthenticated before the amount is looked at. An invalid amount sets Err
// and returns ErrInvalidAmount without contacting the server.
func (b *Bidder) Submit(ctx context.Context) error {
	if msg, err := b.coord.authorize(ctx); err != nil {
		amount, _ := b.parsedAmount()
		b.resolve(Result{AuctionID: b.auctionID, Amount: amount, Outcome: OutcomeUnauthenticated, Message: msg, Err: err}, false)
		return nil
	}

	current, increment := b.prices()
	amount, ok := b.parsedAmount()
	if !ok || !Valid(amount, current, increment) {
		b.mu.Lock()
		b.err = fmt.Sprintf("The minimum bid is %s", MinNextBid(current, increment).StringFixed(2))
		b.mu.Unlock()
		return ErrInvalidAmount
	}
	return b.submit(ctx, amount, true)
}

// QuickBid bids exactly the current price plus the minimum increment.
func (b *Bidder) QuickBid(ctx context.Context) error {
	return b.submit(ctx, b.MinNextBid(), false)
}

func (b *Bidder) submit(ctx context.Context, amount decimal.Decimal, resetInput bool) error {
	b.mu.Lock()
	if b.submitting {
		b.mu.Unlock()
		return ErrBidInFlight
	}
	b.submitting = true
	b.err = ""
	b.mu.Unlock()

	err := b.coord.Submit(ctx, b.auctionID, amount, func(r Result) {
		b.resolve(r, resetInput)
	})
	if errors.Is(err, ErrBidInFlight) {
		b.mu.Lock()
		b.submitting = false
		b.mu.Unlock()
	}
	return err
}

func (b *Bidder) resolve(r Result, resetInput bool) {
	b.mu.Lock()
	b.submitting = false
	b.last = &r
	if r.OK() {
		b.err = ""
		if resetInput {
			b.amount = ""
		}
	} else {
		b.err = r.Message
	}
	b.mu.Unlock()

	if r.OK() {
		if b.onSuccess != nil && r.Bid != nil {
			b.onSuccess(*r.Bid)
		}
		return
	}
	if b.onError != nil {
		b.onError(r)
	}
}

func (b *Bidder) parsedAmount() (decimal.Decimal, bool) {
	b.mu.Lock()
	text := b.amount
	b.mu.Unlock()

	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return amount, true
}
