// Package auction holds the client's believed-current state of one auction
// and folds server pushes and local confirmations into it.
//
// Server pushes (NewBid, TimerSync, status changes, REST snapshots) overwrite
// the fields they carry wholesale. A locally accepted bid is applied
// optimistically and is a no-op when the broadcast for the same bid already
// arrived, so the later broadcast never double counts it.
package auction

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/rickgao/bidup-live/internal/model"
)

// DefaultHistoryLimit is how many recent bids a view keeps.
const DefaultHistoryLimit = 50

// State is a snapshot of one auction as the client believes it to be.
type State struct {
	AuctionID       string
	Title           string
	CurrentPrice    decimal.Decimal
	MinBidIncrement decimal.Decimal
	TotalBids       int
	TimeRemaining   model.TimeSpan // As of UpdatedAt
	EndTime         time.Time      // Zero if unknown
	Status          model.AuctionStatus
	StatusMessage   string
	LatestBid       *model.Bid
	Winner          *model.Bid
	History         []model.Bid // Newest first
	UpdatedAt       time.Time
}

// MinNextBid is the smallest amount the server will accept.
func (s State) MinNextBid() decimal.Decimal {
	return s.CurrentPrice.Add(s.MinBidIncrement)
}

// Option configures a View.
type Option func(*View)

// WithClock sets the clock used for UpdatedAt and countdowns.
func WithClock(clock clockwork.Clock) Option {
	return func(v *View) {
		v.clock = clock
	}
}

// WithHistoryLimit caps the bid history length.
func WithHistoryLimit(n int) Option {
	return func(v *View) {
		if n > 0 {
			v.historyLimit = n
		}
	}
}

// WithOnChange registers a function called with the new state after every
// change. It runs on the goroutine that applied the change.
func WithOnChange(fn func(State)) Option {
	return func(v *View) {
		v.onChange = fn
	}
}

// View is the reconciled state of one auction. Safe for concurrent use.
type View struct {
	clock        clockwork.Clock
	historyLimit int
	onChange     func(State)

	mu    sync.RWMutex
	state State
}

// NewView creates a view seeded from a REST snapshot.
func NewView(a model.Auction, opts ...Option) *View {
	v := &View{
		clock:        clockwork.NewRealClock(),
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.state = v.fromAuction(a, nil)
	return v
}

// AuctionID returns the id of the auction this view tracks.
func (v *View) AuctionID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.AuctionID
}

// Snapshot returns a copy of the current state.
func (v *View) Snapshot() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.copyLocked()
}

// Remaining estimates the time left now, from the end time if known and
// otherwise from the last pushed remaining time.
func (v *View) Remaining() time.Duration {
	v.mu.RLock()
	defer v.mu.RUnlock()

	now := v.clock.Now()
	var left time.Duration
	if !v.state.EndTime.IsZero() {
		left = v.state.EndTime.Sub(now)
	} else {
		left = v.state.TimeRemaining.Duration() - now.Sub(v.state.UpdatedAt)
	}
	if left < 0 {
		return 0
	}
	return left
}

// Replace overwrites the state with a REST snapshot. Bid history is kept.
func (v *View) Replace(a model.Auction) {
	v.update(func(s *State) bool {
		*s = v.fromAuction(a, s.History)
		return true
	})
}

// ApplyNewBid folds a room broadcast into the view. Returns false if the
// notification is for another auction.
func (v *View) ApplyNewBid(n model.BidNotification) bool {
	return v.update(func(s *State) bool {
		if !model.SameAuction(n.AuctionID, s.AuctionID) {
			return false
		}
		bid := n.Bid
		s.CurrentPrice = n.NewCurrentPrice
		s.TotalBids = n.TotalBids
		s.TimeRemaining = n.TimeRemaining
		v.recordLocked(s, bid)
		s.LatestBid = &bid
		return true
	})
}

// ApplyTimerSync corrects the countdown. Returns false if the sync is for
// another auction.
func (v *View) ApplyTimerSync(ts model.TimerSync) bool {
	return v.update(func(s *State) bool {
		if !model.SameAuction(ts.AuctionID, s.AuctionID) {
			return false
		}
		s.TimeRemaining = ts.TimeRemaining
		if !ts.EndTime.IsZero() {
			s.EndTime = ts.EndTime.Time
		}
		return true
	})
}

// ApplyStatus records a status change or the auction's end.
func (v *View) ApplyStatus(n model.AuctionStatusNotification) bool {
	return v.update(func(s *State) bool {
		if !model.SameAuction(n.AuctionID, s.AuctionID) {
			return false
		}
		s.Status = n.Status
		s.StatusMessage = n.Message
		if n.WinnerBid != nil {
			winner := *n.WinnerBid
			s.Winner = &winner
		}
		if !n.Status.IsOpen() {
			s.TimeRemaining = 0
		}
		return true
	})
}

// ApplyLocalBid applies the viewer's own accepted bid optimistically: the
// price becomes the bid amount and the count goes up by one. It is a no-op if
// the bid is already known, typically because its broadcast arrived first.
func (v *View) ApplyLocalBid(b model.Bid) bool {
	return v.update(func(s *State) bool {
		if b.AuctionID != "" && !model.SameAuction(b.AuctionID, s.AuctionID) {
			return false
		}
		if v.knownLocked(s, b.ID) {
			return false
		}
		bid := b
		s.CurrentPrice = b.Amount
		s.TotalBids++
		v.recordLocked(s, bid)
		s.LatestBid = &bid
		return true
	})
}

// update applies fn under the lock and notifies onChange if fn reports a change.
func (v *View) update(fn func(s *State) bool) bool {
	v.mu.Lock()
	changed := fn(&v.state)
	if changed {
		v.state.UpdatedAt = v.clock.Now()
	}
	snapshot := v.copyLocked()
	v.mu.Unlock()

	if changed && v.onChange != nil {
		v.onChange(snapshot)
	}
	return changed
}

func (v *View) fromAuction(a model.Auction, history []model.Bid) State {
	s := State{
		AuctionID:       a.ID,
		Title:           a.Title,
		CurrentPrice:    a.CurrentPrice,
		MinBidIncrement: a.MinBidIncrement,
		TotalBids:       a.TotalBids,
		TimeRemaining:   a.TimeRemaining,
		EndTime:         a.EndTime.Time,
		Status:          a.Status,
		History:         history,
		UpdatedAt:       v.clock.Now(),
	}
	if a.LatestBid != nil {
		bid := *a.LatestBid
		v.recordLocked(&s, bid)
		s.LatestBid = &bid
	}
	return s
}

// recordLocked prepends bid to the history unless its id is already there.
func (v *View) recordLocked(s *State, bid model.Bid) {
	if bid.ID == "" || v.knownLocked(s, bid.ID) {
		return
	}
	s.History = append([]model.Bid{bid}, s.History...)
	if len(s.History) > v.historyLimit {
		s.History = s.History[:v.historyLimit]
	}
}

func (v *View) knownLocked(s *State, bidID string) bool {
	if bidID == "" {
		return false
	}
	if s.LatestBid != nil && s.LatestBid.ID == bidID {
		return true
	}
	for _, b := range s.History {
		if b.ID == bidID {
			return true
		}
	}
	return false
}

func (v *View) copyLocked() State {
	s := v.state
	s.History = append([]model.Bid(nil), v.state.History...)
	if s.LatestBid != nil {
		bid := *s.LatestBid
		s.LatestBid = &bid
	}
	if s.Winner != nil {
		bid := *s.Winner
		s.Winner = &bid
	}
	return s
}
