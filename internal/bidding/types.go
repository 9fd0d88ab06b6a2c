package bidding

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/bidup-live/internal/connection"
	"github.com/rickgao/bidup-live/internal/model"
)

// MethodPlaceBid is the hub method that places a bid.
const MethodPlaceBid = "PlaceBid"

// DefaultTimeout is how long a sent bid may wait for BidAccepted or BidError.
const DefaultTimeout = 10 * time.Second

var (
	// ErrBidInFlight is returned when a bid is submitted while another one
	// is unresolved. Nothing is sent.
	ErrBidInFlight = errors.New("a bid is already in flight")

	// ErrInvalidAmount is returned by Bidder when the amount fails the
	// validity gate. Nothing is sent.
	ErrInvalidAmount = errors.New("invalid bid amount")
)

// User-facing messages.
const (
	MsgSignInRequired = "You must sign in to bid"
	MsgSessionExpired = "Your session has expired. Please sign in again."
	MsgNotConnected   = "No connection to the server. Please try again."
	MsgSendFailed     = "Failed to send the bid. Please try again."
	MsgSuperseded     = "Someone else placed a bid first. Please refresh and try again."
	MsgTimedOut       = "The bid request timed out. Refresh to check whether it was placed."
	MsgRejected       = "Error placing bid"
)

// Conn is the part of the Connection Manager the coordinator needs.
type Conn interface {
	connection.Invoker
	IsConnected() bool
}

// Outcome is how a bid was resolved.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeRejected
	OutcomeSuperseded
	OutcomeTimedOut
	OutcomeUnauthenticated
	OutcomeSendFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeUnauthenticated:
		return "unauthenticated"
	case OutcomeSendFailed:
		return "send_failed"
	default:
		return "unknown"
	}
}

// Request is the bid in flight.
type Request struct {
	ID        uint64
	AuctionID string
	Amount    decimal.Decimal
	CreatedAt time.Time
	Deadline  time.Time // Zero until the send completes
}

// Result is the resolution of one submission.
type Result struct {
	RequestID uint64 // Zero when the bid never entered Submitting
	AuctionID string
	Amount    decimal.Decimal
	Outcome   Outcome
	Bid       *model.Bid // Set for OutcomeAccepted
	Message   string     // User-facing; empty for OutcomeAccepted
	Err       error      // Underlying cause, when there is one
}

// OK reports whether the bid was accepted.
func (r Result) OK() bool {
	return r.Outcome == OutcomeAccepted
}

// Callback receives the Result of a submission. It runs exactly once and
// never with the coordinator's lock held.
type Callback func(Result)

// Stats contains coordinator counters.
type Stats struct {
	Submitted  int64
	Duplicates int64
	Accepted   int64
	Rejected   int64
	Superseded int64
	TimedOut   int64
	Failed     int64 // Unauthenticated and send failures
	Late       int64 // Resolution events with nothing pending
}
