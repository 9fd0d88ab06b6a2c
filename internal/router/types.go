package router

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/bidup-live/internal/model"
)

// RouterConfig holds configuration for the Event Dispatcher.
type RouterConfig struct {
	// BidBufferSize is the initial capacity of the bid journal buffer.
	// Zero disables the buffer.
	BidBufferSize int // Default: 0
	// BidBufferMax caps buffer growth; the oldest entries are dropped beyond it.
	BidBufferMax int // Default: 65536
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		BidBufferSize: 0,
		BidBufferMax:  65536,
	}
}

// EventType names a server-to-client hub event.
type EventType string

const (
	EventNewBid               EventType = "NewBid"
	EventAuctionStatusChanged EventType = "AuctionStatusChanged"
	EventAuctionEnded         EventType = "AuctionEnded"
	EventTimerSync            EventType = "TimerSync"
	EventJoinedAuction        EventType = "JoinedAuction"
	EventBidAccepted          EventType = "BidAccepted"
	EventBidError             EventType = "BidError"
	EventLiveStatsUpdated     EventType = "LiveStatsUpdated"
)

// Event is one decoded hub event. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type       EventType
	AuctionID  string // Empty for BidError and LiveStatsUpdated
	ReceivedAt time.Time

	NewBid    *model.BidNotification           // NewBid
	Status    *model.AuctionStatusNotification // AuctionStatusChanged, AuctionEnded
	TimerSync *model.TimerSync                 // TimerSync
	Joined    *model.JoinedAuction             // JoinedAuction
	Accepted  *model.Bid                       // BidAccepted
	Rejected  *model.BidError                  // BidError
	LiveStats *model.LiveStats                 // LiveStatsUpdated
}

// Listener receives events of one type.
type Listener func(Event)

// Listeners maps event types to their listener.
type Listeners map[EventType]Listener

// BidSource says where a journaled bid was observed.
type BidSource string

const (
	SourceBroadcast BidSource = "broadcast" // NewBid room broadcast
	SourceAccepted  BidSource = "accepted"  // BidAccepted, the viewer's own bid
)

// BidMsg is a bid observed on the hub, queued for the journal.
type BidMsg struct {
	AuctionID       string
	Bid             model.Bid
	NewCurrentPrice decimal.Decimal // Zero for SourceAccepted
	TotalBids       int             // Zero for SourceAccepted
	Source          BidSource
	ReceivedAt      time.Time
}

// RouterBuffers provides access to output buffers for writers.
type RouterBuffers struct {
	Bids *GrowableBuffer[BidMsg] // Nil when disabled
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	EventsReceived  int64
	EventsDelivered int64
	ParseErrors     int64
	UnknownEvents   int64
	BidBuffer       BufferStats
}
