package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/bidup-live/internal/connection"
	"github.com/rickgao/bidup-live/internal/model"
)

var errMissingPayload = errors.New("event has no payload argument")

// Router decodes hub events and hands each one to the listener registered
// for its type. Delivery is synchronous and in receipt order.
type Router interface {
	connection.Handler

	// On registers fn for eventType, replacing any previous listener.
	On(eventType EventType, fn Listener)

	// Off removes the listener for eventType.
	Off(eventType EventType)

	// SetListeners registers several listeners at once. Types not present in
	// ls keep their current listener.
	SetListeners(ls Listeners)

	// Clear removes every listener.
	Clear()

	// Buffers returns output buffers for writers to consume.
	Buffers() RouterBuffers

	// Close closes the output buffers.
	Close()

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[EventType]Listener

	// Output to the bid journal (nil when disabled)
	bidBuf *GrowableBuffer[BidMsg]

	received    atomic.Int64
	delivered   atomic.Int64
	parseErrors atomic.Int64
	unknown     atomic.Int64
}

// NewRouter creates a new Event Dispatcher.
func NewRouter(cfg RouterConfig, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	r := &router{
		cfg:       cfg,
		logger:    logger,
		listeners: make(map[EventType]Listener),
	}
	if cfg.BidBufferSize > 0 {
		r.bidBuf = NewBoundedBuffer[BidMsg](cfg.BidBufferSize, cfg.BidBufferMax)
	}
	return r
}

// ForAuction wraps fn so it only sees events for auctionID. Identifiers are
// compared case-insensitively. Events without an auction (BidError,
// LiveStatsUpdated) are passed through.
func ForAuction(auctionID string, fn Listener) Listener {
	return func(ev Event) {
		if ev.AuctionID != "" && !model.SameAuction(ev.AuctionID, auctionID) {
			return
		}
		fn(ev)
	}
}

func (r *router) On(eventType EventType, fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.listeners, eventType)
		return
	}
	r.listeners[eventType] = fn
}

func (r *router) Off(eventType EventType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, eventType)
}

func (r *router) SetListeners(ls Listeners) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for eventType, fn := range ls {
		if fn == nil {
			continue
		}
		r.listeners[eventType] = fn
	}
}

func (r *router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = make(map[EventType]Listener)
}

// Buffers returns output buffers for writers.
func (r *router) Buffers() RouterBuffers {
	return RouterBuffers{Bids: r.bidBuf}
}

// Close closes the output buffers.
func (r *router) Close() {
	if r.bidBuf != nil {
		r.bidBuf.Close()
	}
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	stats := RouterStats{
		EventsReceived:  r.received.Load(),
		EventsDelivered: r.delivered.Load(),
		ParseErrors:     r.parseErrors.Load(),
		UnknownEvents:   r.unknown.Load(),
	}
	if r.bidBuf != nil {
		stats.BidBuffer = r.bidBuf.Stats()
	}
	return stats
}

// HandleInvocation decodes and dispatches a single hub event.
func (r *router) HandleInvocation(target string, args []json.RawMessage, receivedAt time.Time) {
	r.received.Add(1)

	ev, err := decode(EventType(target), args)
	if err != nil {
		if errors.Is(err, errUnknownEvent) {
			r.unknown.Add(1)
			r.logger.Debug("ignoring hub event", "target", target)
			return
		}
		r.parseErrors.Add(1)
		r.logger.Warn("failed to parse hub event", "target", target, "error", err)
		return
	}
	ev.ReceivedAt = receivedAt

	r.journal(ev)

	r.mu.RLock()
	fn := r.listeners[ev.Type]
	r.mu.RUnlock()

	if fn == nil {
		return
	}
	fn(ev)
	r.delivered.Add(1)
}

var errUnknownEvent = errors.New("unknown event")

// decode parses the first argument into the payload type for eventType.
func decode(eventType EventType, args []json.RawMessage) (Event, error) {
	ev := Event{Type: eventType}

	var dst any
	switch eventType {
	case EventNewBid:
		ev.NewBid = &model.BidNotification{}
		dst = ev.NewBid
	case EventAuctionStatusChanged, EventAuctionEnded:
		ev.Status = &model.AuctionStatusNotification{}
		dst = ev.Status
	case EventTimerSync:
		ev.TimerSync = &model.TimerSync{}
		dst = ev.TimerSync
	case EventJoinedAuction:
		ev.Joined = &model.JoinedAuction{}
		dst = ev.Joined
	case EventBidAccepted:
		ev.Accepted = &model.Bid{}
		dst = ev.Accepted
	case EventBidError:
		ev.Rejected = &model.BidError{}
		dst = ev.Rejected
	case EventLiveStatsUpdated:
		ev.LiveStats = &model.LiveStats{}
		dst = ev.LiveStats
	default:
		return ev, errUnknownEvent
	}

	if len(args) == 0 || len(args[0]) == 0 {
		return ev, errMissingPayload
	}
	if err := json.Unmarshal(args[0], dst); err != nil {
		return ev, fmt.Errorf("decode %s: %w", eventType, err)
	}

	switch {
	case ev.NewBid != nil:
		ev.AuctionID = ev.NewBid.AuctionID
	case ev.Status != nil:
		ev.AuctionID = ev.Status.AuctionID
	case ev.TimerSync != nil:
		ev.AuctionID = ev.TimerSync.AuctionID
	case ev.Joined != nil:
		ev.AuctionID = ev.Joined.AuctionID
	case ev.Accepted != nil:
		ev.AuctionID = ev.Accepted.AuctionID
	}

	return ev, nil
}

// journal copies observed bids to the bid buffer, if enabled.
func (r *router) journal(ev Event) {
	if r.bidBuf == nil {
		return
	}

	var msg BidMsg
	switch {
	case ev.NewBid != nil:
		msg = BidMsg{
			AuctionID:       ev.NewBid.AuctionID,
			Bid:             ev.NewBid.Bid,
			NewCurrentPrice: ev.NewBid.NewCurrentPrice,
			TotalBids:       ev.NewBid.TotalBids,
			Source:          SourceBroadcast,
		}
	case ev.Accepted != nil:
		msg = BidMsg{
			AuctionID: ev.Accepted.AuctionID,
			Bid:       *ev.Accepted,
			Source:    SourceAccepted,
		}
	default:
		return
	}
	msg.ReceivedAt = ev.ReceivedAt

	if !r.bidBuf.Send(msg) {
		r.logger.Debug("bid buffer closed, dropping bid", "auction", msg.AuctionID)
	}
}
