package hub

import (
	"context"
	"slices"

	"github.com/rickgao/bidup-live/internal/auction"
	"github.com/rickgao/bidup-live/internal/model"
	"github.com/rickgao/bidup-live/internal/router"
)

// Handlers are the callbacks for one watched auction. Nil fields are skipped.
type Handlers struct {
	OnNewBid        func(model.BidNotification)
	OnStatusChanged func(model.AuctionStatusNotification)
	OnEnded         func(model.AuctionStatusNotification) // Falls back to OnStatusChanged
	OnTimerSync     func(model.TimerSync)
	OnJoined        func(model.JoinedAuction)
}

// Subscription is one Watch registration.
type Subscription struct {
	hub       *Hub
	id        uint64
	auctionID string
	listeners router.Listeners
	closed    bool // guarded by hub.mu
}

// AuctionID returns the watched auction.
func (s *Subscription) AuctionID() string {
	return s.auctionID
}

// Close removes the handlers and leaves the room unless another watch on the
// same auction remains. Safe to call more than once.
func (s *Subscription) Close(ctx context.Context) {
	h := s.hub

	h.mu.Lock()
	if s.closed {
		h.mu.Unlock()
		return
	}
	s.closed = true
	delete(h.watches, s.id)
	shared := false
	for _, other := range h.watches {
		if model.SameAuction(other.auctionID, s.auctionID) {
			shared = true
			break
		}
	}
	h.mu.Unlock()

	if !shared {
		h.rooms.Leave(ctx, s.auctionID)
	}
}

// Watch registers handlers for events of auctionID and joins its room.
// Events are matched to the auction ignoring case. When the hub is not
// connected the room is joined on the next connect.
func (h *Hub) Watch(ctx context.Context, auctionID string, handlers Handlers) *Subscription {
	sub := &Subscription{
		hub:       h,
		auctionID: auctionID,
		listeners: handlers.listeners(auctionID),
	}

	h.mu.Lock()
	h.nextWatch++
	sub.id = h.nextWatch
	h.watches[sub.id] = sub
	h.mu.Unlock()

	h.rooms.Join(ctx, auctionID)
	return sub
}

// WatchView watches view's auction and folds every room event into it.
// extra handlers, when set, run after the view is updated.
func (h *Hub) WatchView(ctx context.Context, view *auction.View, extra Handlers) *Subscription {
	return h.Watch(ctx, view.AuctionID(), Handlers{
		OnNewBid: func(n model.BidNotification) {
			view.ApplyNewBid(n)
			if extra.OnNewBid != nil {
				extra.OnNewBid(n)
			}
		},
		OnStatusChanged: func(n model.AuctionStatusNotification) {
			view.ApplyStatus(n)
			if extra.OnStatusChanged != nil {
				extra.OnStatusChanged(n)
			}
		},
		OnEnded: func(n model.AuctionStatusNotification) {
			view.ApplyStatus(n)
			switch {
			case extra.OnEnded != nil:
				extra.OnEnded(n)
			case extra.OnStatusChanged != nil:
				extra.OnStatusChanged(n)
			}
		},
		OnTimerSync: func(ts model.TimerSync) {
			view.ApplyTimerSync(ts)
			if extra.OnTimerSync != nil {
				extra.OnTimerSync(ts)
			}
		},
		OnJoined: extra.OnJoined,
	})
}

func (hs Handlers) listeners(auctionID string) router.Listeners {
	ls := router.Listeners{}
	add := func(t router.EventType, fn router.Listener) {
		ls[t] = router.ForAuction(auctionID, fn)
	}

	if hs.OnNewBid != nil {
		add(router.EventNewBid, func(ev router.Event) { hs.OnNewBid(*ev.NewBid) })
	}
	if hs.OnStatusChanged != nil {
		add(router.EventAuctionStatusChanged, func(ev router.Event) { hs.OnStatusChanged(*ev.Status) })
	}
	if ended := hs.OnEnded; ended != nil || hs.OnStatusChanged != nil {
		if ended == nil {
			ended = hs.OnStatusChanged
		}
		add(router.EventAuctionEnded, func(ev router.Event) { ended(*ev.Status) })
	}
	if hs.OnTimerSync != nil {
		add(router.EventTimerSync, func(ev router.Event) { hs.OnTimerSync(*ev.TimerSync) })
	}
	if hs.OnJoined != nil {
		add(router.EventJoinedAuction, func(ev router.Event) { hs.OnJoined(*ev.Joined) })
	}
	return ls
}

func (h *Hub) watchesSnapshot() []*Subscription {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.watches))
	for _, sub := range h.watches {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	slices.SortFunc(subs, func(a, b *Subscription) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return subs
}
