package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/rickgao/bidup-live/internal/auction"
	"github.com/rickgao/bidup-live/internal/catalog"
	"github.com/rickgao/bidup-live/internal/hub"
	"github.com/rickgao/bidup-live/internal/model"
)

// watchHub is the part of the hub the tracker drives.
type watchHub interface {
	WatchView(ctx context.Context, view *auction.View, extra hub.Handlers) *hub.Subscription
}

// tracker owns the views being watched and their subscriptions.
type tracker struct {
	hub     watchHub
	logger  *slog.Logger
	onEnded func(model.AuctionStatusNotification)

	mu    sync.Mutex
	views map[string]*auction.View
	subs  map[string]*hub.Subscription
}

func newTracker(h watchHub, logger *slog.Logger, onEnded func(model.AuctionStatusNotification)) *tracker {
	return &tracker{
		hub:     h,
		logger:  logger,
		onEnded: onEnded,
		views:   make(map[string]*auction.View),
		subs:    make(map[string]*hub.Subscription),
	}
}

// add starts watching a, or refreshes the view when it is already watched.
func (t *tracker) add(ctx context.Context, a model.Auction) {
	k := strings.ToLower(a.ID)

	t.mu.Lock()
	if v, ok := t.views[k]; ok {
		t.mu.Unlock()
		v.Replace(a)
		return
	}
	view := auction.NewView(a, auction.WithOnChange(printState(t.logger)))
	t.views[k] = view
	t.mu.Unlock()

	sub := t.hub.WatchView(ctx, view, hub.Handlers{OnEnded: t.ended})

	t.mu.Lock()
	t.subs[k] = sub
	t.mu.Unlock()

	t.logger.Info("watching auction", "auction", a.ID, "title", a.Title)
}

// remove stops watching the auction.
func (t *tracker) remove(ctx context.Context, auctionID string) {
	k := strings.ToLower(auctionID)

	t.mu.Lock()
	sub := t.subs[k]
	delete(t.subs, k)
	delete(t.views, k)
	t.mu.Unlock()

	if sub != nil {
		sub.Close(ctx)
		t.logger.Info("stopped watching auction", "auction", auctionID)
	}
}

// replace folds a REST snapshot into the matching view.
func (t *tracker) replace(a model.Auction) error {
	t.mu.Lock()
	v, ok := t.views[strings.ToLower(a.ID)]
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("auction %s is not watched", a.ID)
	}
	v.Replace(a)
	return nil
}

// ids returns the watched auction ids, sorted.
func (t *tracker) ids() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.views))
	for _, v := range t.views {
		out = append(out, v.AuctionID())
	}
	sort.Strings(out)
	return out
}

// follow applies catalog changes until ctx ends.
func (t *tracker) follow(ctx context.Context, changes <-chan catalog.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-changes:
			switch ch.Type {
			case catalog.ChangeAdded:
				if ch.Auction != nil {
					t.add(ctx, *ch.Auction)
				}
			case catalog.ChangeRemoved:
				t.remove(ctx, ch.AuctionID)
			case catalog.ChangeStatus:
				if ch.Auction != nil {
					t.replace(*ch.Auction)
				}
			}
		}
	}
}

// closeAll closes every subscription.
func (t *tracker) closeAll(ctx context.Context) {
	t.mu.Lock()
	subs := make([]*hub.Subscription, 0, len(t.subs))
	for _, s := range t.subs {
		if s != nil {
			subs = append(subs, s)
		}
	}
	t.subs = make(map[string]*hub.Subscription)
	t.mu.Unlock()

	for _, s := range subs {
		s.Close(ctx)
	}
}

func (t *tracker) ended(n model.AuctionStatusNotification) {
	t.logger.Info("auction ended", "auction", n.AuctionID, "status", n.Status, "message", n.Message)
	if t.onEnded != nil {
		t.onEnded(n)
	}
}

func printState(logger *slog.Logger) func(auction.State) {
	return func(s auction.State) {
		attrs := []any{
			"auction", s.AuctionID,
			"price", s.CurrentPrice.StringFixed(2),
			"min_next", s.MinNextBid().StringFixed(2),
			"bids", s.TotalBids,
			"remaining", model.FormatRemaining(s.TimeRemaining),
			"status", s.Status,
		}
		if s.LatestBid != nil {
			attrs = append(attrs, "last_bidder", s.LatestBid.BidderName)
		}
		logger.Info("auction updated", attrs...)
	}
}
