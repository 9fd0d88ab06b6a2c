package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/rickgao/bidup-live/internal/auction"
	"github.com/rickgao/bidup-live/internal/auth"
	"github.com/rickgao/bidup-live/internal/bidding"
	"github.com/rickgao/bidup-live/internal/connection"
	"github.com/rickgao/bidup-live/internal/connection/connectiontest"
	"github.com/rickgao/bidup-live/internal/model"
	"github.com/rickgao/bidup-live/internal/room"
)

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.Connection.URL = url
	cfg.Connection.InvokeTimeout = 2 * time.Second
	cfg.Connection.ReconnectBaseWait = 10 * time.Millisecond
	cfg.Connection.ReconnectMaxWait = 40 * time.Millisecond
	cfg.Connection.MessageBufferSize = 100
	cfg.JoinTimeout = 2 * time.Second
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	if !connectiontest.Eventually(2*time.Second, cond) {
		t.Fatalf("timeout waiting for %s", what)
	}
}

func newTestServer(t *testing.T) *connectiontest.Server {
	t.Helper()
	srv := connectiontest.NewServer()
	t.Cleanup(srv.Close)
	return srv
}

func decodeArgs(inv connectiontest.Invocation, dst ...any) error {
	if len(inv.Arguments) < len(dst) {
		return errors.New("missing arguments")
	}
	for i, d := range dst {
		if err := json.Unmarshal(inv.Arguments[i], d); err != nil {
			return err
		}
	}
	return nil
}

func newTestHub(t *testing.T, srv *connectiontest.Server) *Hub {
	t.Helper()
	h := New(testConfig(srv.URL()), auth.NewStatic("tok", nil), nil)
	t.Cleanup(func() { h.Close(context.Background()) })
	return h
}

func testAuction() model.Auction {
	return model.Auction{
		ID:              "auction-1",
		Title:           "Watch",
		CurrentPrice:    decimal.NewFromInt(100),
		MinBidIncrement: decimal.NewFromInt(5),
		TotalBids:       3,
		Status:          model.StatusActive,
	}
}

func acceptBids(inv connectiontest.Invocation) connectiontest.Reply {
	if inv.Target != bidding.MethodPlaceBid {
		return connectiontest.Reply{}
	}
	var id string
	var amount decimal.Decimal
	if err := decodeArgs(inv, &id, &amount); err != nil {
		return connectiontest.Reply{Error: err.Error()}
	}
	return connectiontest.Reply{Events: []connectiontest.Event{{
		Target: "BidAccepted",
		Args: []any{map[string]any{
			"id":         "bid-9",
			"amount":     amount,
			"auctionId":  id,
			"bidderName": "me",
			"isWinning":  true,
		}},
	}}}
}

func TestHub_EndToEndBid(t *testing.T) {
	srv := newTestServer(t)
	srv.SetOnInvoke(acceptBids)

	h := newTestHub(t, srv)
	ctx := context.Background()

	if err := h.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	view := auction.NewView(testAuction())
	h.WatchView(ctx, view, Handlers{})
	if rooms := h.Rooms(); len(rooms) != 1 || rooms[0] != "auction-1" {
		t.Fatalf("Rooms() = %v, want [auction-1]", rooms)
	}

	bidder := h.NewBidder(view, nil)
	bidder.SetAmount("120.00")
	if err := bidder.Submit(ctx); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	waitFor(t, "bid resolution", func() bool { return !bidder.IsSubmitting() })

	if h.Coordinator().Busy() {
		t.Error("coordinator still has a pending bid")
	}
	if bidder.Err() != "" {
		t.Errorf("Err() = %q, want empty", bidder.Err())
	}
	s := view.Snapshot()
	if !s.CurrentPrice.Equal(decimal.NewFromInt(120)) {
		t.Errorf("CurrentPrice = %s, want 120", s.CurrentPrice)
	}
	if s.TotalBids != 4 {
		t.Errorf("TotalBids = %d, want 4", s.TotalBids)
	}

	// The room broadcast of the same bid does not count it twice.
	delivered := h.Stats().Router.EventsDelivered
	srv.Push("NewBid", map[string]any{
		"auctionId":       "AUCTION-1",
		"bid":             map[string]any{"id": "bid-9", "amount": 120, "auctionId": "auction-1"},
		"newCurrentPrice": 120,
		"totalBids":       4,
		"timeRemaining":   "00:10:00",
	})
	waitFor(t, "NewBid delivery", func() bool { return h.Stats().Router.EventsDelivered > delivered })

	s = view.Snapshot()
	if s.TotalBids != 4 {
		t.Errorf("TotalBids = %d after echo, want 4", s.TotalBids)
	}
	if len(s.History) != 1 {
		t.Errorf("History = %d entries, want 1", len(s.History))
	}
	if s.TimeRemaining.Duration() != 10*time.Minute {
		t.Errorf("TimeRemaining = %v, want 10m", s.TimeRemaining.Duration())
	}

	bids := srv.InvocationsOf(bidding.MethodPlaceBid)
	if len(bids) != 1 {
		t.Fatalf("PlaceBid invocations = %d, want 1", len(bids))
	}
	if got := string(bids[0].Arguments[1]); got != "120" {
		t.Errorf("amount argument = %s, want 120", got)
	}
}

func TestHub_Superseded(t *testing.T) {
	srv := newTestServer(t)

	h := newTestHub(t, srv)
	ctx := context.Background()
	if err := h.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	view := auction.NewView(testAuction())
	h.WatchView(ctx, view, Handlers{})

	var mu sync.Mutex
	var failures []bidding.Result
	bidder := h.NewBidder(view, func(r bidding.Result) {
		mu.Lock()
		failures = append(failures, r)
		mu.Unlock()
	})

	bidder.SetAmount("105")
	if err := bidder.Submit(ctx); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !bidder.IsSubmitting() {
		t.Fatal("IsSubmitting() = false, want pending")
	}

	srv.Push("NewBid", map[string]any{
		"auctionId":       "auction-1",
		"bid":             map[string]any{"id": "other", "amount": 110, "auctionId": "auction-1"},
		"newCurrentPrice": 110,
		"totalBids":       4,
		"timeRemaining":   "00:05:00",
	})

	waitFor(t, "supersede", func() bool { return !bidder.IsSubmitting() })

	if bidder.Err() != bidding.MsgSuperseded {
		t.Errorf("Err() = %q, want %q", bidder.Err(), bidding.MsgSuperseded)
	}
	mu.Lock()
	if len(failures) != 1 || failures[0].Outcome != bidding.OutcomeSuperseded {
		t.Errorf("failures = %+v, want one superseded", failures)
	}
	mu.Unlock()
	if got := view.Snapshot().CurrentPrice; !got.Equal(decimal.NewFromInt(110)) {
		t.Errorf("CurrentPrice = %s, want 110", got)
	}
}

func TestHub_BidErrorVerbatim(t *testing.T) {
	tests := []struct {
		name    string
		payload any
	}{
		{name: "string payload", payload: "Auction has ended"},
		{name: "object payload", payload: map[string]any{"message": "Auction has ended"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			srv.SetOnInvoke(func(inv connectiontest.Invocation) connectiontest.Reply {
				if inv.Target != bidding.MethodPlaceBid {
					return connectiontest.Reply{}
				}
				return connectiontest.Reply{Events: []connectiontest.Event{{
					Target: "BidError",
					Args:   []any{tt.payload},
				}}}
			})

			h := newTestHub(t, srv)
			ctx := context.Background()
			if err := h.Connect(ctx); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}

			view := auction.NewView(testAuction())
			bidder := h.NewBidder(view, nil)
			if err := bidder.QuickBid(ctx); err != nil {
				t.Fatalf("QuickBid() error = %v", err)
			}

			waitFor(t, "rejection", func() bool { return !bidder.IsSubmitting() })
			res, ok := bidder.LastResult()
			if !ok || res.Outcome != bidding.OutcomeRejected {
				t.Errorf("LastResult() = %+v, %v, want rejected", res, ok)
			}
			if bidder.Err() != "Auction has ended" {
				t.Errorf("Err() = %q, want server message", bidder.Err())
			}
			if got := view.Snapshot().TotalBids; got != 3 {
				t.Errorf("TotalBids = %d, want unchanged 3", got)
			}
		})
	}
}

func TestHub_ReconnectReplaysRooms(t *testing.T) {
	srv := newTestServer(t)

	h := newTestHub(t, srv)
	ctx := context.Background()
	if err := h.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	h.Watch(ctx, "auction-a", Handlers{})
	h.Watch(ctx, "auction-b", Handlers{})

	var mu sync.Mutex
	joinsAtConnected := -1
	h.OnStateChange(func(from, to connection.State) {
		if from == connection.StateReconnecting && to == connection.StateConnected {
			n := 0
			for _, inv := range srv.InvocationsOf(room.MethodJoin) {
				if inv.Conn == 2 {
					n++
				}
			}
			mu.Lock()
			joinsAtConnected = n
			mu.Unlock()
		}
	})

	srv.Drop()

	waitFor(t, "reconnect", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return joinsAtConnected >= 0
	})

	mu.Lock()
	defer mu.Unlock()
	if joinsAtConnected != 2 {
		t.Errorf("rejoins before Connected = %d, want 2", joinsAtConnected)
	}
	if !h.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
}

func TestHub_ConnectAgainRejoinsRooms(t *testing.T) {
	tests := []struct {
		name string
		lose func(*connectiontest.Server)
		want connection.State
	}{
		{"while reconnecting", func(s *connectiontest.Server) { s.Drop() }, connection.StateReconnecting},
		{"after server close", func(s *connectiontest.Server) { s.SendClose(false) }, connection.StateDisconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)

			// The fake clock holds the backoff loop so Connect does the work.
			h := New(testConfig(srv.URL()), auth.NewStatic("tok", nil), nil, WithClock(clockwork.NewFakeClock()))
			t.Cleanup(func() { h.Close(context.Background()) })
			ctx := context.Background()

			if err := h.Connect(ctx); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			h.Watch(ctx, "auction-1", Handlers{})

			tt.lose(srv)
			waitFor(t, tt.want.String(), func() bool { return h.State() == tt.want })

			if err := h.Connect(ctx); err != nil {
				t.Fatalf("second Connect() error = %v", err)
			}

			joins := srv.InvocationsOf(room.MethodJoin)
			if len(joins) != 2 {
				t.Fatalf("JoinAuction invocations = %d, want 2", len(joins))
			}
			if joins[1].Conn != 2 {
				t.Errorf("rejoin went to connection %d, want 2", joins[1].Conn)
			}
			if rooms := h.Rooms(); len(rooms) != 1 || rooms[0] != "auction-1" {
				t.Errorf("Rooms() = %v, want [auction-1]", rooms)
			}
		})
	}
}

func TestHub_ConnectRetriesAfterInitialFailure(t *testing.T) {
	srv := newTestServer(t)
	srv.SetDown(true)

	h := newTestHub(t, srv)
	ctx := context.Background()
	h.Watch(ctx, "auction-1", Handlers{})

	err := h.Connect(ctx)
	var connErr *connection.ConnectionError
	if !errors.As(err, &connErr) || connErr.Unauthorized {
		t.Fatalf("Connect() error = %v, want a non-auth ConnectionError", err)
	}

	srv.SetDown(false)

	waitFor(t, "connected", h.IsConnected)
	waitFor(t, "room joined", func() bool { return len(srv.InvocationsOf(room.MethodJoin)) == 1 })
	if !h.rooms.Contains("auction-1") {
		t.Error("auction-1 not recorded after the delayed connect")
	}
}

func TestHub_WatchBeforeConnect(t *testing.T) {
	srv := newTestServer(t)

	h := newTestHub(t, srv)
	ctx := context.Background()

	h.Watch(ctx, "auction-1", Handlers{})
	if len(h.Rooms()) != 0 {
		t.Errorf("Rooms() = %v, want none while disconnected", h.Rooms())
	}

	if err := h.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	joins := srv.InvocationsOf(room.MethodJoin)
	if len(joins) != 1 {
		t.Fatalf("JoinAuction invocations = %d, want 1", len(joins))
	}
	if got := string(joins[0].Arguments[0]); got != `"auction-1"` {
		t.Errorf("JoinAuction argument = %s, want \"auction-1\"", got)
	}
}

func TestHub_WatchHandlers(t *testing.T) {
	srv := newTestServer(t)

	h := newTestHub(t, srv)
	ctx := context.Background()
	if err := h.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var mu sync.Mutex
	var got []string
	record := func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}

	h.Watch(ctx, "auction-1", Handlers{
		OnNewBid:        func(n model.BidNotification) { record("bid:" + n.Bid.ID) },
		OnStatusChanged: func(n model.AuctionStatusNotification) { record("status:" + string(n.Status)) },
		OnTimerSync:     func(model.TimerSync) { record("sync") },
		OnJoined:        func(model.JoinedAuction) { record("joined") },
	})

	srv.Push("JoinedAuction", map[string]any{"auctionId": "auction-1", "message": "ok"})
	srv.Push("NewBid", map[string]any{"auctionId": "auction-2", "bid": map[string]any{"id": "x"}})
	srv.Push("NewBid", map[string]any{"auctionId": "Auction-1", "bid": map[string]any{"id": "b1"}})
	srv.Push("TimerSync", map[string]any{"auctionId": "auction-1", "timeRemaining": "00:01:00"})
	srv.Push("AuctionEnded", map[string]any{"auctionId": "auction-1", "status": "Completed"})

	want := []string{"joined", "bid:b1", "sync", "status:Completed"}
	waitFor(t, "events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= len(want)
	})

	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHub_SubscriptionClose(t *testing.T) {
	srv := newTestServer(t)

	h := newTestHub(t, srv)
	ctx := context.Background()
	if err := h.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	first := h.Watch(ctx, "auction-1", Handlers{})
	second := h.Watch(ctx, "AUCTION-1", Handlers{})

	first.Close(ctx)
	if len(srv.InvocationsOf(room.MethodLeave)) != 0 {
		t.Error("left the room while another watch remains")
	}

	second.Close(ctx)
	second.Close(ctx)
	if n := len(srv.InvocationsOf(room.MethodLeave)); n != 1 {
		t.Errorf("LeaveAuction invocations = %d, want 1", n)
	}
	if len(h.Rooms()) != 0 {
		t.Errorf("Rooms() = %v, want none", h.Rooms())
	}
	if h.Stats().Watches != 0 {
		t.Errorf("Watches = %d, want 0", h.Stats().Watches)
	}
}

func TestHub_LiveStats(t *testing.T) {
	srv := newTestServer(t)

	h := newTestHub(t, srv)
	ctx := context.Background()
	if err := h.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	stats := make(chan model.LiveStats, 4)
	h.OnLiveStats(func(s model.LiveStats) { stats <- s })

	srv.Push("LiveStatsUpdated", map[string]any{"activeAuctions": 12, "connectedUsers": 40})

	select {
	case s := <-stats:
		if s.ActiveAuctions != 12 || s.ConnectedUsers != 40 {
			t.Errorf("stats = %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no LiveStatsUpdated delivered")
	}

	h.OffLiveStats()
	delivered := h.Stats().Router.EventsDelivered
	srv.Push("LiveStatsUpdated", map[string]any{"activeAuctions": 1})
	waitFor(t, "delivery", func() bool { return h.Stats().Router.EventsDelivered > delivered })

	select {
	case s := <-stats:
		t.Errorf("got %+v after OffLiveStats", s)
	default:
	}
}

func TestHub_Disconnect(t *testing.T) {
	srv := newTestServer(t)

	h := newTestHub(t, srv)
	ctx := context.Background()
	if err := h.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	sub := h.Watch(ctx, "auction-1", Handlers{})
	h.OnLiveStats(func(model.LiveStats) {})

	if err := h.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	if n := len(srv.InvocationsOf(room.MethodLeave)); n != 1 {
		t.Errorf("LeaveAuction invocations = %d, want 1", n)
	}
	if h.State() != connection.StateDisconnected {
		t.Errorf("State() = %v, want %v", h.State(), connection.StateDisconnected)
	}
	stats := h.Stats()
	if len(stats.Rooms) != 0 || stats.Watches != 0 {
		t.Errorf("Rooms = %v, Watches = %d, want cleared", stats.Rooms, stats.Watches)
	}

	// Closing a subscription cleared by Disconnect is harmless.
	sub.Close(ctx)
	if n := len(srv.InvocationsOf(room.MethodLeave)); n != 1 {
		t.Errorf("LeaveAuction invocations = %d, want 1", n)
	}
}

func TestHub_ConnectWithoutCredential(t *testing.T) {
	srv := newTestServer(t)

	h := New(testConfig(srv.URL()), auth.NewStatic("", nil), nil)
	t.Cleanup(func() { h.Close(context.Background()) })

	err := h.Connect(context.Background())

	var connErr *connection.ConnectionError
	if !errors.As(err, &connErr) || !connErr.Unauthorized {
		t.Fatalf("Connect() error = %v, want unauthorized ConnectionError", err)
	}
	if !errors.Is(err, auth.ErrNotAuthenticated) {
		t.Errorf("Connect() error = %v, want %v", err, auth.ErrNotAuthenticated)
	}
	if srv.Attempts() != 0 {
		t.Errorf("Attempts = %d, want 0", srv.Attempts())
	}
	if h.State() != connection.StateDisconnected {
		t.Errorf("State() = %v, want %v", h.State(), connection.StateDisconnected)
	}
}

func TestHub_RejectedCredential(t *testing.T) {
	srv := newTestServer(t)
	srv.SetRejectToken("tok")

	h := newTestHub(t, srv)
	err := h.Connect(context.Background())

	var connErr *connection.ConnectionError
	if !errors.As(err, &connErr) || !connErr.Unauthorized {
		t.Fatalf("Connect() error = %v, want unauthorized ConnectionError", err)
	}
	if h.IsConnected() {
		t.Error("IsConnected() = true")
	}
}

func TestHub_RequestTimerSync(t *testing.T) {
	srv := newTestServer(t)

	h := newTestHub(t, srv)
	ctx := context.Background()

	h.RequestTimerSync(ctx, "auction-1")
	if err := h.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.RequestTimerSync(ctx, "auction-1")

	if n := len(srv.InvocationsOf(MethodRequestTimerSync)); n != 1 {
		t.Errorf("RequestTimerSync invocations = %d, want 1", n)
	}
}
