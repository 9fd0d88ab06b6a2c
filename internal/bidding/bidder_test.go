package bidding

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/rickgao/bidup-live/internal/auth"
	"github.com/rickgao/bidup-live/internal/model"
)

func fixedPrice(current, increment string) PriceFunc {
	return func() (decimal.Decimal, decimal.Decimal) {
		return dec(current), dec(increment)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		amount, current, increment string
		want                       bool
	}{
		{"104.99", "100", "5", false}, // above price, below increment minimum
		{"100.50", "100", "5", false},
		{"100", "100", "5", false},
		{"105", "100", "5", true},
		{"105.00", "100", "5", true},
		{"250", "100", "5", true},
		{"100", "100", "0", false}, // must exceed price even with no increment
		{"100.01", "100", "0", true},
	}

	for _, tt := range tests {
		got := Valid(dec(tt.amount), dec(tt.current), dec(tt.increment))
		if got != tt.want {
			t.Errorf("Valid(%s, %s, %s) = %v, want %v", tt.amount, tt.current, tt.increment, got, tt.want)
		}
	}
}

func TestBidder_InvalidAmountNotSent(t *testing.T) {
	conn := &fakeConn{connected: true}
	c := newTestCoordinator(conn, clockwork.NewFakeClockAt(epoch))
	var errored int
	b := NewBidder(c, "auction-1", fixedPrice("100", "5"), OnError(func(Result) { errored++ }))

	for _, amount := range []string{"104.99", "100.50", "abc", ""} {
		b.SetAmount(amount)
		if b.IsValid() {
			t.Errorf("IsValid(%q) = true, want false", amount)
		}
		if err := b.Submit(context.Background()); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Submit(%q) error = %v, want %v", amount, err, ErrInvalidAmount)
		}
	}

	if b.Err() != "The minimum bid is 105.00" {
		t.Errorf("Err() = %q, want %q", b.Err(), "The minimum bid is 105.00")
	}
	if len(conn.Sent()) != 0 {
		t.Errorf("sent = %d, want 0", len(conn.Sent()))
	}
	if errored != 0 {
		t.Errorf("OnError calls = %d, want 0", errored)
	}
}

func TestBidder_SignInCheckedBeforeAmount(t *testing.T) {
	conn := &fakeConn{connected: true}
	c := NewCoordinator(conn, tokenFunc(func(context.Context) (string, error) {
		return "", auth.ErrNotAuthenticated
	}))
	var errored []Result
	b := NewBidder(c, "auction-1", fixedPrice("100", "5"), OnError(func(r Result) { errored = append(errored, r) }))

	b.SetAmount("50")
	if err := b.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v, want nil", err)
	}

	if b.Err() != MsgSignInRequired {
		t.Errorf("Err() = %q, want %q", b.Err(), MsgSignInRequired)
	}
	if b.IsSubmitting() {
		t.Error("IsSubmitting() = true after unauthenticated submit")
	}
	if len(errored) != 1 || errored[0].Outcome != OutcomeUnauthenticated {
		t.Errorf("OnError results = %+v, want one unauthenticated", errored)
	}
	if len(conn.Sent()) != 0 {
		t.Errorf("sent = %d, want 0", len(conn.Sent()))
	}
}

func TestBidder_SubmitAccepted(t *testing.T) {
	conn := &fakeConn{connected: true}
	c := newTestCoordinator(conn, clockwork.NewFakeClockAt(epoch))
	var accepted []model.Bid
	b := NewBidder(c, "auction-1", fixedPrice("100", "5"), OnSuccess(func(bid model.Bid) {
		accepted = append(accepted, bid)
	}))

	b.SetAmount(" 120.00 ")
	if !b.IsValid() {
		t.Fatal("IsValid() = false, want true")
	}
	if err := b.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !b.IsSubmitting() {
		t.Error("IsSubmitting() = false while pending")
	}
	if err := b.QuickBid(context.Background()); !errors.Is(err, ErrBidInFlight) {
		t.Errorf("QuickBid() while pending error = %v, want %v", err, ErrBidInFlight)
	}

	c.OnBidAccepted(model.Bid{ID: "b1", AuctionID: "auction-1", Amount: dec("120")})

	if b.IsSubmitting() {
		t.Error("IsSubmitting() = true after acceptance")
	}
	if b.Amount() != "" {
		t.Errorf("Amount() = %q, want input reset", b.Amount())
	}
	if b.Err() != "" {
		t.Errorf("Err() = %q, want empty", b.Err())
	}
	if len(accepted) != 1 || accepted[0].ID != "b1" {
		t.Errorf("accepted = %+v, want [b1]", accepted)
	}
	if r, ok := b.LastResult(); !ok || !r.OK() {
		t.Errorf("LastResult() = %+v, %v", r, ok)
	}
}

func TestBidder_QuickBid(t *testing.T) {
	conn := &fakeConn{connected: true}
	c := newTestCoordinator(conn, clockwork.NewFakeClockAt(epoch))
	b := NewBidder(c, "auction-1", fixedPrice("100.25", "2.50"))
	b.SetAmount("999")

	if got := b.MinNextBid(); !got.Equal(dec("102.75")) {
		t.Errorf("MinNextBid() = %s, want 102.75", got)
	}
	if err := b.QuickBid(context.Background()); err != nil {
		t.Fatalf("QuickBid() error = %v", err)
	}

	sent := conn.Sent()
	if len(sent) != 1 || sent[0].amount != "102.75" {
		t.Errorf("sent = %+v, want 102.75", sent)
	}

	c.OnBidAccepted(model.Bid{ID: "b1", Amount: dec("102.75")})
	if b.Amount() != "999" {
		t.Errorf("Amount() = %q, quick bid must not reset the input", b.Amount())
	}
}

func TestBidder_ErrorOutcome(t *testing.T) {
	conn := &fakeConn{connected: true}
	c := newTestCoordinator(conn, clockwork.NewFakeClockAt(epoch))
	var got []Result
	b := NewBidder(c, "auction-1", fixedPrice("100", "5"), OnError(func(r Result) {
		got = append(got, r)
	}))

	b.SetAmount("105")
	b.Submit(context.Background())
	c.ObserveNewBid(model.BidNotification{AuctionID: "auction-1", Bid: model.Bid{Amount: dec("106")}})

	if b.Err() != MsgSuperseded {
		t.Errorf("Err() = %q, want %q", b.Err(), MsgSuperseded)
	}
	if b.Amount() != "105" {
		t.Errorf("Amount() = %q, input kept on error", b.Amount())
	}
	if len(got) != 1 || got[0].Outcome != OutcomeSuperseded {
		t.Errorf("OnError results = %+v", got)
	}

	// Next attempt clears the message.
	b.SetAmount("115")
	b.Submit(context.Background())
	if b.Err() != "" {
		t.Errorf("Err() = %q, want cleared while submitting", b.Err())
	}
}

func TestBidder_SharedSlotAcrossBidders(t *testing.T) {
	conn := &fakeConn{connected: true}
	c := newTestCoordinator(conn, clockwork.NewFakeClockAt(epoch))
	first := NewBidder(c, "auction-1", fixedPrice("100", "5"))
	second := NewBidder(c, "auction-2", fixedPrice("50", "1"))

	if err := first.QuickBid(context.Background()); err != nil {
		t.Fatalf("QuickBid() error = %v", err)
	}
	if err := second.QuickBid(context.Background()); !errors.Is(err, ErrBidInFlight) {
		t.Errorf("second QuickBid() error = %v, want %v", err, ErrBidInFlight)
	}
	if second.IsSubmitting() {
		t.Error("second.IsSubmitting() = true after rejection")
	}
	if len(conn.Sent()) != 1 {
		t.Errorf("sent = %d, want 1", len(conn.Sent()))
	}
}
