package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/rickgao/bidup-live/internal/model"
	"github.com/rickgao/bidup-live/internal/router"
)

// fakeDB dedupes on the first argument like the row_id primary key.
type fakeDB struct {
	mu      sync.Mutex
	seen    map[uuid.UUID]bool
	batches []*pgx.Batch
	err     error
}

func newFakeDB() *fakeDB {
	return &fakeDB{seen: make(map[uuid.UUID]bool)}
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b)

	res := &fakeResults{err: f.err}
	for _, q := range b.QueuedQueries {
		id := q.Arguments[0].(uuid.UUID)
		if f.seen[id] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
			continue
		}
		if f.err == nil {
			f.seen[id] = true
		}
		res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
	}
	return res
}

func (f *fakeDB) rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type fakeResults struct {
	tags []pgconn.CommandTag
	err  error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[0]
	r.tags = r.tags[1:]
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func bidMsg(auctionID, bidID string, amount string, source router.BidSource) router.BidMsg {
	placed := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	return router.BidMsg{
		AuctionID: auctionID,
		Bid: model.Bid{
			ID:         bidID,
			Amount:     decimal.RequireFromString(amount),
			Timestamp:  model.Timestamp{Time: placed},
			BidderID:   "u-1",
			BidderName: "alice",
			AuctionID:  auctionID,
		},
		NewCurrentPrice: decimal.RequireFromString(amount),
		TotalBids:       4,
		Source:          source,
		ReceivedAt:      placed.Add(150 * time.Millisecond),
	}
}

func TestBidWriter_Transform(t *testing.T) {
	w := NewBidWriter(DefaultWriterConfig(), router.NewGrowableBuffer[router.BidMsg](10), nil, nil)

	msg := bidMsg("a-1", "b-9", "105.5", router.SourceBroadcast)
	row := w.transform(msg)

	if row.RowID != RowID("a-1", "b-9") {
		t.Errorf("RowID = %v, want %v", row.RowID, RowID("a-1", "b-9"))
	}
	if row.Amount != "105.50" {
		t.Errorf("Amount = %q, want %q", row.Amount, "105.50")
	}
	if row.CurrentPrice == nil || *row.CurrentPrice != "105.50" {
		t.Errorf("CurrentPrice = %v, want 105.50", row.CurrentPrice)
	}
	if row.TotalBids == nil || *row.TotalBids != 4 {
		t.Errorf("TotalBids = %v, want 4", row.TotalBids)
	}
	if row.Source != "broadcast" {
		t.Errorf("Source = %q, want broadcast", row.Source)
	}
	if !row.PlacedAt.Equal(msg.Bid.Timestamp.Time) {
		t.Errorf("PlacedAt = %v, want %v", row.PlacedAt, msg.Bid.Timestamp.Time)
	}
	if !row.ReceivedAt.Equal(msg.ReceivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", row.ReceivedAt, msg.ReceivedAt)
	}
}

func TestBidWriter_Transform_Accepted(t *testing.T) {
	w := NewBidWriter(DefaultWriterConfig(), router.NewGrowableBuffer[router.BidMsg](10), nil, nil)

	msg := bidMsg("", "b-1", "20", router.SourceAccepted)
	msg.AuctionID = ""
	msg.Bid.AuctionID = "a-7"
	msg.Bid.Timestamp = model.Timestamp{}

	row := w.transform(msg)

	if row.AuctionID != "a-7" {
		t.Errorf("AuctionID = %q, want a-7 (from bid)", row.AuctionID)
	}
	if row.CurrentPrice != nil || row.TotalBids != nil {
		t.Errorf("accepted bid should carry no price/total, got %v/%v", row.CurrentPrice, row.TotalBids)
	}
	if !row.PlacedAt.Equal(msg.ReceivedAt) {
		t.Errorf("PlacedAt = %v, want ReceivedAt fallback %v", row.PlacedAt, msg.ReceivedAt)
	}
}

func TestRowID_Deterministic(t *testing.T) {
	if RowID("a", "b") != RowID("a", "b") {
		t.Error("RowID not deterministic")
	}
	if RowID("a", "b") == RowID("a", "c") {
		t.Error("RowID collides across bids")
	}
	if RowID("a", "b") == RowID("x", "b") {
		t.Error("RowID collides across auctions")
	}
}

func TestBidWriter_FlushCountsConflicts(t *testing.T) {
	db := newFakeDB()
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour}
	w := NewBidWriter(cfg, router.NewGrowableBuffer[router.BidMsg](10), db, nil)

	// The same bid seen as broadcast and as the viewer's acceptance.
	w.handleMessage(bidMsg("a-1", "b-1", "105", router.SourceBroadcast))
	w.handleMessage(bidMsg("a-1", "b-1", "105", router.SourceAccepted))
	w.handleMessage(bidMsg("a-1", "b-2", "110", router.SourceBroadcast))
	w.flush()

	stats := w.Stats()
	if stats.Inserts != 2 {
		t.Errorf("Inserts = %d, want 2", stats.Inserts)
	}
	if stats.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", stats.Conflicts)
	}
	if stats.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", stats.Flushes)
	}
	if db.rows() != 2 {
		t.Errorf("rows = %d, want 2", db.rows())
	}
}

func TestBidWriter_FlushesAtBatchSize(t *testing.T) {
	db := newFakeDB()
	cfg := WriterConfig{BatchSize: 2, FlushInterval: time.Hour}
	w := NewBidWriter(cfg, router.NewGrowableBuffer[router.BidMsg](10), db, nil)

	w.handleMessage(bidMsg("a-1", "b-1", "101", router.SourceBroadcast))
	if got := w.Stats().Flushes; got != 0 {
		t.Fatalf("Flushes after 1 = %d, want 0", got)
	}
	w.handleMessage(bidMsg("a-1", "b-2", "102", router.SourceBroadcast))
	if got := w.Stats().Flushes; got != 1 {
		t.Errorf("Flushes after 2 = %d, want 1", got)
	}
}

func TestBidWriter_InsertError(t *testing.T) {
	db := newFakeDB()
	db.err = errors.New("connection refused")
	w := NewBidWriter(WriterConfig{BatchSize: 10, FlushInterval: time.Hour}, router.NewGrowableBuffer[router.BidMsg](10), db, nil)

	w.handleMessage(bidMsg("a-1", "b-1", "101", router.SourceBroadcast))
	w.flush()

	stats := w.Stats()
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	if stats.Inserts != 0 {
		t.Errorf("Inserts = %d, want 0", stats.Inserts)
	}
}

func TestBidWriter_Lifecycle(t *testing.T) {
	db := newFakeDB()
	cfg := WriterConfig{
		BatchSize:     10,
		FlushInterval: 20 * time.Millisecond,
	}
	input := router.NewGrowableBuffer[router.BidMsg](10)
	w := NewBidWriter(cfg, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	input.Send(bidMsg("a-1", "b-1", "101", router.SourceBroadcast))
	input.Send(bidMsg("a-1", "b-2", "102", router.SourceBroadcast))

	deadline := time.Now().Add(2 * time.Second)
	for db.rows() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if db.rows() != 2 {
		t.Fatalf("rows = %d, want 2 after flush interval", db.rows())
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestBidWriter_StopDrainsBuffer(t *testing.T) {
	db := newFakeDB()
	input := router.NewGrowableBuffer[router.BidMsg](10)
	w := NewBidWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, input, db, nil)

	// Never started: Stop still drains what is queued.
	input.Send(bidMsg("a-1", "b-1", "101", router.SourceBroadcast))
	input.Send(bidMsg("a-2", "b-1", "55", router.SourceAccepted))

	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if db.rows() != 2 {
		t.Errorf("rows = %d, want 2", db.rows())
	}
}

func TestBidWriter_Stats(t *testing.T) {
	w := NewBidWriter(DefaultWriterConfig(), router.NewGrowableBuffer[router.BidMsg](10), nil, nil)

	stats := w.Stats()
	if stats.Inserts != 0 {
		t.Errorf("initial Inserts = %d, want 0", stats.Inserts)
	}
	if stats.Errors != 0 {
		t.Errorf("initial Errors = %d, want 0", stats.Errors)
	}
}
