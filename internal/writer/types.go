package writer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// BatchSender sends a queued batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// bidNamespace seeds row ids.
var bidNamespace = uuid.MustParse("6f1c2a52-3d4e-5b8a-9c0d-7e21f4a9b3c6")

// RowID returns the deterministic row id for a bid in an auction.
func RowID(auctionID, bidID string) uuid.UUID {
	return uuid.NewSHA1(bidNamespace, []byte(auctionID+"/"+bidID))
}

// bidRow represents a row to be inserted into the auction_bids table.
type bidRow struct {
	RowID        uuid.UUID
	AuctionID    string
	BidID        string
	BidderID     string
	BidderName   string
	Amount       string  // Decimal text, cast to numeric in SQL
	CurrentPrice *string // Nil for the viewer's own accepted bids
	TotalBids    *int
	Source       string
	PlacedAt     time.Time
	ReceivedAt   time.Time
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64 // Rows discarded after a failed insert
}
