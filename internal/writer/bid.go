package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/bidup-live/internal/router"
)

const insertBid = `
	INSERT INTO auction_bids (row_id, auction_id, bid_id, bidder_id, bidder_name, amount,
		current_price, total_bids, source, placed_at, received_at)
	VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8, $9, $10, $11)
	ON CONFLICT (row_id) DO NOTHING
`

// BidWriter consumes BidMsg from the router buffer and writes to the auction_bids table.
type BidWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the hub router
	input *router.GrowableBuffer[router.BidMsg]

	// Database
	db BatchSender

	// Batching
	batch       []bidRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewBidWriter creates a new BidWriter.
func NewBidWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[router.BidMsg],
	db BatchSender,
	logger *slog.Logger,
) *BidWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &BidWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]bidRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming messages and writing to the database.
func (w *BidWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("bid writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains what is buffered, flushes, and shuts down.
func (w *BidWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping bid writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("bid writer stop timed out")
		return ctx.Err()
	}

	// Pick up anything that arrived after the consumer exited.
	for _, msg := range w.input.DrainTo(0) {
		w.add(w.transform(msg))
	}
	w.flushWith(ctx)

	w.logger.Info("bid writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (w *BidWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *BidWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		msgs := w.input.DrainTo(w.cfg.BatchSize)
		if len(msgs) == 0 {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		for _, msg := range msgs {
			w.handleMessage(msg)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *BidWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

func (w *BidWriter) handleMessage(msg router.BidMsg) {
	if w.add(w.transform(msg)) {
		w.flush()
	}
}

// add appends a row and reports whether the batch is full.
func (w *BidWriter) add(row bidRow) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a BidMsg to a bidRow.
func (w *BidWriter) transform(msg router.BidMsg) bidRow {
	auctionID := msg.AuctionID
	if auctionID == "" {
		auctionID = msg.Bid.AuctionID
	}

	row := bidRow{
		RowID:      RowID(auctionID, msg.Bid.ID),
		AuctionID:  auctionID,
		BidID:      msg.Bid.ID,
		BidderID:   msg.Bid.BidderID,
		BidderName: msg.Bid.BidderName,
		Amount:     msg.Bid.Amount.StringFixed(2),
		Source:     string(msg.Source),
		PlacedAt:   msg.Bid.Timestamp.Time,
		ReceivedAt: msg.ReceivedAt,
	}
	if row.PlacedAt.IsZero() {
		row.PlacedAt = msg.ReceivedAt
	}
	if msg.Source == router.SourceBroadcast {
		price := msg.NewCurrentPrice.StringFixed(2)
		total := msg.TotalBids
		row.CurrentPrice = &price
		row.TotalBids = &total
	}
	return row
}

func (w *BidWriter) flush() {
	ctx := w.ctx
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	w.flushWith(ctx)
}

// flushWith writes the current batch to the database.
func (w *BidWriter) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]bidRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.metrics.Dropped += int64(len(batch))
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed bids",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *BidWriter) batchInsert(ctx context.Context, rows []bidRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertBid,
			r.RowID, r.AuctionID, r.BidID, r.BidderID, r.BidderName, r.Amount,
			r.CurrentPrice, r.TotalBids, r.Source, r.PlacedAt, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
