package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BidsTable is the journal table name.
const BidsTable = "auction_bids"

// Schema is the DDL for the bid journal. Amounts are exact numerics;
// row_id is derived from auction and bid ids so replays dedupe.
const Schema = `
CREATE TABLE IF NOT EXISTS auction_bids (
    row_id        UUID PRIMARY KEY,
    auction_id    TEXT NOT NULL,
    bid_id        TEXT NOT NULL,
    bidder_id     TEXT NOT NULL DEFAULT '',
    bidder_name   TEXT NOT NULL DEFAULT '',
    amount        NUMERIC(18, 2) NOT NULL,
    current_price NUMERIC(18, 2),
    total_bids    INTEGER,
    source        TEXT NOT NULL,
    placed_at     TIMESTAMPTZ NOT NULL,
    received_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS auction_bids_auction_placed_idx
    ON auction_bids (auction_id, placed_at);
`

// EnsureSchema creates the journal table and index if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
