// Package writer journals observed bids to PostgreSQL.
//
// BidWriter drains the router's bid buffer and inserts rows in batches.
// Writes are append-only: each row id is derived from the auction and bid
// ids, so a bid seen twice (broadcast echo, replay after reconnect) is
// inserted once and counted as a conflict.
package writer
