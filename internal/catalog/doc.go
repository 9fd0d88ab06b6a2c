// Package catalog keeps the set of auctions currently open for bidding.
//
// The Catalog:
//   - Loads active auctions via the REST API on startup
//   - Reconciles with the API periodically to catch auctions it missed
//   - Applies hub status pushes (AuctionStatusChanged, AuctionEnded) as they arrive
//   - Emits a Change whenever an auction is added, changes status, or closes
package catalog
