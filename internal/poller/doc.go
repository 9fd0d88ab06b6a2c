// Package poller implements the REST fallback for watched auctions.
//
// While the hub connection is not live, the poller:
//   - Fetches every watched auction over REST each interval
//   - Bounds concurrent requests
//   - Hands each snapshot to a handler that replaces the view wholesale
//
// Cycles are skipped while the hub is live; pushes keep views current then.
package poller
