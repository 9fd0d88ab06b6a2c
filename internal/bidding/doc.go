// Package bidding places bids over the hub connection and resolves them.
//
// The Coordinator allows one bid in flight for the whole client. A bid is
// resolved exactly once, by whichever comes first:
//   - BidAccepted from the server (accepted)
//   - BidError from the server (rejected, message passed through verbatim)
//   - a NewBid broadcast for the same auction with a different amount
//     (superseded: another bidder got in first)
//   - the resolution deadline (timed out; the server-side outcome is unknown)
//
// The deadline is armed when the send completes. Every late event or stale
// timer finds either no pending bid or a different request id and is dropped.
//
// Bidder wraps the Coordinator for one auction view: amount entry, the
// validity gate, quick bids, and the last error message.
package bidding
