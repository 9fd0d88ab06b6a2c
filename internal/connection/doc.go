// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the single WebSocket connection to the auction hub
//   - Performs the hub protocol handshake with a bearer credential
//   - Correlates client invocations with server completions
//   - Reconnects with exponential backoff (1s doubling to 16s, unbounded)
//   - Replays room memberships before reporting Connected again
//   - Hands server-pushed events to a Handler in receipt order
package connection
