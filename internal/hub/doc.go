// Package hub is the client's single entry point to the live auction hub.
//
// A Hub owns one Connection Manager, the room registry, the event router and
// the bid coordinator, and wires them together:
//
//	hub events -> router -> Hub fan-out -> watches, live stats, coordinator
//	bids       -> Bidder -> Coordinator -> Manager.Invoke("PlaceBid")
//
// Rooms recorded in the registry are rejoined on every reconnect before the
// Manager reports Connected. Disconnect leaves rooms best-effort and then
// always clears listeners and memberships.
package hub
