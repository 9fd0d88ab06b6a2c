// Package room tracks which auction rooms this client has joined so they can
// be rejoined after a reconnect.
package room

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/bidup-live/internal/connection"
)

// Hub methods used for room membership.
const (
	MethodJoin  = "JoinAuction"
	MethodLeave = "LeaveAuction"
)

// Conn is the part of the Connection Manager the registry needs.
type Conn interface {
	connection.Invoker
	IsConnected() bool
}

// Registry is the set of rooms the client believes it has joined.
type Registry struct {
	conn   Conn
	logger *slog.Logger

	// replayLimit bounds concurrent JoinAuction calls during Replay.
	replayLimit int

	mu      sync.Mutex
	rooms   map[string]string // lower-cased id -> id as joined
	joining map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(conn Conn, replayLimit int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if replayLimit < 1 {
		replayLimit = 1
	}
	return &Registry{
		conn:        conn,
		logger:      logger,
		replayLimit: replayLimit,
		rooms:       make(map[string]string),
		joining:     make(map[string]struct{}),
	}
}

// Join subscribes to an auction's room. It returns without error when not
// connected, and logs rather than returns invocation failures; membership is
// recorded only when the server confirmed the join. Joining a room already
// joined, or one whose join is still in flight, is a no-op.
func (r *Registry) Join(ctx context.Context, auctionID string) {
	if !r.conn.IsConnected() {
		r.logger.Debug("not connected, skipping join", "auction", auctionID)
		return
	}

	key := strings.ToLower(auctionID)
	r.mu.Lock()
	_, joined := r.rooms[key]
	_, inFlight := r.joining[key]
	if joined || inFlight {
		r.mu.Unlock()
		return
	}
	r.joining[key] = struct{}{}
	r.mu.Unlock()

	err := r.conn.Invoke(ctx, MethodJoin, auctionID)

	r.mu.Lock()
	_, still := r.joining[key]
	delete(r.joining, key)
	if err == nil && still {
		r.rooms[key] = auctionID
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("failed to join auction room", "auction", auctionID, "error", err)
		return
	}
	if !still {
		// Left or cleared while the join was in flight.
		return
	}

	r.logger.Debug("joined auction room", "auction", auctionID)
}

// Leave unsubscribes from an auction's room. Membership is removed whether
// or not the server call succeeds.
func (r *Registry) Leave(ctx context.Context, auctionID string) {
	key := strings.ToLower(auctionID)
	r.mu.Lock()
	delete(r.rooms, key)
	delete(r.joining, key)
	r.mu.Unlock()

	if !r.conn.IsConnected() {
		return
	}
	if err := r.conn.Invoke(ctx, MethodLeave, auctionID); err != nil {
		r.logger.Debug("failed to leave auction room", "auction", auctionID, "error", err)
	}
}

// LeaveAll leaves every joined room, best effort.
func (r *Registry) LeaveAll(ctx context.Context) {
	for _, id := range r.Rooms() {
		r.Leave(ctx, id)
	}
}

// Replay rejoins every recorded room on inv. It is used as the Connection
// Manager's reconnect hook, so inv is bound to the fresh connection.
// Rooms whose rejoin fails stay recorded and are tried again on the next
// reconnect.
func (r *Registry) Replay(ctx context.Context, inv connection.Invoker) error {
	rooms := r.Rooms()
	if len(rooms) == 0 {
		return nil
	}

	// One failed room must not cancel the others.
	var g errgroup.Group
	g.SetLimit(r.replayLimit)

	for _, id := range rooms {
		g.Go(func() error {
			if err := inv.Invoke(ctx, MethodJoin, id); err != nil {
				r.logger.Warn("failed to rejoin auction room", "auction", id, "error", err)
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	r.logger.Info("rejoined auction rooms", "count", len(rooms), "error", err)
	return err
}

// Rooms returns the joined auction ids, sorted.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.rooms))
	for _, id := range r.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether auctionID has been joined.
func (r *Registry) Contains(auctionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[strings.ToLower(auctionID)]
	return ok
}

// Clear forgets all rooms without contacting the server.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.rooms = make(map[string]string)
	r.joining = make(map[string]struct{})
	r.mu.Unlock()
}
