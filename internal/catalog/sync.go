package catalog

import (
	"context"
	"fmt"

	"github.com/rickgao/bidup-live/internal/model"
)

// fetchActive pages through the active auctions until a short page.
func (c *Catalog) fetchActive(ctx context.Context) ([]model.Auction, error) {
	var all []model.Auction
	for page := 1; page <= c.cfg.MaxPages; page++ {
		batch, err := c.rest.GetActiveAuctions(ctx, page, c.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("list active auctions page %d: %w", page, err)
		}
		all = append(all, batch...)
		if len(batch) < c.cfg.PageSize {
			return all, nil
		}
	}
	c.logger.Warn("active auction listing truncated", "max_pages", c.cfg.MaxPages)
	return all, nil
}

// initialSync loads active auctions on startup.
func (c *Catalog) initialSync(ctx context.Context) error {
	start := c.clock.Now()

	auctions, err := c.fetchActive(ctx)
	if err != nil {
		return err
	}

	c.state.mu.Lock()
	for _, a := range auctions {
		c.state.upsertLocked(a)
		if a.Status.IsOpen() {
			c.state.notifyChange(Change{AuctionID: a.ID, Type: ChangeAdded, NewStatus: a.Status, Auction: &a})
		}
	}
	c.state.lastSyncAt = c.clock.Now()
	c.state.mu.Unlock()

	c.logger.Info("initial auction sync complete",
		"auctions", len(auctions),
		"duration", c.clock.Since(start),
	)
	return nil
}

// reconciliationLoop periodically syncs with the REST API.
func (c *Catalog) reconciliationLoop(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.reconcile(ctx)
		}
	}
}

// reconcile fetches active auctions and detects additions, status changes
// and auctions that silently dropped off the active list.
func (c *Catalog) reconcile(ctx context.Context) {
	start := c.clock.Now()

	auctions, err := c.fetchActive(ctx)
	if err != nil {
		c.logger.Error("reconciliation failed", "error", err)
		return
	}

	var added, changed, removed int
	seen := make(map[string]struct{}, len(auctions))

	c.state.mu.Lock()
	for _, a := range auctions {
		k := key(a.ID)
		seen[k] = struct{}{}
		existing, ok := c.state.auctions[k]

		if !ok {
			c.state.upsertLocked(a)
			if a.Status.IsOpen() {
				c.state.notifyChange(Change{AuctionID: a.ID, Type: ChangeAdded, NewStatus: a.Status, Auction: &a})
				added++
			}
			continue
		}

		oldStatus := existing.Status
		c.state.upsertLocked(a)
		if oldStatus != a.Status {
			typ := ChangeStatus
			if !a.Status.IsOpen() {
				typ = ChangeRemoved
			} else if !oldStatus.IsOpen() {
				typ = ChangeAdded
			}
			c.state.notifyChange(Change{AuctionID: a.ID, Type: typ, OldStatus: oldStatus, NewStatus: a.Status, Auction: &a})
			changed++
		}
	}

	// Active auctions the listing no longer returns are assumed ended.
	for k := range c.state.activeSet {
		if _, ok := seen[k]; ok {
			continue
		}
		a := c.state.auctions[k]
		old := a.Status
		a.Status = model.StatusCompleted
		delete(c.state.activeSet, k)
		c.state.notifyChange(Change{AuctionID: a.ID, Type: ChangeRemoved, OldStatus: old, NewStatus: a.Status})
		removed++
	}
	c.state.lastSyncAt = c.clock.Now()
	c.state.mu.Unlock()

	if added > 0 || changed > 0 || removed > 0 {
		c.logger.Info("reconciliation found changes",
			"added", added,
			"changed", changed,
			"removed", removed,
			"duration", c.clock.Since(start),
		)
	} else {
		c.logger.Debug("reconciliation complete",
			"auctions", len(auctions),
			"duration", c.clock.Since(start),
		)
	}
}
