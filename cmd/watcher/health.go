package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/bidup-live/internal/hub"
	"github.com/rickgao/bidup-live/internal/poller"
	"github.com/rickgao/bidup-live/internal/writer"
)

type liveStatus interface {
	IsConnected() bool
	Stats() hub.Stats
}

type pollStatus interface {
	Stats() poller.Stats
}

type journalHealth struct {
	writer interface{ Stats() writer.WriterMetrics }
	db     interface{ Ping(ctx context.Context) error }
}

// createHealthHandler creates the HTTP handler for health checks.
// Being offline is degraded, not unhealthy: the poller keeps views fresh.
func createHealthHandler(live liveStatus, poll pollStatus, journal *journalHealth) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		stats := live.Stats()
		health.Components["hub"] = map[string]any{
			"state":      stats.Connection.State.String(),
			"reconnects": stats.Connection.Reconnects,
			"rooms":      len(stats.Rooms),
		}
		if !live.IsConnected() {
			health.Status = "degraded"
		}

		health.Components["bidding"] = stats.Bidding

		ps := poll.Stats()
		health.Components["poller"] = map[string]any{
			"cycles":  ps.Cycles,
			"skipped": ps.Skipped,
			"errors":  ps.Errors,
		}

		if journal != nil {
			if err := journal.db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["journal"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				js := journal.writer.Stats()
				health.Components["journal"] = map[string]any{
					"status":    "connected",
					"inserts":   js.Inserts,
					"conflicts": js.Conflicts,
					"errors":    js.Errors,
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/rooms", func(w http.ResponseWriter, r *http.Request) {
		stats := live.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"rooms":   stats.Rooms,
			"watches": stats.Watches,
			"router":  stats.Router,
		})
	})

	return mux
}
