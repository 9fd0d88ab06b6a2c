// Command watcher follows one or more auctions live, falling back to REST
// polling while the hub is unreachable, and optionally journals every
// observed bid to PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/rickgao/bidup-live/internal/api"
	"github.com/rickgao/bidup-live/internal/auth"
	"github.com/rickgao/bidup-live/internal/catalog"
	"github.com/rickgao/bidup-live/internal/config"
	"github.com/rickgao/bidup-live/internal/connection"
	"github.com/rickgao/bidup-live/internal/database"
	"github.com/rickgao/bidup-live/internal/hub"
	"github.com/rickgao/bidup-live/internal/model"
	"github.com/rickgao/bidup-live/internal/poller"
	"github.com/rickgao/bidup-live/internal/version"
	"github.com/rickgao/bidup-live/internal/writer"
)

// auctionList collects repeated -auction flags.
type auctionList []string

func (l *auctionList) String() string { return strings.Join(*l, ",") }

func (l *auctionList) Set(v string) error {
	for _, id := range strings.Split(v, ",") {
		if id = strings.TrimSpace(id); id != "" {
			*l = append(*l, id)
		}
	}
	return nil
}

func main() {
	var auctions auctionList
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	all := flag.Bool("all", false, "watch every active auction and follow new ones")
	flag.Var(&auctions, "auction", "auction id to watch (repeatable or comma separated)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting watcher",
		"version", version.Version,
		"commit", version.Commit,
		"api_url", cfg.API.BaseURL,
		"hub_url", cfg.HubURL(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	apiClient := api.NewClient(cfg.API.BaseURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	if len(auctions) == 0 && !*all {
		logger.Error("nothing to watch: pass -auction or -all")
		os.Exit(2)
	}

	tokens, err := auth.SignIn(ctx, cfg.Auth, apiClient,
		auth.WithRefreshMargin(cfg.Bidding.TokenRefreshMargin),
		auth.WithLogger(logger),
	)
	if err != nil {
		logger.Error("sign in failed", "error", err)
		os.Exit(1)
	}

	h := hub.New(hub.ConfigFrom(cfg), tokens, logger)
	h.OnStateChange(func(from, to connection.State) {
		logger.Info("hub state", "from", from, "to", to)
	})
	h.OnLiveStats(func(s model.LiveStats) {
		logger.Info("live stats", "active_auctions", s.ActiveAuctions, "connected_users", s.ConnectedUsers)
	})

	// Bid journal
	var (
		pool *pgxpool.Pool
		bw   *writer.BidWriter
	)
	if cfg.Journal.Enabled {
		pool, err = database.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			logger.Error("failed to connect to journal database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to prepare journal schema", "error", err)
			os.Exit(1)
		}
		bw = writer.NewBidWriter(writer.WriterConfig{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
		}, h.BidJournal(), pool, logger.With("component", "journal"))
		if err := bw.Start(ctx); err != nil {
			logger.Error("failed to start bid writer", "error", err)
			os.Exit(1)
		}
	}

	// Live connection failure is not fatal; the poller covers for it while
	// the hub keeps retrying in the background.
	if err := h.Connect(ctx); err != nil {
		logger.Warn("live updates unavailable, polling until the hub is back", "error", err, "state", h.State())
	}

	var cat *catalog.Catalog
	if *all {
		cat = catalog.New(catalog.Config{
			ReconcileInterval: cfg.Catalog.ReconcileInterval,
			PageSize:          cfg.Catalog.PageSize,
		}, apiClient, logger.With("component", "catalog"))
	}

	var onEnded func(model.AuctionStatusNotification)
	if cat != nil {
		onEnded = cat.HandleStatus
	}
	tr := newTracker(h, logger, onEnded)

	if cat != nil {
		if err := cat.Start(ctx); err != nil {
			logger.Error("failed to load active auctions", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			cat.Stop(stopCtx)
		}()
		go tr.follow(ctx, cat.Changes())
	}
	for _, id := range auctions {
		a, err := apiClient.GetAuction(ctx, id)
		if err != nil {
			logger.Error("failed to load auction", "auction", id, "error", err)
			continue
		}
		tr.add(ctx, *a)
	}
	if cat == nil && len(tr.ids()) == 0 {
		logger.Error("no auction could be loaded")
		os.Exit(1)
	}

	p := poller.New(poller.Config{
		Interval:    cfg.Poller.Interval,
		Concurrency: cfg.Poller.Concurrency,
		Timeout:     cfg.Poller.Timeout,
	}, apiClient,
		poller.AuctionSourceFunc(tr.ids),
		poller.AuctionHandlerFunc(tr.replace),
		logger.With("component", "poller"),
		poller.WithLiveCheck(h.IsConnected),
	)
	if err := p.Start(ctx); err != nil {
		logger.Error("failed to start poller", "error", err)
		os.Exit(1)
	}

	var healthServer *http.Server
	if cfg.Health.Addr != "" {
		healthServer = &http.Server{
			Addr:    cfg.Health.Addr,
			Handler: createHealthHandler(h, p, journalDeps(bw, pool)),
		}
		go func() {
			logger.Info("starting health server", "addr", cfg.Health.Addr)
			if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
				logger.Error("health server error", "error", err)
			}
		}()
	}

	logger.Info("watcher running", "auctions", len(tr.ids()), "live", h.IsConnected())

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if healthServer != nil {
		healthServer.Shutdown(shutdownCtx)
	}
	p.Stop(shutdownCtx)
	tr.closeAll(shutdownCtx)
	h.Close(shutdownCtx)
	if bw != nil {
		bw.Stop(shutdownCtx)
		stats := bw.Stats()
		logger.Info("journal flushed", "inserts", stats.Inserts, "conflicts", stats.Conflicts, "errors", stats.Errors)
	}

	logger.Info("watcher stopped")
}

// journalDeps returns nil when the journal is disabled.
func journalDeps(bw *writer.BidWriter, pool *pgxpool.Pool) *journalHealth {
	if bw == nil || pool == nil {
		return nil
	}
	return &journalHealth{writer: bw, db: pool}
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.LoadWithDefaults(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
