// Command bidder places one bid on an auction over the live hub and waits
// for the outcome. It exits 0 when the bid is accepted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/rickgao/bidup-live/internal/api"
	"github.com/rickgao/bidup-live/internal/auction"
	"github.com/rickgao/bidup-live/internal/auth"
	"github.com/rickgao/bidup-live/internal/bidding"
	"github.com/rickgao/bidup-live/internal/config"
	"github.com/rickgao/bidup-live/internal/connection"
	"github.com/rickgao/bidup-live/internal/hub"
	"github.com/rickgao/bidup-live/internal/model"
	"github.com/rickgao/bidup-live/internal/version"
)

// Exit codes.
const (
	exitAccepted = 0
	exitFailed   = 1
	exitUsage    = 2
	exitRejected = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	auctionID := flag.String("auction", "", "auction id to bid on")
	amount := flag.String("amount", "", "bid amount")
	quick := flag.Bool("quick", false, "bid the current price plus the minimum increment")
	flag.Parse()

	if *auctionID == "" || (*amount == "") == !*quick {
		fmt.Fprintln(os.Stderr, "usage: bidder -auction ID (-amount N | -quick)")
		return exitUsage
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		return exitFailed
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitFailed
	}
	logger := config.NewLogger(os.Stderr, cfg.Log)
	logger.Debug("starting bidder", "version", version.String())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	apiClient := api.NewClient(cfg.API.BaseURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	a, err := apiClient.GetAuction(ctx, *auctionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load auction: %v\n", err)
		return exitFailed
	}
	if !a.Status.IsOpen() {
		fmt.Fprintf(os.Stderr, "auction %q is %s\n", a.Title, a.Status)
		return exitRejected
	}

	tokens, err := auth.SignIn(ctx, cfg.Auth, apiClient,
		auth.WithRefreshMargin(cfg.Bidding.TokenRefreshMargin),
		auth.WithLogger(logger),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}

	h := hub.New(hub.ConfigFrom(cfg), tokens, logger)
	defer h.Close(context.Background())

	if err := h.Connect(ctx); err != nil {
		var connErr *connection.ConnectionError
		if errors.As(err, &connErr) && connErr.Unauthorized {
			fmt.Fprintln(os.Stderr, bidding.MsgSignInRequired)
		} else {
			fmt.Fprintln(os.Stderr, bidding.MsgNotConnected)
		}
		return exitFailed
	}

	view := auction.NewView(*a)
	sub := h.WatchView(ctx, view, hub.Handlers{})
	defer sub.Close(context.Background())

	results := make(chan bidding.Result, 1)
	b := bidding.NewBidder(h.Coordinator(), a.ID, func() (current, increment decimal.Decimal) {
		s := view.Snapshot()
		return s.CurrentPrice, s.MinBidIncrement
	},
		bidding.OnSuccess(func(bid model.Bid) {
			view.ApplyLocalBid(bid)
			results <- bidding.Result{AuctionID: a.ID, Amount: bid.Amount, Outcome: bidding.OutcomeAccepted, Bid: &bid}
		}),
		bidding.OnError(func(r bidding.Result) { results <- r }),
	)

	if *quick {
		err = b.QuickBid(ctx)
	} else {
		b.SetAmount(*amount)
		err = b.Submit(ctx)
	}
	if err != nil {
		if errors.Is(err, bidding.ErrInvalidAmount) {
			fmt.Fprintln(os.Stderr, b.Err())
			return exitRejected
		}
		fmt.Fprintf(os.Stderr, "submit bid: %v\n", err)
		return exitFailed
	}

	select {
	case r := <-results:
		return report(r, view.Snapshot())
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "interrupted before the bid resolved")
		return exitFailed
	}
}

// report prints the outcome and returns the exit code.
func report(r bidding.Result, s auction.State) int {
	if r.OK() {
		fmt.Printf("bid of %s accepted on %q (now %s, next minimum %s)\n",
			r.Amount.StringFixed(2), s.Title, s.CurrentPrice.StringFixed(2), s.MinNextBid().StringFixed(2))
		return exitAccepted
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", r.Outcome, r.Message)
	switch r.Outcome {
	case bidding.OutcomeRejected, bidding.OutcomeSuperseded:
		return exitRejected
	default:
		return exitFailed
	}
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
