package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jiangjiechen/auction-arena/config"
	"github.com/jiangjiechen/auction-arena/internal/auction"
	"github.com/jiangjiechen/auction-arena/internal/server"
	"github.com/jiangjiechen/auction-arena/internal/store"
	"github.com/jiangjiechen/auction-arena/internal/telemetry"
	"github.com/jiangjiechen/auction-arena/provider"
)

const sessionAttempts = 3

func main() {
	var root = &cobra.Command{Use: "aucarena"}

	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	var itemsPath, biddersPath, resumeHash string
	var repeats int
	var monitorAddr string
	var run = &cobra.Command{
		Use:   "run",
		Short: "Run auction sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return runSessions(cfg, itemsPath, biddersPath, resumeHash, repeats, monitorAddr)
		},
	}
	run.Flags().StringVar(&itemsPath, "items", "data/items.jsonl", "item catalog (JSONL)")
	run.Flags().StringVar(&biddersPath, "bidders", "data/bidders.jsonl", "bidder roster (JSONL)")
	run.Flags().StringVar(&resumeHash, "resume", "", "auction hash whose last memo seeds the learning round")
	run.Flags().IntVar(&repeats, "repeat", 1, "number of sessions to chain")
	run.Flags().StringVar(&monitorAddr, "monitor", "", "also serve the monitor API on this address")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			archive, err := store.OpenArchive(ctx, cfg.Storage, log.New(log.Writer(), "[STORE] ", log.LstdFlags))
			if err != nil {
				return err
			}
			defer archive.Close()
			return server.New(cfg, archive).Start(serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to server.address)")

	var migDir string
	var direction string
	var steps int
	var migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			var dsn string
			if cfg.Storage.Postgres.Configured() {
				dsn, err = cfg.Storage.Postgres.DSN()
				if err != nil {
					return err
				}
			}
			return store.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	root.AddCommand(run, serve, migrateCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSessions(cfg *config.Config, itemsPath, biddersPath, resumeHash string, repeats int, monitorAddr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(log.Writer(), "[AUCTION] ", log.LstdFlags)

	tele := telemetry.New(cfg.Telemetry)
	defer tele.Shutdown()

	archive, err := store.OpenArchive(ctx, cfg.Storage, log.New(log.Writer(), "[STORE] ", log.LstdFlags))
	if err != nil {
		return err
	}
	defer archive.Close()

	var mon *server.Server
	if monitorAddr != "" {
		mon = server.New(cfg, archive)
		go func() {
			if err := mon.Start(monitorAddr); err != nil {
				logger.Printf("monitor server stopped: %v", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mon.Shutdown(sctx)
		}()
	}

	specs, err := auction.LoadBidderSpecs(biddersPath)
	if err != nil {
		return err
	}

	providers := func(model string) (provider.Provider, error) {
		p, err := provider.NewProvider(cfg.LLM, model)
		if err != nil {
			return nil, err
		}
		return provider.WithRetry(p, 0, logger), nil
	}

	oracle, err := providers(cfg.LLM.Parser)
	if err != nil {
		return fmt.Errorf("bid parser oracle: %w", err)
	}

	auctionHash := newAuctionHash()
	logger.Printf("auction %s: %d bidder(s), %d repeat(s)", auctionHash, len(specs), repeats)

	var past *auction.Memo
	if resumeHash != "" {
		memo, ok, err := archive.LoadMemo(ctx, resumeHash, 0)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no archived memo for auction %s", resumeHash)
		}
		past = memo
	}

	for repeat := 0; repeat < repeats; repeat++ {
		var result *auction.SessionResult
		var runErr error
		for attempt := 1; attempt <= sessionAttempts; attempt++ {
			result, runErr = runOne(ctx, cfg, specs, itemsPath, auctionHash, oracle, providers, tele, mon, logger, past)
			if runErr == nil {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Printf("session %d attempt %d failed: %v", repeat, attempt, runErr)
		}
		if runErr != nil {
			return fmt.Errorf("session %d failed after %d attempts: %w", repeat, sessionAttempts, runErr)
		}

		if err := archive.SaveSession(ctx, repeat, result); err != nil {
			logger.Printf("archive session %d: %v", repeat, err)
		}
		logger.Printf("session %d done: total cost $%.4f", repeat, result.TotalCost)
		past = result.Memo
	}

	fmt.Println(tele.GetPerformanceReport())
	return nil
}

// runOne builds a fresh auctioneer and bidder roster and plays one session.
// Everything is rebuilt per attempt so a failed run leaves no state behind.
func runOne(ctx context.Context, cfg *config.Config, specs []auction.BidderSpec, itemsPath, auctionHash string,
	oracle provider.Provider, providers auction.ProviderFactory, tele *telemetry.Telemetry,
	mon *server.Server, logger *log.Logger, past *auction.Memo) (*auction.SessionResult, error) {

	items, err := auction.LoadItems(itemsPath)
	if err != nil {
		return nil, err
	}

	deps := auction.BidderDeps{
		Providers:     providers,
		AuctionHash:   auctionHash,
		Logger:        logger,
		Recorder:      tele,
		RuleMaxBidCnt: cfg.Auction.RuleBidderMaxCnt,
	}
	bidders, err := auction.NewBidders(specs, deps)
	if err != nil {
		return nil, err
	}

	var rng *rand.Rand
	if cfg.Auction.TieBreakSeed != 0 {
		rng = rand.New(rand.NewSource(cfg.Auction.TieBreakSeed))
	}
	auctioneer := auction.NewAuctioneer(auction.AuctioneerOptions{
		EnableDiscount: cfg.Auction.EnableDiscount,
		MaxDiscounts:   cfg.Auction.MaxDiscounts,
		MinMarkupPct:   cfg.Auction.MinMarkupPct,
		Rng:            rng,
		Logger:         log.New(log.Writer(), "[AUCTIONEER] ", log.LstdFlags),
	})
	auctioneer.InitItems(items)
	if cfg.Auction.Shuffle {
		auctioneer.ShuffleItems()
	}

	runner := auction.NewRunner(auction.RunnerOptions{
		Auctioneer:  auctioneer,
		Bidders:     bidders,
		Coordinator: auction.NewCoordinator(cfg.Auction.ThreadNum, cfg.Auction.BidderTimeout, log.New(log.Writer(), "[COORD] ", log.LstdFlags)),
		Parser:      auction.NewBidParser(oracle, nil, tele),
		RebidCap:    cfg.Auction.RebidCap,
		AuctionHash: auctionHash,
		Logger:      logger,
		Observer:    tele,
	})

	if mon != nil {
		mon.AttachSession(auctionHash, auctioneer, bidders)
	}
	return runner.Run(ctx, past)
}

func newAuctionHash() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", time.Now().Format("20060102"), id[:8])
}
