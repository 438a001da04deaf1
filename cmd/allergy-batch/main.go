package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/allergy-extractor/internal/app"
	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/ingest"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir        = flag.String("dir", "", "directory of menu PDFs (required)")
		watch      = flag.Bool("watch", false, "keep running and submit PDFs added to --dir")
		process    = flag.Bool("process", false, "run a local page pool instead of relying on a running allergyd")
		maxPages   = flag.Int("max-pages", 0, "page cap per PDF (0 = configured default)")
		userID     = flag.String("user", "batch", "user id recorded on each job")
		skipHidden = flag.Bool("skip-hidden", true, "skip dot files and directories")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	logger := cfg.Log.NewLogger()
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	ing := ingest.NewIngestor(a.Service, *userID, *maxPages, logger)

	if *watch {
		if *process {
			a.Pool.Start(ctx)
			defer a.Pool.Shutdown(context.Background())
		}
		logger.Info("watching for PDFs", "dir", *dir)
		err := ing.Watch(ctx, ingest.WatchConfig{Roots: []string{*dir}, InitialScan: true, Debounce: cfg.Queue.PollInterval})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("watch failed", "error", err)
			os.Exit(1)
		}
		return
	}

	results, stats, err := ing.IngestDirectory(ctx, *dir, *skipHidden)
	if err != nil {
		logger.Error("failed to ingest directory", "error", err)
		os.Exit(1)
	}

	if *process {
		for {
			report, err := a.Service.ProcessPages(ctx, cfg.Queue.BatchSize)
			if err != nil {
				logger.Error("page processing failed", "error", err)
				os.Exit(1)
			}
			if report.Claimed == 0 {
				break
			}
		}
	}

	fmt.Printf("Batch submission complete!\n")
	fmt.Printf("- PDFs found: %d\n", stats.Matched)
	fmt.Printf("- Jobs started: %d\n", stats.Succeeded)
	fmt.Printf("- Failures: %d\n", stats.Failed)
	for _, r := range results {
		if r.Err != "" {
			fmt.Printf("  ! %s: %s\n", r.Path, r.Err)
			continue
		}
		fmt.Printf("  %s -> %s (%d pages)\n", r.Path, r.JobID, r.TotalPages)
	}
}
