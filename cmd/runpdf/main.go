package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/allergy-extractor/internal/allergen"
	"github.com/joseph-ayodele/allergy-extractor/internal/app"
	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/export"
	"github.com/joseph-ayodele/allergy-extractor/internal/pipeline"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		maxPages = flag.Int("max-pages", 0, "process at most this many pages (0 = all)")
		xlsxOut  = flag.String("xlsx", "", "also write an XLSX workbook to this path")
	)
	flag.Usage = func() {
		printError("usage: runpdf [flags] <menu.pdf>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	_ = godotenv.Load()
	cfg := common.LoadConfig()
	// stdout carries the CSV
	cfg.Log.Format = "text"
	logger := cfg.Log.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	analyzer, rast := app.NewAnalyzer(cfg, logger)
	if err := rast.Validate(path); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	runner := pipeline.NewDocumentRunner(analyzer, rast, logger)

	res, err := runner.Run(ctx, path, *maxPages, func(p pipeline.Progress) {
		printError("[%d/%d] page %d %s\n", p.Current, p.Total, p.Page, p.Status)
	})
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	body, err := export.ToCSV(res.Extractions)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if _, err := os.Stdout.Write(body); err != nil {
		os.Exit(1)
	}

	if *xlsxOut != "" {
		book, err := export.NewXLSXWriter(logger).ToXLSX(res.Extractions, res.Consolidated)
		if err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*xlsxOut, book, 0o644); err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
	}

	names := make([]string, 0, len(res.Consolidated.Found))
	for _, id := range res.Consolidated.Found {
		if a, ok := allergen.Lookup(id); ok {
			names = append(names, a.Name)
		}
	}
	printError("pages=%d rows=%d confidence=%.2f found=%v\n",
		len(res.Pages), len(res.Extractions), res.Consolidated.Confidence, names)
}
