// Command geo2mbtiles converts an OSM PBF, ESRI shapefile, or Natural Earth
// SQLite source into an MVT-encoded MBTiles archive.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/pspoerri/geo2mbtiles/internal/config"
	"github.com/pspoerri/geo2mbtiles/internal/perr"
	"github.com/pspoerri/geo2mbtiles/internal/pipeline"
	"github.com/pspoerri/geo2mbtiles/internal/profile"
	"github.com/pspoerri/geo2mbtiles/internal/stats"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run implements the exit-code contract: 0 success, 1 argument
// error, 2 missing input, 3 runtime failure.
func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "geo2mbtiles: %v\n", err)
		fmt.Fprintf(os.Stderr, "usage: geo2mbtiles <profile-name> key=value [key=value...]\n")
		return 1
	}

	if err := cfg.CheckInputsExist(); err != nil {
		fmt.Fprintf(os.Stderr, "geo2mbtiles: %v\n", err)
		return 2
	}

	factory, err := profile.Lookup(cfg.ProfileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "geo2mbtiles: %v\n", err)
		return 1
	}

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()
	st := stats.New(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng := pipeline.New(cfg, pipeline.ProfileFactory(factory), st)

	start := time.Now()
	summary, err := eng.Run(ctx)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		logger.Error("run failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		if perr.Is(err, perr.Cancelled) {
			fmt.Fprintf(os.Stderr, "geo2mbtiles: cancelled after %v\n", elapsed)
		} else {
			fmt.Fprintf(os.Stderr, "geo2mbtiles: %v\n", err)
		}
		return 3
	}

	printSummary(cfg, summary, elapsed)
	return 0
}

func printSummary(cfg config.Config, s pipeline.Summary, elapsed time.Duration) {
	fmt.Printf("geo2mbtiles: %s\n", cfg.Output)
	fmt.Printf("  %-16s %s\n", "Profile:", cfg.ProfileName)
	fmt.Printf("  %-16s %d\n", "Tiles written:", s.TilesWritten)
	fmt.Printf("  %-16s %s\n", "Features:", humanize.Comma(s.FeaturesEmitted))
	fmt.Printf("  %-16s %s\n", "Output size:", humanize.Bytes(uint64(s.BytesWritten)))
	fmt.Printf("  %-16s %s\n", "Elapsed:", elapsed)
	if len(s.Errors) > 0 {
		fmt.Printf("  %-16s\n", "Errors:")
		for kind, n := range s.Errors {
			fmt.Printf("    %-20s %s\n", kind, humanize.Comma(n))
		}
	}
}
