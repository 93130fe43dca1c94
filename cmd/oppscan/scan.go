package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/oppscan/internal/config"
	"github.com/sawpanic/oppscan/internal/models"
	"github.com/sawpanic/oppscan/internal/ratelimit"
	"github.com/sawpanic/oppscan/internal/scan"
	"github.com/sawpanic/oppscan/internal/strategy"
	"github.com/sawpanic/oppscan/internal/universe"
)

var (
	scanStrategies []string
	scanSymbols    []string
	scanTier       string
	scanBudget     time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a one-shot scan in-process and print the results",
	Long: `Run the full strategy batch locally without Redis or the HTTP API.
Useful for smoke-testing strategy and budget configuration.

Examples:
  oppscan scan
  oppscan scan --strategies momentum,volume_surge --budget 20s
  oppscan scan --symbols BTC-USD,ETH-USD --tier pro`,
	RunE: runScanOnce,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringSliceVar(&scanStrategies, "strategies", nil, "strategy ids to run (default: all)")
	scanCmd.Flags().StringSliceVar(&scanSymbols, "symbols", nil, "symbols to scan (default: discovered universe)")
	scanCmd.Flags().StringVar(&scanTier, "tier", "pro", "universe tier when no symbols given")
	scanCmd.Flags().DurationVar(&scanBudget, "budget", 0, "override the overall scan budget")
}

// memoryStore satisfies scan.Store for local one-shot runs. Results render
// from the scheduler's return value, so progress writes are discarded.
type memoryStore struct{}

func (memoryStore) Put(context.Context, string, *models.ScanSnapshot, time.Duration) error {
	return nil
}

func runScanOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)
	if scanBudget > 0 {
		cfg.Scan.Budget = scanBudget
	}

	limiter := ratelimit.New(cfg.Downstream.RPS, cfg.Downstream.Burst)
	data := strategy.NewSyntheticMarketData(limiter)
	registry := strategy.NewRegistry(
		&strategy.Momentum{Data: data},
		&strategy.VolumeSurge{Data: data},
		&strategy.MeanReversion{Data: data},
	)
	evaluators := registry.Select(scanStrategies)
	if len(evaluators) == 0 {
		return fmt.Errorf("no matching strategies among %v", registry.IDs())
	}

	symbols := scanSymbols
	if len(symbols) == 0 {
		symbols, err = universe.NewStatic().Discover(cmd.Context(), scanTier)
		if err != nil {
			return err
		}
	}

	scheduler := scan.NewScheduler(scan.Config{
		Budget:             cfg.Scan.Budget,
		MinStrategyTimeout: cfg.Scan.MinStrategyTimeout,
		MaxStrategyTimeout: cfg.Scan.MaxStrategyTimeout,
		Concurrency:        cfg.Scan.Concurrency,
		CacheTTL:           cfg.Scan.CacheTTL,
	}, memoryStore{}, nil)

	now := time.Now().UTC()
	final := scheduler.Run(cmd.Context(), scan.Job{
		Snapshot: &models.ScanSnapshot{
			ScanID:    "local",
			UserID:    "cli",
			CacheKey:  "scan:cli:local",
			Status:    models.StatusInitiated,
			Partial:   true,
			CreatedAt: now,
		},
		Evaluators: evaluators,
		Universe:   symbols,
		User:       models.UserContext{UserID: "cli", Tier: scanTier},
	})

	render(os.Stdout, final, term.IsTerminal(int(os.Stdout.Fd())))
	return nil
}

// render prints the terminal snapshot: plain line output when piped, an
// aligned table on a terminal.
func render(w io.Writer, snap *models.ScanSnapshot, tty bool) {
	fmt.Fprintf(w, "scan %s: %d/%d strategies, %d opportunities\n",
		snap.Status, snap.StrategiesCompleted, snap.StrategiesTotal, len(snap.Opportunities))

	for _, outcome := range snap.Outcomes {
		if outcome.Outcome != models.OutcomeSuccess {
			fmt.Fprintf(w, "  %s: %s (%s)\n", outcome.Strategy, outcome.Outcome, outcome.Error)
		}
	}

	if len(snap.Opportunities) == 0 {
		return
	}

	if !tty {
		for _, opp := range snap.Opportunities {
			fmt.Fprintf(w, "%s %s %s signal=%.2f confidence=%.2f\n",
				opp.Strategy, opp.Symbol, opp.Action, opp.Signal, opp.Confidence)
		}
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tSYMBOL\tACTION\tSIGNAL\tCONFIDENCE\tENTRY\tTARGET")
	for _, opp := range snap.Opportunities {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\n",
			opp.Strategy, opp.Symbol, opp.Action, opp.Signal, opp.Confidence, opp.Entry, opp.Target)
	}
	tw.Flush()
}
