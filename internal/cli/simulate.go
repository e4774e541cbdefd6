package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stockfeed/internal/app"
)

var (
	simulateTicks    int
	simulateInterval time.Duration
	simulateSeed     uint64
	simulateDeliver  bool
	simulateSymbol   string
	simulateCSVPath  string
	simulatePNGPath  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run repeated ticks against an in-memory store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTicks <= 0 {
			return fmt.Errorf("--ticks must be greater than zero")
		}

		opts := app.SimulateOptions{
			Ticks:    simulateTicks,
			Interval: simulateInterval,
			Seed:     simulateSeed,
			Deliver:  simulateDeliver,
			Symbol:   simulateSymbol,
			CSVPath:  simulateCSVPath,
			PNGPath:  simulatePNGPath,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateTicks, "ticks", 100, "Number of ticks to run")
	simulateCmd.Flags().DurationVar(&simulateInterval, "interval", 0, "Simulated time between ticks (defaults to scheduler.interval)")
	simulateCmd.Flags().Uint64Var(&simulateSeed, "seed", 0, "Random seed (defaults to pricing.seed; 0 is non-deterministic)")
	simulateCmd.Flags().BoolVar(&simulateDeliver, "deliver", false, "Send every simulated batch to delivery.endpoint")
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Symbol to chart with --png (defaults to the first rule)")
	simulateCmd.Flags().StringVar(&simulateCSVPath, "csv", "", "Path to write the simulated price trail as CSV")
	simulateCmd.Flags().StringVar(&simulatePNGPath, "png", "", "Path to write a PNG chart of one symbol")
}
