package cli

import (
	"github.com/spf13/cobra"

	"stockfeed/internal/app"
)

var (
	showSymbol    string
	seedOverwrite bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the current quotes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{Symbol: showSymbol})
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write starting quotes for every configured rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Seed(cmd.Context(), app.SeedOptions{Overwrite: seedOverwrite})
	},
}

func init() {
	showCmd.Flags().StringVar(&showSymbol, "symbol", "", "Only show quotes for this symbol")
	seedCmd.Flags().BoolVar(&seedOverwrite, "overwrite", false, "Reset quotes that already exist to their starting price")
}
