package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled price feed (and the queue consumer when enabled)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single price update now and print the batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().RunTick(cmd.Context())
		return err
	},
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume and acknowledge queue messages without transformation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Consume(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations for the postgres store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}
