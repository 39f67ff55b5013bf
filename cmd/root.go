package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/safkaty/safkaty/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "safkaty",
	Short:        "Moroccan public tender scraper and tracker",
	Long:         "Searches marchespublics.gov.ma by keyword, extracts tenders and their lots, and tracks them through a bidding workflow.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
