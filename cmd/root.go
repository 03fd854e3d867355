package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geocontext/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "geocontext",
	Short: "Population-weighted neighborhood context for points",
	Long: "Computes, for each point, the smallest radius enclosing k people and the share of each " +
		"population group within it. Reads CSV, XLSX and shapefile inputs, local or remote.",
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
