package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/nlcd-county/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "nlcd-county",
	Short: "County-level NLCD land-cover proportions",
	Long:  "Samples an NLCD land-cover raster inside every county boundary, folds the raw classes into forest, agriculture, developed, wetland and other, and writes one proportion row per county.",
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
