package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quiz-funnel/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "quiz-funnel",
	Short: "Diagnostic quiz funnel engine",
	Long:  "Serves the diagnostic quiz: walks visitors through the screens, computes exposure, churn and time loss, assigns a profile and hands off to checkout with attribution.",
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
