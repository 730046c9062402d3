package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombh/rust-gpu-cli/internal/cache"
	"github.com/tombh/rust-gpu-cli/internal/config"
	"github.com/tombh/rust-gpu-cli/internal/report"
)

var historyCmd = &cobra.Command{
	Use:          "history [crate]",
	Short:        "List recorded builds of the shader crate",
	RunE:         runHistory,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 20, "Number of builds to show, 0 for all")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadForCrate(cmd, args)
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")

	journal, err := cache.New(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("opening build journal: %w", err)
	}
	defer journal.Close()

	entries, err := journal.List(cfg.Crate, limit)
	if err != nil {
		return err
	}

	lastGood, err := journal.LastSuccess(cfg.Crate)
	if err != nil {
		return err
	}

	report.History(cmd.OutOrStdout(), entries, lastGood, time.Now())
	return nil
}
