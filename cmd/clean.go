package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombh/rust-gpu-cli/internal/cache"
	"github.com/tombh/rust-gpu-cli/internal/config"
)

var cleanCmd = &cobra.Command{
	Use:          "clean [crate]",
	Short:        "Clear the build journal of the shader crate",
	RunE:         runClean,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
}

func init() {
	cleanCmd.Flags().Bool("all", false, "Clear the journal of every crate sharing the cache directory")
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadForCrate(cmd, args)
	if err != nil {
		return err
	}

	all, _ := cmd.Flags().GetBool("all")

	journal, err := cache.New(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("opening build journal: %w", err)
	}
	defer journal.Close()

	crate := cfg.Crate
	cleared := []string{crate}
	if all {
		crate = ""
		if cleared, err = journal.Crates(); err != nil {
			return err
		}
	}

	count, _, err := journal.Stats()
	if err != nil {
		return err
	}

	if err := journal.Clear(crate); err != nil {
		return fmt.Errorf("clearing build journal: %w", err)
	}

	remaining, _, err := journal.Stats()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if all {
		for _, c := range cleared {
			fmt.Fprintf(out, "  %s\n", c)
		}
	}

	fmt.Fprintf(out, "Removed %d recorded builds from %s\n", count-remaining, journal.Path())
	return nil
}
