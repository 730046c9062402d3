package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombh/rust-gpu-cli/internal/daemon"
)

var buildCmd = &cobra.Command{
	Use:          "build [crate] [output]",
	Short:        "Build the shader crate once",
	Long:         `Compile the shader crate with the configured options, write the output and exit.`,
	RunE:         runBuild,
	SilenceUsage: true,
	Args:         cobra.RangeArgs(0, 2),
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd, args)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.loop.RunOnce(ctx, "build")
	if res.Outcome != daemon.Failed {
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("build interrupted")
	}

	return fmt.Errorf("build failed: %s", res.Kind)
}
