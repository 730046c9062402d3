package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tombh/rust-gpu-cli/internal/config"
	"github.com/tombh/rust-gpu-cli/internal/options"
	"github.com/tombh/rust-gpu-cli/internal/version"
	"github.com/tombh/rust-gpu-cli/internal/watch"
)

var rootCmd = &cobra.Command{
	Use:   "rust-gpu-cli [crate] [output]",
	Short: "Build rust-gpu shader crates to SPIR-V",
	Long: `Watches a rust-gpu shader crate and rebuilds it whenever its sources or
build options change. Each build is written atomically, so the previous good
output stays in place while a broken change is being fixed.`,
	RunE:         runWatch,
	SilenceUsage: true,
	Args:         cobra.RangeArgs(0, 2),
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)

	flags := rootCmd.PersistentFlags()
	flags.StringP("target", "t", "", "rust-gpu target (default "+options.DefaultTarget+")")
	flags.Bool("deny-warnings", false, "Treat warnings as errors")
	flags.Bool("debug", false, "Build in debug mode instead of release")
	flags.StringSlice("capability", []string{}, "Enable a SPIR-V capability (repeatable)")
	flags.StringSlice("extension", []string{}, "Enable a SPIR-V extension (repeatable)")
	flags.Bool("multimodule", false, "Emit one SPIR-V module per entry point")
	flags.String("spirv-metadata", "", "Debug metadata to embed: none, name-variables or full")
	flags.Bool("relax-struct-store", false, "Allow store from one struct type to a different type with compatible layout")
	flags.Bool("relax-logical-pointer", false, "Allow allocating an object of a pointer type and returning a pointer value from a function")
	flags.Bool("relax-block-layout", false, "Enable VK_KHR_relaxed_block_layout when checking standard uniform, storage buffer and push constant layouts")
	flags.Bool("uniform-buffer-standard-layout", false, "Enable VK_KHR_uniform_buffer_standard_layout when checking standard uniform buffer layouts")
	flags.Bool("scalar-block-layout", false, "Enable VK_EXT_scalar_block_layout when checking standard uniform, storage buffer and push constant layouts")
	flags.Bool("skip-block-layout", false, "Skip checking standard uniform, storage buffer and push constant layouts")
	flags.Bool("preserve-bindings", false, "Preserve unused descriptor bindings")
	flags.Bool("validate", false, "Check every produced module and log problems")
	flags.String("packaging", "", "Output packaging: combined or multimodule (default follows --multimodule)")
	flags.StringP("output", "o", "", "Output file, or a pattern with {entry} for multimodule packaging")
	flags.String("index", "", "Index file for multimodule packaging")
	flags.StringSlice("ignore", []string{}, "Glob of source paths that never trigger a rebuild (repeatable)")
	flags.String("cargo", "", "cargo executable")
	flags.String("codegen-backend", "", "Path to the rustc_codegen_spirv library")
	flags.String("toolchain", "", "rustup toolchain to build with")
	flags.String("target-dir", "", "cargo target directory")
	flags.String("cache-dir", "", "Build journal directory")
	flags.Bool("no-cache", false, "Disable the build journal")
	flags.Duration("debounce", config.DefaultDebounce, "Quiet period before a burst of file changes triggers a build")
	flags.BoolP("verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cleanCmd)
}

// runWatch builds once and then again on every source change, config change
// or SIGHUP, until interrupted
func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd, args)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := watch.New(watch.Config{
		Resolve:  a.scanner.Inputs,
		Excluded: a.scanner.Excluded,
		Trigger:  a.loop.Trigger,
		Debounce: a.cfg.Debounce,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	a.watchConfig()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	a.logger.Info("Watching crate", "crate", a.cfg.Crate, "output", a.cfg.Output, "packaging", a.cfg.Mode)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Run(ctx)
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				a.loop.Trigger("SIGHUP")
			}
		}
	})

	g.Go(func() error {
		return a.loop.Run(ctx)
	})

	err = g.Wait()
	a.logger.Info("Stopped")

	return err
}
