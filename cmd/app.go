package cmd

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tombh/rust-gpu-cli/internal/cache"
	"github.com/tombh/rust-gpu-cli/internal/compiler"
	"github.com/tombh/rust-gpu-cli/internal/config"
	"github.com/tombh/rust-gpu-cli/internal/daemon"
	"github.com/tombh/rust-gpu-cli/internal/fingerprint"
	"github.com/tombh/rust-gpu-cli/internal/report"
	"github.com/tombh/rust-gpu-cli/internal/writer"
)

// app holds everything one invocation wires together
type app struct {
	cfg     *config.Config
	loader  *config.Loader
	logger  *slog.Logger
	scanner *fingerprint.Scanner
	journal *cache.Cache
	loop    *daemon.Loop
}

var newCompiler = func(cfg *config.Config, logger *slog.Logger) daemon.Compiler {
	var stream io.Writer
	if cfg.Verbose {
		stream = os.Stderr
	}

	c := compiler.New(cfg.CompilerToolchain(), compiler.NewExecRunner(stream), logger)
	c.Validate = cfg.ValidateSpirv

	return c
}

func newApp(cmd *cobra.Command, args []string) (*app, error) {
	loader := config.NewLoader()

	cfg, err := loader.LoadForCrate(cmd, args)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
	for _, f := range loader.Files {
		logger.Debug("Using config file", "path", f)
	}

	a := &app{
		cfg:     cfg,
		loader:  loader,
		logger:  logger,
		scanner: fingerprint.NewScanner(cfg.Crate, cfg.ExcludePaths(), cfg.IgnorePatterns()),
		journal: openJournal(cfg, logger),
	}

	loopCfg := daemon.Config{
		Crate:    cfg.Crate,
		Settings: settingsFor(cfg),
		Compiler: newCompiler(cfg, logger),
		Scanner:  a.scanner,
		Writer:   writer.New(logger),
		Reporter: report.New(cmd.OutOrStdout(), cfg.Crate),
		Logger:   logger,
	}

	if a.journal != nil {
		loopCfg.Recorder = a.journal
	}

	a.loop = daemon.New(loopCfg)
	return a, nil
}

func (a *app) Close() {
	if a.journal != nil {
		a.journal.Close()
	}
}

// watchConfig reloads the settings when a config file is edited. Only the
// build settings are live; toolchain changes need a restart.
func (a *app) watchConfig() {
	if len(a.loader.Files) == 0 {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := a.loader.Reload(a.cfg.Crate)
		if err != nil {
			a.logger.Error("Config change rejected, keeping previous settings", "file", e.Name, "error", err)
			return
		}

		a.loop.SetSettings(settingsFor(cfg))
		a.loop.Trigger(filepath.Base(e.Name) + " changed")
	})

	viper.WatchConfig()
}

func settingsFor(cfg *config.Config) daemon.Settings {
	return daemon.Settings{
		Options: cfg.Options,
		Mode:    cfg.Mode,
		Target:  cfg.OutputTarget,
	}
}

func openJournal(cfg *config.Config, logger *slog.Logger) *cache.Cache {
	if cfg.NoCache {
		return nil
	}

	journal, err := cache.New(cfg.CacheDir)
	if err != nil {
		logger.Warn("Build journal unavailable, continuing without it", "error", err)
		return nil
	}

	return journal
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
