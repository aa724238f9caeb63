package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kahiteam/cowfork/internal/config"
	"github.com/kahiteam/cowfork/internal/events"
	"github.com/kahiteam/cowfork/internal/inspect"
	"github.com/kahiteam/cowfork/internal/kernel"
	"github.com/kahiteam/cowfork/internal/logging"
	"github.com/kahiteam/cowfork/internal/metrics"
	"github.com/kahiteam/cowfork/internal/programs"
	"github.com/kahiteam/cowfork/internal/version"
)

var (
	runDump     bool
	runJSON     bool
	runMetrics  bool
	runFrames   int
	runTimeout  int
	runLogLevel string
)

var runCmd = &cobra.Command{
	Use:   "run [program]",
	Short: "Boot a built-in program and run it to completion",
	Long: `Boot a built-in program on a fresh kernel and run it until no
environment is left. Console output goes to stdout, followed by one line
per exited environment. See "cowfork list" for the available programs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg, args)
		return runProgram(cmd.Context(), cmd.OutOrStdout(), cfg)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDump, "dump", false, "print every address space as it exits")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print address space dumps as JSON")
	runCmd.Flags().BoolVar(&runMetrics, "metrics", false, "print Prometheus metrics after the run")
	runCmd.Flags().IntVar(&runFrames, "frames", 0, "physical page frames (overrides kernel.frames)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "cancel the run after this many seconds (overrides run.timeout)")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "log level (overrides log.level)")
	rootCmd.AddCommand(runCmd)
}

// loadConfig resolves and loads the config file. Running without one is
// fine; every setting has a default.
func loadConfig(explicit string) (*config.Config, error) {
	cfg, path, warnings, err := config.Find(explicit)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", path, w)
	}
	return cfg, nil
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config, args []string) {
	if len(args) == 1 {
		cfg.Run.Program = args[0]
	}
	flags := cmd.Flags()
	if flags.Changed("dump") {
		cfg.Run.Dump = runDump
	}
	if flags.Changed("json") && runJSON {
		cfg.Run.Dump = true
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled = runMetrics
	}
	if flags.Changed("frames") {
		cfg.Kernel.Frames = runFrames
	}
	if flags.Changed("timeout") {
		cfg.Run.Timeout = runTimeout
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = runLogLevel
	}
}

// logFormat prefers text when logging to an interactive terminal.
func logFormat(cfg *config.Config) string {
	if cfg.Log.File == "" && term.IsTerminal(int(os.Stderr.Fd())) {
		return "text"
	}
	return cfg.Log.Format
}

func runProgram(ctx context.Context, out io.Writer, cfg *config.Config) error {
	if errs := config.Validate(cfg); len(errs) > 0 {
		return &config.ValidationError{Path: "command line", Errs: errs}
	}

	logger, closeLog, err := logging.Open(cfg.Log.Level, logFormat(cfg), cfg.Log.File)
	if err != nil {
		return err
	}
	if closeLog != nil {
		defer closeLog()
	}

	console := out
	if cfg.Kernel.ConsoleFile != "" {
		f, err := os.OpenFile(cfg.Kernel.ConsoleFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("cannot open console file: %w", err)
		}
		defer f.Close()
		console = io.MultiWriter(out, f)
	}

	bus := events.NewBus(logger)
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		collector.SetBuildInfo(version.Version, version.Go())
		collector.Attach(bus)
	}

	k := kernel.New(kernel.Options{
		Frames:       cfg.Kernel.Frames,
		MaxEnvs:      cfg.Kernel.MaxEnvs,
		ConsoleBytes: cfg.Kernel.ConsoleBytes,
		Console:      console,
		Logger:       logger,
		Bus:          bus,
		TraceExit:    cfg.Run.Dump,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if cfg.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Run.Timeout)*time.Second)
		defer cancel()
	}

	logger.Info("booting", slog.String("program", cfg.Run.Program), slog.Int("frames", cfg.Kernel.Frames))
	rec, err := programs.Run(ctx, k, cfg.Run.Program)
	if errors.Is(err, programs.ErrUnknownProgram) {
		return fmt.Errorf("%w (see \"cowfork list\")", err)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", cfg.Run.Program, err)
	}

	if _, err := fmt.Fprintln(out); err != nil {
		return err
	}
	if err := inspect.WriteExits(out, k.Exits()); err != nil {
		return err
	}
	if cfg.Run.Dump {
		if err := writeDumps(out, k.Exits()); err != nil {
			return err
		}
	}
	if collector != nil {
		collector.SetFramesFree(k.FreeFrames())
		if _, err := fmt.Fprintln(out); err != nil {
			return err
		}
		if err := collector.WriteText(out, metrics.Namespace+"_"); err != nil {
			return err
		}
	}

	if rec.Err != nil {
		return fmt.Errorf("%s aborted: %w", cfg.Run.Program, rec.Err)
	}
	return nil
}

func writeDumps(out io.Writer, recs []kernel.ExitRecord) error {
	snaps := make([]inspect.Snapshot, 0, len(recs))
	for _, r := range recs {
		snaps = append(snaps, inspect.FromExit(r))
	}
	if runJSON {
		return inspect.WriteJSON(out, snaps...)
	}
	if _, err := fmt.Fprintln(out); err != nil {
		return err
	}
	return inspect.WriteTable(out, snaps...)
}
