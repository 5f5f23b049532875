package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/dandantas/certwatch/internal/agent"
	"github.com/dandantas/certwatch/internal/config"
	"github.com/dandantas/certwatch/internal/log"

	"github.com/spf13/cobra"
)

var (
	version = "dev" // overridden with -ldflags "-X main.version=..."

	flagVerbose bool // value of --verbose flag
)

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging, overrides LOG_LEVEL")

	// errors are logged below
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("certwatch failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "certwatch",
	Short:        "Agent checking TLS certificate expiry for a controller",
	SilenceUsage: true,
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "poll the controller for checks and report results back",
	RunE:  runMode(config.ModePull),
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "accept checks over HTTP and report results to their callbacks",
	RunE:  runMode(config.ModePush),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version of certwatch",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("certwatch: %s\n", version)

		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:    %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:      %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:     %s\n", s.Value)
			}
		}
	},
}

func runMode(mode config.Mode) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := config.Load()
		if flagVerbose {
			cfg.LogLevel = "debug"
		}

		logger := config.NewLogger(cfg, os.Stdout)
		ctx = log.ContextAttrs(ctx, slog.Group("certwatch",
			slog.String("mode", string(mode)),
			slog.Int("pid", os.Getpid()),
		))

		logger.InfoContext(ctx, "Starting certwatch", "version", version)

		a, err := agent.New(ctx, cfg, mode, logger, version)
		if err != nil {
			return err
		}
		return a.Run(ctx)
	}
}
