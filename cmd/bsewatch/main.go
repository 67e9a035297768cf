// Package main is the bsewatch command: it polls BSE corporate disclosures,
// classifies the ones that matter and pushes alerts to the configured sinks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/shanehull/bsewatch/internal/config"
	"github.com/shanehull/bsewatch/internal/logging"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	cfg    *config.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "bsewatch",
	Short: "Watch BSE corporate announcements for F&O index constituents",
	Long: `bsewatch fetches BSE corporate announcements, keeps those from F&O-eligible
companies in the tracked NSE indices, classifies each attached document as
positive, negative or neutral, and notifies Slack, Telegram, email, console
and websocket subscribers once per announcement.

Settings come from bsewatch.toml (or --config), BSEWATCH_* environment
variables and the usual secret variables (SLACK_BOT_TOKEN, GEMINI_API_KEY, ...).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		paths, _ := cmd.Flags().GetStringSlice("config")
		if len(paths) == 0 {
			if _, err := os.Stat("bsewatch.toml"); err == nil {
				paths = []string{"bsewatch.toml"}
			}
		}

		loaded, err := config.Load(paths...)
		if err != nil {
			return err
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			loaded.Logging.Level = level
		}
		if storage, _ := cmd.Flags().GetString("storage"); storage != "" {
			loaded.Storage.Backend = storage
			if err := loaded.Validate(); err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
		}

		cfg = loaded
		logger = logging.New(cfg.Logging)
		logger.Debug().Strs("config", paths).Str("version", version).Msg("Configuration loaded")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSlice("config", nil, "config file(s), later files override earlier (default: ./bsewatch.toml if present)")
	rootCmd.PersistentFlags().String("log-level", "", "override logging.level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("storage", "", "override storage.backend (badger, sqlite, memory)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
