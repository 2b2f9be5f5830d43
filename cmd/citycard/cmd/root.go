// Package cmd provides the citycard command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jrsteele09/citycard-gateway/internal/config"
)

var (
	cfgFile  string
	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "citycard",
	Short: "Citizen card session gateway",
	Long: `citycard drives the citizen card session gateway from the terminal.

It signs in against the citizen card API, keeps the session in the configured
storage and walks the guarded views the same way the web client does.

Configuration:
  Config is loaded from citycard.yaml in the current directory or
  $HOME/.citycard/. Environment variables override config values with the
  CITYCARD_ prefix, for example CITYCARD_API_BASE_URL=http://localhost:8080/api.

Commands:
  login       Sign in and store the session
  logout      Sign out and clear the stored session
  whoami      Show the signed-in principal
  refresh     Renew the access token
  visit       Navigate to a view through the guard
  devbackend  Run the local development backend
  version     Print version information`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		settings = s
		return setupLogger(s)
	},
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./citycard.yaml)")
}

func setupLogger(cfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.GetLogLevel()))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.GetLogLevel(), err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.GetLogFormat() == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return nil
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	return nil
}
