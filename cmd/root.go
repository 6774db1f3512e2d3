/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/birdnest/apiserver/config"
	"github.com/birdnest/apiserver/internal/logging"
	"github.com/spf13/cobra"
)

var logLevel string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "birdnest",
	Short: "birdnest account backend",
	Long: `birdnest serves account, session and follow APIs for the birdnest
social app.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
}

// loadConfig reads the environment and applies command line overrides.
func loadConfig() config.Config {
	cfg := config.LoadConfig()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg
}

// newLogger builds the process logger and installs it as the slog default.
func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	logger := logging.New(cfg.LogLevel, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return logger
}
