/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/birdnest/apiserver/internal/server"
	"github.com/spf13/cobra"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the birdnest backend server",
	Long: `Starts the birdnest backend server and the refresh token sweeper.
The server shuts down gracefully on SIGINT or SIGTERM. Usage:

	birdnest server
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger := newLogger(cmd, cfg)

		srv, err := server.New(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		if err := srv.Start(cmd.Context()); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
