/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/birdnest/apiserver/internal/mq"
	"github.com/birdnest/apiserver/internal/services"
	"github.com/spf13/cobra"
)

// mailerCmd represents the mailer command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Consumes account notifications and sends verify and reset mail",
	Long: `Subscribes to the notification channel published by the server and
turns each verify-email or forgot-password notification into a mail. Usage:

	birdnest mailer
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger := newLogger(cmd, cfg)

		broker, err := mq.Open(cmd.Context(), cfg.MQ, logger)
		if err != nil {
			return fmt.Errorf("open mq: %w", err)
		}
		if broker == nil {
			return errors.New("MQ_BACKEND is not set; nothing to consume")
		}
		defer broker.Close()

		mailer := services.NewMailer(services.NewLogSender(logger), cfg.Mailer.LinkBaseURL, logger)
		logger.Info("mailer consuming", "channel", cfg.MQ.NotificationChannel)
		err = broker.Subscribe(cmd.Context(), cfg.MQ.NotificationChannel, func(ctx context.Context, msg mq.Message) error {
			return mailer.Handle(ctx, msg.Data)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("subscribe: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
