/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sampleapp/apiserver/config"
	"github.com/sampleapp/apiserver/internal/logging"
	"github.com/sampleapp/apiserver/internal/mailer"
	"github.com/sampleapp/apiserver/internal/mq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// workerCmd delivers mail queued by servers running with MAIL_BACKEND=queue.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Delivers queued emails over SMTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(cfg.Log.Level, cfg.Log.Format)
		defer func() { _ = logger.Sync() }()

		if cfg.Mail.SMTPHost == "" {
			return errors.New("SMTP_HOST is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.Queue)
		if err != nil {
			return err
		}
		defer func() { _ = queue.Close() }()

		logger.Info("mail worker started", zap.String("channel", cfg.Mail.QueueChannel))
		err = queue.Subscribe(ctx, cfg.Mail.QueueChannel, mailer.Relay(mailer.NewSMTPMailer(cfg.Mail), logger))
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("consume %s: %w", cfg.Mail.QueueChannel, err)
		}
		logger.Info("mail worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
