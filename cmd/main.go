package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ctfix/internal/app"
	"ctfix/internal/config"
	"ctfix/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "ctfix",
	Short: "Fix object content types in an S3 bucket",
	Long: `Scans every object under the given prefixes, infers the expected content type
from each key name and rewrites objects whose declared content type is wrong.
Objects are copied onto themselves with their ACL preserved.`,
	SilenceUsage: true,
	RunE:         runFix,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")

	// Store flags
	rootCmd.Flags().StringP("access-key", "a", "", "Access key (required)")
	rootCmd.Flags().StringP("secret-key", "s", "", "Secret key (required)")
	rootCmd.Flags().String("backend", config.BackendMinIO, "Storage backend (minio/aws)")
	rootCmd.Flags().String("endpoint", "", "S3 endpoint (required for minio backend)")
	rootCmd.Flags().String("region", "us-east-1", "S3 region")
	rootCmd.Flags().Bool("secure", true, "Use HTTPS")
	rootCmd.Flags().Bool("path-style", false, "Use path-style bucket addressing")

	// Fix flags
	rootCmd.Flags().StringP("bucket", "b", "", "Bucket name (required)")
	rootCmd.Flags().StringArrayP("prefix", "p", nil, "Key prefix to scan, repeatable (default: every key)")
	rootCmd.Flags().IntP("workers", "w", 4, "Number of concurrent workers")
	rootCmd.Flags().BoolP("verbose", "v", false, "Also report objects whose content type already matches")
	rootCmd.Flags().Bool("dry-run", false, "Report mismatches without rewriting objects")
	rootCmd.Flags().Duration("queue-timeout", time.Hour, "How long an idle worker waits for work before exiting")
	rootCmd.Flags().String("checkpoint", "", "Checkpoint database file (empty disables)")
	rootCmd.Flags().Bool("resume", false, "Skip objects already matched or fixed in the checkpoint")
	rootCmd.Flags().Bool("show-progress", true, "Show progress display on a terminal")
	rootCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
}

func runFix(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	sink := logger.NewSink(os.Stderr)
	log, err := logger.NewWithSink(cfg.LogLevel, sink)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	fixer, err := app.New(cfg, log, app.WithLogSink(sink))
	if err != nil {
		return fmt.Errorf("failed to create fixer: %w", err)
	}

	// An interrupt ends the wait for the workers; the process exit ends them.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, no longer waiting for workers")
			cancel()
		case <-ctx.Done():
		}
	}()

	_, err = fixer.Run(ctx)

	if closeErr := fixer.Close(); closeErr != nil {
		log.Error("Error closing fixer", zap.Error(closeErr))
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
