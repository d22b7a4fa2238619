// Package main provides the contractd binary: the contract analysis API
// server and its maintenance commands.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ericksa/contractd/internal/config"
	"github.com/ericksa/contractd/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	Version = "0.1.0"
	appName = "contractd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Contract storage and analysis service",
		Long: `contractd stores contract texts per user, deduplicates them by content,
and has each new contract analyzed by the AI service in the background.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSetup(flags, serve)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSetup(flags, migrate)
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Release stale analysis claims once and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withSetup(flags, sweep)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

func loadConfig(flags globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func withSetup(flags globalFlags, run func(*config.Config, *zap.Logger) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	return run(cfg, logger)
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	jobs, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	a, err := newApp(context.Background(), jobs, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Analysis.SweepEnabled {
		if err := a.sweeper.Start(jobs, cfg.Analysis.SweepSchedule); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting contractd", zap.String("addr", cfg.Server.Addr), zap.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	a.sweeper.Stop()

	drained := make(chan struct{})
	go func() {
		a.dispatcher.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		logger.Warn("cancelling unfinished analysis jobs")
		cancelJobs()
		<-drained
	}
	logger.Info("server stopped")
	return nil
}

func migrate(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	a, err := newApp(ctx, ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()
	logger.Info("database schema up to date", zap.String("driver", cfg.Database.Driver))
	return nil
}

func sweep(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	a, err := newApp(ctx, ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.sweeper.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("released %d stale analysis claims\n", n)
	return nil
}
