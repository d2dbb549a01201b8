package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hiennguyen9874/api-base-project/internal/lock"
	"github.com/hiennguyen9874/api-base-project/internal/server"
)

const (
	shutdownTimeout = 10 * time.Second
)

var releaseLocks bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Starts the HTTP server. On SIGINT or SIGTERM the server drains in-flight
requests, writes the policy back to the database under the save-policy lock,
and closes every connection.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := env.Logger
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if releaseLocks {
			if _, err := env.ReleaseLocks(ctx); err != nil {
				return fmt.Errorf("release locks: %w", err)
			}
		}

		a, err := env.OpenApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(context.Background()); err != nil {
				logger.Error("close application", "error", err)
			}
		}()

		if err := a.Policy.Reload(ctx); err != nil {
			return fmt.Errorf("load policy: %w", err)
		}

		srv := &http.Server{
			Addr:         env.Config.ServerAddr,
			Handler:      server.NewRouter(server.RouterOptions{App: a}),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server", "addr", env.Config.ServerAddr)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
			logger.Info("shutdown signal received, shutting down gracefully")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			logger.Error("graceful shutdown failed", "error", err)
		}

		saveCtx, cancelSave := context.WithTimeout(context.Background(), env.Config.Lock.SavePolicyAcquire+env.Config.Lock.SavePolicyHold)
		defer cancelSave()
		if err := a.Policy.SavePolicyLocked(saveCtx); err != nil {
			if errors.Is(err, lock.ErrDenied) {
				logger.Warn("policy save skipped, another process holds the save lock", "error", err)
			} else {
				logger.Error("policy save failed", "error", err)
			}
		}

		logger.Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&releaseLocks, "release-locks", false, "Release every distributed lock before starting (cold start only)")
	rootCmd.AddCommand(serveCmd)
}
