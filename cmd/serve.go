package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
)

func newServeCmd() *cobra.Command {
	var startSession bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API that drives crawl sessions",
		Long: `Starts the HTTP API. Sessions are started and stopped through
/v1/session/start and /v1/session/stop; --start-session opens one at boot.
The server drains on SIGINT/SIGTERM and in-flight runs stop at their next
page boundary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, startSession)
		},
	}
	cmd.Flags().BoolVar(&startSession, "start-session", false, "open a crawl session as soon as the server starts")
	return cmd
}

func runServe(cmd *cobra.Command, startSession bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	server := api.NewServer(api.Deps{
		Session:    appInstance.Scheduler(),
		Records:    appInstance.Records(),
		Categories: appInstance.Categories(),
		Progress:   appInstance.Progress(),
		Runs:       appInstance.Runs(),
		Adapters:   appInstance.Adapters(),
		Ready:      appInstance.Ready,
	}, cfg, logger.Named("api"))

	port := cfg.Server.Port
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
		port = p
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	if startSession {
		if err := appInstance.Scheduler().Start(ctx); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
		close(errCh)
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
