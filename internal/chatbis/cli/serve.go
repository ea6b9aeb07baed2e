package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/BAMresearch/chatBIS/internal/chatbis/app"
	"github.com/BAMresearch/chatBIS/internal/chatbis/config"
	"github.com/BAMresearch/chatBIS/internal/chatbis/server"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  "Starts the chatBIS HTTP API and serves it until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides CHATBIS_HTTP_ADDR)")

	return cmd
}

func runServe(addrFlag string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	configureLogging(cfg)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			slog.Warn("sentry init failed; continuing without telemetry", "err", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			slog.Info("sentry telemetry ready")
		}
	}

	if addrFlag != "" {
		cfg.HTTPAddr = addrFlag
	}

	a, err := app.New(cfg, app.Deps{})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.New(a.Engine()).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("cli: serve: %w", err)
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("cli: shutdown: %w", err)
	}
	slog.Info("server exited")
	return nil
}
