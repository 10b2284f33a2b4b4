package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/replypost-io/replypost/internal/inbound/webhook"
	"github.com/replypost-io/replypost/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}

	parsers := webhook.NewRegistry(
		webhook.Mailgun{},
		webhook.Postmark{},
		webhook.Mandrill{URL: cfg.Webhooks.MandrillURL},
		webhook.SendGrid{},
	)
	srv := server.New(parsers, cfg.Webhooks.Secrets, a.pipeline,
		server.WithLogger(a.logger),
		server.WithMetricsRegistry(a.metrics),
	)

	httpServer := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Printf("listening on %s", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	a.logger.Println("server stopped")
	return nil
}
