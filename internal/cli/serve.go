package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tradehook/internal/broker"
	"tradehook/internal/marketdata"
	"tradehook/internal/scheduler"
	"tradehook/internal/trading"
)

// maxWebhookBodyBytes bounds the inbound payload size.
const maxWebhookBodyBytes = 64 * 1024

func newServeCmd(app *App) *cobra.Command {
	var currencyCode string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook listener and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), app, currencyCode)
		},
	}
	cmd.Flags().StringVar(&currencyCode, "currency", "GBP", "account currency for deal requests")
	return cmd
}

func runServe(ctx context.Context, app *App, currencyCode string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := app.Config
	logger := app.Logger

	gateways := broker.NewFactory(broker.Config{
		DemoBaseURL:       cfg.Broker.DemoBaseURL,
		LiveBaseURL:       cfg.Broker.LiveBaseURL,
		RequestsPerMinute: cfg.Broker.RequestsPerMinute,
		RequestTimeout:    cfg.Broker.RequestTimeout,
		ReadCacheTTL:      cfg.Broker.ReadCacheTTL,
	}, logger)
	defer gateways.Close()

	validator := trading.NewValidator(app.Store, app.Store, gateways, logger)
	executor := trading.NewExecutor(app.Store, app.Store, gateways, currencyCode, logger)
	pipeline := trading.NewPipeline(validator, executor, app.Store, app.Store, logger)

	jobs := scheduler.New(logger)
	jobs.Register(scheduler.NewReconciler(app.Store, app.Store, gateways, cfg.Scheduler.ReconcileInterval, cfg.Scheduler.Workers, logger))
	jobs.Register(scheduler.NewCleanup(app.Store, cfg.Scheduler.CleanupInterval, cfg.Scheduler.OrderRetention, logger))
	jobs.Register(scheduler.NewDividendRefresh(app.Store, app.Store, marketdata.NewYahooClient(logger), cfg.Scheduler.DividendInterval, logger))
	jobs.Start(ctx)
	defer jobs.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", webhookHandler(pipeline, logger))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("webhook listener started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// webhookHandler accepts a signal payload and runs it through the pipeline.
// The response is always 200 once the payload has been read: signal sources
// retry on errors, and a rejected or malformed alert must not be retried.
func webhookHandler(pipeline *trading.Pipeline, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		if err := pipeline.HandleBody(r.Context(), body); err != nil {
			logger.Error().Err(err).Msg("webhook processing failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
