package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/spf13/cobra"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/delivery/command"
	delivery "github.com/egannguyen/go-kafka-ecommerce/settlement/internal/delivery/http"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/messaging/commands"
)

func serveCmd(load configLoader) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and command processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.addr")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	// --- Commands ---
	var sender delivery.CommandSender
	pub, sub, err := a.commandTransport()
	if err != nil {
		return err
	}
	if pub != nil {
		logger := watermill.NewSlogLogger(slog.Default())
		bus, err := commands.NewBus(pub, a.cfg.Kafka.CommandTopicPrefix, logger)
		if err != nil {
			return err
		}
		processor, err := commands.NewProcessor(sub, a.cfg.Kafka.CommandTopicPrefix, logger,
			command.NewIssueShippingInvoicesHandler(a.invoices))
		if err != nil {
			return err
		}
		sender = bus

		go func() {
			if err := processor.Run(ctx); err != nil {
				slog.Error("Command processor stopped", "err", err)
			}
		}()
	} else {
		slog.Warn("Kafka not configured, asynchronous issuance disabled")
	}

	// --- HTTP API ---
	limiter, err := a.webhookLimiter()
	if err != nil {
		return err
	}
	handler := delivery.NewHandler(a.invoices, a.reconciler, sender, limiter)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           delivery.EnableCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
