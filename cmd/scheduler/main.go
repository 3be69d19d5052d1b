package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/go-lead-dialler/internal/app"
	"github.com/Guizzs26/go-lead-dialler/internal/broker"
	"github.com/Guizzs26/go-lead-dialler/internal/config"
	"github.com/Guizzs26/go-lead-dialler/internal/scheduler"
	"github.com/Guizzs26/go-lead-dialler/pkg/infra"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn("Configuration warning", "detail", w)
	}
	if err != nil {
		logger.Error("CRITICAL: invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("📞 Dialler scheduler initializing",
		"phase", cfg.Phase,
		"replica_driver", cfg.ReplicaDriver,
		"timezone", cfg.Location,
	)

	a, err := app.New(ctx, cfg, logger, app.Options{Broker: true})
	if err != nil {
		logger.Error("CRITICAL: startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Store.EnsureSchema(ctx); err != nil {
		logger.Error("CRITICAL: schema bootstrap failed", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(logger)
	a.Schedule(sched)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		return runObservabilityServer(gctx, cfg.MetricsPort, a, logger)
	})
	if cfg.RabbitMQURL != "" && cfg.Phase.GeneratesQueues() {
		g.Go(func() error {
			runCommandConsumer(gctx, cfg.RabbitMQURL, a, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Scheduler exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("✅ Shutdown complete")
}

// runCommandConsumer keeps a regeneration consumer attached to the broker until ctx ends
func runCommandConsumer(ctx context.Context, url string, a *app.App, logger *slog.Logger) {
	backoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for {
		consumer, err := broker.NewRabbitMQConsumer(url, a.Monitor, logger)
		if err != nil {
			logger.Error("RabbitMQ connection failed, retrying...", "attempt", backoff.Attempts()+1, "error", err)
			if backoff.Wait(ctx) != nil {
				return
			}
			continue
		}

		backoff.Reset()
		logger.Info("Connected to broker, listening for regeneration commands")

		if err := consumer.Listen(ctx); err != nil {
			logger.Error("⚠️ Consumer connection lost", "error", err)
		}
		consumer.Close()

		if ctx.Err() != nil {
			return
		}
	}
}

func runObservabilityServer(ctx context.Context, port string, a *app.App, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("SCORE STORE UNREACHABLE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("DIALLER ALIVE"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("📊 Observability server online", "url", "http://localhost:"+port+"/metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
