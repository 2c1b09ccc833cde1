package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"pactflow/app"
	"pactflow/auth"
	"pactflow/config"
	"pactflow/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.Build(ctx, cfg, log, reg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer a.Close()

	verifier, err := auth.NewService(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	// Records left pending by a previous process are settled before serving.
	runner := sweep.NewRunner(a.Orchestrator, cfg.SweepInterval, log)
	runner.Once(ctx)
	if cfg.TemporalHostPort == "" {
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("pending sweep stopped")
			}
		}()
	}

	server := &Server{
		agreementService: a.Orchestrator,
		disputeService:   a.Disputes,
		verifier:         verifier,
		idempotency:      a.Idempotency,
		gatherer:         reg,
		log:              log,
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
	}()

	log.WithField("addr", cfg.HTTPAddr).Info("api listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}
