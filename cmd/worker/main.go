package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"pactflow/app"
	"pactflow/config"
	"pactflow/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := cfg.Logger()
	if cfg.TemporalHostPort == "" {
		log.Fatal("TEMPORAL_HOSTPORT is required for the sweep worker")
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer a.Close()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
		Logger:    sweep.NewLogger(log.WithField("component", "temporal")),
	})
	if err != nil {
		log.Fatalf("unable to create Temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, sweep.TaskQueue, worker.Options{})
	sweep.Register(w, a.Orchestrator)

	started, err := sweep.StartCron(ctx, c, cfg.SweepCron)
	if err != nil {
		log.Fatalf("schedule sweep: %v", err)
	}
	log.WithFields(logrus.Fields{"cron": cfg.SweepCron, "started": started}).Info("sweep schedule ready")

	log.WithField("task_queue", sweep.TaskQueue).Info("worker started")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker exited: %v", err)
	}
}
