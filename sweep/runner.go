package sweep

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Runner sweeps on a fixed interval inside the API process.
type Runner struct {
	rec      Recoverer
	interval time.Duration
	log      logrus.FieldLogger
}

func NewRunner(rec Recoverer, interval time.Duration, log logrus.FieldLogger) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{rec: rec, interval: interval, log: log.WithField("component", "sweep")}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Once(ctx)
		}
	}
}

// Once runs a single sweep and logs its outcome.
func (r *Runner) Once(ctx context.Context) {
	counts, err := r.rec.RecoverPending(ctx)
	if err != nil {
		r.log.WithError(err).Warn("pending sweep finished with errors")
	}
	if len(counts) > 0 {
		r.log.WithField("outcomes", counts).Debug("pending sweep")
	}
}
