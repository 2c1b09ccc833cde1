// Package sweep runs pending-marker recovery, either as a Temporal cron
// workflow or as an in-process ticker when no Temporal frontend is configured.
package sweep

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	TaskQueue  = "PACTFLOW_SWEEP"
	WorkflowID = "pactflow-pending-sweep"

	ListActivity    = "ListPendingAgreements"
	RecoverActivity = "RecoverPendingAgreement"
)

// Summary is the result of one sweep.
type Summary struct {
	Inspected int            `json:"inspected"`
	Outcomes  map[string]int `json:"outcomes"`
	Failed    int            `json:"failed"`
}

// SweepPendingAgreements lists stale agreements and recovers each one in its
// own activity so a failing record never blocks the rest.
func SweepPendingAgreements(ctx workflow.Context) (Summary, error) {
	logger := workflow.GetLogger(ctx)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})

	var ids []string
	if err := workflow.ExecuteActivity(ctx, ListActivity).Get(ctx, &ids); err != nil {
		logger.Error("listing pending agreements failed", "error", err)
		return Summary{}, err
	}

	futures := make([]workflow.Future, 0, len(ids))
	for _, id := range ids {
		futures = append(futures, workflow.ExecuteActivity(ctx, RecoverActivity, id))
	}

	summary := Summary{Inspected: len(ids), Outcomes: make(map[string]int)}
	for i, f := range futures {
		var outcome string
		if err := f.Get(ctx, &outcome); err != nil {
			logger.Warn("recovery failed", "agreementID", ids[i], "error", err)
			summary.Failed++
			continue
		}
		summary.Outcomes[outcome]++
	}
	logger.Info("sweep finished", "inspected", summary.Inspected, "failed", summary.Failed)
	return summary, nil
}
