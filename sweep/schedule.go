package sweep

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Starter is the part of client.Client that schedules workflows.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Register adds the sweep workflow and its activities to w.
func Register(w worker.Registry, rec Recoverer) {
	w.RegisterWorkflow(SweepPendingAgreements)
	w.RegisterActivity(&Activities{Recoverer: rec})
}

// StartCron schedules the sweep under its fixed workflow id. A schedule that
// is already running is left in place.
func StartCron(ctx context.Context, c Starter, cron string) (started bool, err error) {
	_, err = c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       WorkflowID,
		TaskQueue:                                TaskQueue,
		CronSchedule:                             cron,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}, SweepPendingAgreements)
	var running *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &running) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sweep: start cron workflow: %w", err)
	}
	return true, nil
}
