package sweep

import (
	"context"

	"go.temporal.io/sdk/activity"

	"pactflow/lifecycle"
)

// Recoverer is the part of the orchestrator the sweep drives.
type Recoverer interface {
	PendingIDs(ctx context.Context) ([]string, error)
	RecoverAgreement(ctx context.Context, id string) (lifecycle.Outcome, error)
	RecoverPending(ctx context.Context) (map[lifecycle.Outcome]int, error)
}

type Activities struct {
	Recoverer Recoverer
}

func (a *Activities) ListPendingAgreements(ctx context.Context) ([]string, error) {
	return a.Recoverer.PendingIDs(ctx)
}

func (a *Activities) RecoverPendingAgreement(ctx context.Context, id string) (string, error) {
	activity.GetLogger(ctx).Debug("recovering agreement", "agreementID", id)
	out, err := a.Recoverer.RecoverAgreement(ctx, id)
	return string(out), err
}
