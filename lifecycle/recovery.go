package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"pactflow/agreement"
)

// Outcome is what recovery did with one agreement.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeReverted   Outcome = "reverted"
	OutcomeReleased   Outcome = "released"
	OutcomeDropped    Outcome = "dropped"
	OutcomeWaiting    Outcome = "waiting"
	OutcomeResolved   Outcome = "resolved"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeSkipped    Outcome = "skipped"
)

// PendingIDs lists agreements whose marker outlived PendingTTL, plus those
// still waiting for an on-chain id.
func (o *Orchestrator) PendingIDs(ctx context.Context) ([]string, error) {
	records, err := o.repo.ListPending(ctx, o.now().Add(-o.cfg.PendingTTL), o.cfg.SweepLimit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, a := range records {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// RecoverAgreement settles one stale pending marker against the chain.
func (o *Orchestrator) RecoverAgreement(ctx context.Context, id string) (Outcome, error) {
	a, err := o.repo.Get(ctx, id)
	if errors.Is(err, agreement.ErrNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", err
	}
	return o.recoverOne(ctx, a)
}

// RecoverPending runs one sweep over every stale agreement and returns how
// many ended in each outcome.
func (o *Orchestrator) RecoverPending(ctx context.Context) (map[Outcome]int, error) {
	ids, err := o.PendingIDs(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		counts = make(map[Outcome]int)
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			out, err := o.RecoverAgreement(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				return nil
			}
			counts[out]++
			return nil
		})
	}
	_ = g.Wait()

	if len(counts) > 0 || len(errs) > 0 {
		o.log.WithFields(logrus.Fields{"inspected": len(ids), "outcomes": counts, "errors": len(errs)}).Info("pending sweep finished")
	}
	return counts, errors.Join(errs...)
}

func (o *Orchestrator) recoverOne(ctx context.Context, a agreement.Agreement) (Outcome, error) {
	out, err := o.settle(ctx, a)
	if err != nil {
		o.metrics.PendingRecovered("error")
		return "", err
	}
	if out != OutcomeSkipped {
		o.metrics.PendingRecovered(string(out))
		o.log.WithFields(logrus.Fields{"agreement_id": a.ID, "outcome": out}).Info("pending agreement recovered")
	}
	return out, nil
}

func (o *Orchestrator) settle(ctx context.Context, a agreement.Agreement) (Outcome, error) {
	if a.Pending == nil {
		if a.BlockchainID == agreement.UnresolvedID {
			return o.reresolve(ctx, a)
		}
		return OutcomeSkipped, nil
	}

	age := o.now().Sub(a.Pending.Since)
	if age < o.cfg.PendingTTL {
		return OutcomeSkipped, nil
	}
	if a.Pending.TxHash == "" {
		if err := o.release(ctx, a); err != nil {
			return "", err
		}
		return OutcomeReleased, nil
	}

	receipt, err := o.reader.Receipt(ctx, common.HexToHash(a.Pending.TxHash))
	switch {
	case errors.Is(err, ethereum.NotFound):
		if age < o.cfg.DropAfter {
			return OutcomeWaiting, nil
		}
		if err := o.release(ctx, a); err != nil {
			return "", err
		}
		return OutcomeDropped, nil
	case err != nil:
		return "", err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		if err := o.release(ctx, a); err != nil {
			return "", err
		}
		return OutcomeReverted, nil
	}

	if a.Pending.Action == agreement.ActionCreate {
		res, rerr := o.reconciler.FromReceipt(ctx, o.reader, a.Type, receipt)
		if _, err := o.commitCreate(ctx, a, receipt, res, rerr); err != nil && !errors.Is(err, agreement.ErrReconciliation) {
			return "", err
		}
		return OutcomeCommitted, nil
	}
	if _, err := o.commit(ctx, a, a.Pending.TxHash); err != nil {
		return "", err
	}
	return OutcomeCommitted, nil
}

// reresolve retries an agreement committed without an on-chain id from its
// creation receipt.
func (o *Orchestrator) reresolve(ctx context.Context, a agreement.Agreement) (Outcome, error) {
	if a.TxHash == "" {
		return OutcomeUnresolved, nil
	}
	receipt, err := o.reader.Receipt(ctx, common.HexToHash(a.TxHash))
	if errors.Is(err, ethereum.NotFound) {
		return OutcomeUnresolved, nil
	}
	if err != nil {
		return "", err
	}
	res, err := o.reconciler.FromReceipt(ctx, o.reader, a.Type, receipt)
	if err != nil {
		return OutcomeUnresolved, nil
	}

	next := a
	next.BlockchainID = res.ID
	if _, err := o.repo.Update(ctx, next, agreement.Change{
		ExpectedStatus:  a.Status,
		ExpectedVersion: a.Version,
		Event:           agreement.EventIDResolved,
		Topic:           agreement.OutboxTopicStatusChanged,
		Payload:         map[string]any{"agreement_id": a.ID, "blockchain_id": res.ID, "tier": res.Tier.String()},
	}); err != nil {
		return "", err
	}
	return OutcomeResolved, nil
}
