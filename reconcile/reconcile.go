// Package reconcile recovers the on-chain id assigned to a newly created
// agreement: the pre-flight return value, then the creation event, then the
// contract counter.
package reconcile

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"pactflow/agreement"
	"pactflow/chain"
	"pactflow/wallet"
)

// Tier identifies which source produced an id.
type Tier int

const (
	TierNone Tier = iota
	TierPreflight
	TierEvent
	TierCount
)

func (t Tier) String() string {
	switch t {
	case TierPreflight:
		return "preflight"
	case TierEvent:
		return "event"
	case TierCount:
		return "count"
	default:
		return "unresolved"
	}
}

// Result is the resolved id, or agreement.UnresolvedID with TierNone.
type Result struct {
	ID   string
	Tier Tier
}

// Observer receives the tier of every resolution.
type Observer interface {
	ReconcileTier(tier string)
}

// Reconciler runs the three tiers against one adapter.
type Reconciler struct {
	adapter  *chain.Adapter
	log      logrus.FieldLogger
	observer Observer
}

// New builds a Reconciler. observer may be nil.
func New(adapter *chain.Adapter, log logrus.FieldLogger, observer Observer) *Reconciler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{adapter: adapter, log: log.WithField("component", "reconcile"), observer: observer}
}

// Preflight performs the read-only call of the create invocation and returns
// the prospective id, or nil when the call yields nothing usable.
func (r *Reconciler) Preflight(ctx context.Context, caller wallet.Caller, inv chain.Invocation) *big.Int {
	if !inv.ReturnsID {
		return nil
	}
	out, err := caller.Call(ctx, inv.Contract, inv.Data, nil)
	if err != nil {
		r.log.WithError(err).WithField("method", inv.Method).Debug("pre-flight call failed")
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	id, err := r.adapter.DecodeID(inv.Type, out)
	if err != nil {
		r.log.WithError(err).WithField("method", inv.Method).Debug("pre-flight return undecodable")
		return nil
	}
	return id
}

// Resolve picks the id for a confirmed creation. preflight and receipt may be
// nil. When every tier fails the result is agreement.UnresolvedID together
// with an error wrapping agreement.ErrReconciliation.
func (r *Reconciler) Resolve(ctx context.Context, caller wallet.Caller, t agreement.Type, preflight *big.Int, receipt *types.Receipt) (Result, error) {
	var event *big.Int
	if receipt != nil {
		id, err := r.adapter.CreatedID(t, receipt.Logs)
		if err != nil {
			r.log.WithError(err).WithField("tx", receipt.TxHash.Hex()).Debug("creation event not decoded")
		} else {
			event = id
		}
	}

	switch {
	case preflight != nil && event != nil && preflight.Cmp(event) != 0:
		r.log.WithFields(logrus.Fields{
			"type":      t,
			"preflight": preflight.String(),
			"event":     event.String(),
		}).Warn("pre-flight id disagrees with creation event, using event")
		return r.done(event, TierEvent), nil
	case preflight != nil:
		return r.done(preflight, TierPreflight), nil
	case event != nil:
		return r.done(event, TierEvent), nil
	}

	count, err := r.count(ctx, caller, t)
	if err == nil && count.Sign() > 0 {
		return r.done(new(big.Int).Sub(count, big.NewInt(1)), TierCount), nil
	}
	if err == nil {
		err = fmt.Errorf("counter is zero")
	}

	fields := logrus.Fields{"type": t}
	if receipt != nil {
		fields["tx"] = receipt.TxHash.Hex()
	}
	r.log.WithError(err).WithFields(fields).Error("blockchain id unresolved, flagged for reconciliation")
	if r.observer != nil {
		r.observer.ReconcileTier(TierNone.String())
	}
	return Result{ID: agreement.UnresolvedID, Tier: TierNone}, fmt.Errorf("%w: %v", agreement.ErrReconciliation, err)
}

// HistoricCaller reads contract state as of a given block.
type HistoricCaller interface {
	CallAt(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error)
}

// FromReceipt resolves a creation confirmed some time ago. The event is tried
// first. Failing that, the counter is read at the receipt's block and the one
// before it; the id is only taken when exactly one agreement was created in
// that block. The latest counter is never used because it drifts once later
// agreements are created.
func (r *Reconciler) FromReceipt(ctx context.Context, caller HistoricCaller, t agreement.Type, receipt *types.Receipt) (Result, error) {
	if receipt == nil {
		return Result{ID: agreement.UnresolvedID}, fmt.Errorf("%w: no receipt", agreement.ErrReconciliation)
	}
	id, err := r.adapter.CreatedID(t, receipt.Logs)
	if err == nil {
		return r.done(id, TierEvent), nil
	}

	count, cerr := r.countInBlock(ctx, caller, t, receipt.BlockNumber)
	if cerr == nil {
		return r.done(count, TierCount), nil
	}
	err = fmt.Errorf("%v; %v", err, cerr)

	r.log.WithError(err).WithField("tx", receipt.TxHash.Hex()).Warn("blockchain id still unresolved")
	if r.observer != nil {
		r.observer.ReconcileTier(TierNone.String())
	}
	return Result{ID: agreement.UnresolvedID}, fmt.Errorf("%w: %v", agreement.ErrReconciliation, err)
}

func (r *Reconciler) countInBlock(ctx context.Context, caller HistoricCaller, t agreement.Type, block *big.Int) (*big.Int, error) {
	if block == nil || block.Sign() <= 0 {
		return nil, fmt.Errorf("receipt has no block number")
	}
	inv, err := r.adapter.CountCall(t)
	if err != nil {
		return nil, err
	}
	read := func(at *big.Int) (*big.Int, error) {
		out, err := caller.CallAt(ctx, inv.Contract, inv.Data, at)
		if err != nil {
			return nil, err
		}
		return r.adapter.DecodeCount(t, out)
	}
	after, err := read(block)
	if err != nil {
		return nil, err
	}
	before, err := read(new(big.Int).Sub(block, big.NewInt(1)))
	if err != nil {
		return nil, err
	}
	if n := new(big.Int).Sub(after, before); n.Cmp(big.NewInt(1)) != 0 {
		return nil, fmt.Errorf("block %s created %s agreements", block, n)
	}
	return before, nil
}

func (r *Reconciler) count(ctx context.Context, caller wallet.Caller, t agreement.Type) (*big.Int, error) {
	inv, err := r.adapter.CountCall(t)
	if err != nil {
		return nil, err
	}
	out, err := caller.Call(ctx, inv.Contract, inv.Data, nil)
	if err != nil {
		return nil, err
	}
	return r.adapter.DecodeCount(t, out)
}

func (r *Reconciler) done(id *big.Int, tier Tier) Result {
	if r.observer != nil {
		r.observer.ReconcileTier(tier.String())
	}
	return Result{ID: id.String(), Tier: tier}
}
