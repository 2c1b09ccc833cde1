package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pactflow/agreement"
	"pactflow/chain"
	"pactflow/units"
	"pactflow/wallet"
)

const maxDisputeReason = 1000

// step binds an agreement action to its contract call and its effect on the
// record. chainAction is empty for off-chain steps.
type step struct {
	chainAction chain.Action
	guard       func(a agreement.Agreement, now time.Time) error
	apply       func(a *agreement.Agreement, txHash string, at time.Time) error
	event       string
	topic       string
}

var steps = map[agreement.Action]step{
	agreement.ActionAccept: {
		apply: func(*agreement.Agreement, string, time.Time) error { return nil },
	},
	agreement.ActionFund: {
		chainAction: chain.ActionActivate,
		apply: func(a *agreement.Agreement, txHash string, at time.Time) error {
			a.FundTxHash = txHash
			a.FundedAt = &at
			return nil
		},
	},
	agreement.ActionComplete: {
		chainAction: chain.ActionSettle,
		guard: func(a agreement.Agreement, now time.Time) error {
			if a.Type == agreement.TypeRental && now.Before(a.DueDate) {
				return fmt.Errorf("%w: rental cannot complete before %s", agreement.ErrStateConflict, a.DueDate.Format(time.RFC3339))
			}
			return nil
		},
		apply: func(a *agreement.Agreement, txHash string, at time.Time) error {
			a.CompletionTxHash = txHash
			a.CompletedAt = &at
			return nil
		},
	},
	agreement.ActionPayRent: {
		chainAction: chain.ActionPayInstallment,
		guard: func(a agreement.Agreement, now time.Time) error {
			if now.Before(a.StartDate) || now.After(a.DueDate) {
				return fmt.Errorf("%w: rent is payable between %s and %s", agreement.ErrStateConflict,
					a.StartDate.Format(time.RFC3339), a.DueDate.Format(time.RFC3339))
			}
			return nil
		},
		apply: recordPayment,
		event: agreement.EventPaymentRecorded,
		topic: agreement.OutboxTopicPaymentRecorded,
	},
	agreement.ActionPaySubscription: {
		chainAction: chain.ActionPayInstallment,
		guard: func(a agreement.Agreement, now time.Time) error {
			if a.NextBillingDate != nil && now.Before(*a.NextBillingDate) {
				return fmt.Errorf("%w: next payment is due %s", agreement.ErrStateConflict, a.NextBillingDate.Format(time.RFC3339))
			}
			return nil
		},
		apply: func(a *agreement.Agreement, txHash string, at time.Time) error {
			if err := recordPayment(a, txHash, at); err != nil {
				return err
			}
			base := a.StartDate
			if a.NextBillingDate != nil {
				base = *a.NextBillingDate
			}
			next := base.Add(time.Duration(a.BillingInterval) * time.Second)
			a.NextBillingDate = &next
			return nil
		},
		event: agreement.EventPaymentRecorded,
		topic: agreement.OutboxTopicPaymentRecorded,
	},
	agreement.ActionCancelSubscription: {
		chainAction: chain.ActionTerminate,
		apply: func(a *agreement.Agreement, txHash string, at time.Time) error {
			a.CancelTxHash = txHash
			a.CancelledAt = &at
			return nil
		},
	},
	agreement.ActionDispute: {
		chainAction: chain.ActionTerminate,
		apply: func(a *agreement.Agreement, txHash string, at time.Time) error {
			a.DisputeTxHash = txHash
			a.DisputedAt = &at
			return nil
		},
	},
}

func recordPayment(a *agreement.Agreement, txHash string, at time.Time) error {
	total, err := units.Add(a.TotalPaid, a.Amount)
	if err != nil {
		return fmt.Errorf("agreement: total paid: %w", err)
	}
	a.Payments = append(a.Payments, agreement.Payment{
		Seq:    a.NextPaymentSeq(),
		Amount: a.Amount,
		TxHash: txHash,
		PaidAt: at,
	})
	a.TotalPaid = total
	return nil
}

func (s step) eventAndTopic() (string, string) {
	if s.event != "" {
		return s.event, s.topic
	}
	return agreement.EventStatusChanged, agreement.OutboxTopicStatusChanged
}

// Accept records the counterparty's acceptance. No transaction is sent.
func (o *Orchestrator) Accept(ctx context.Context, sess *wallet.Session, id string) (TxResult, error) {
	return o.run(ctx, sess, id, agreement.ActionAccept, nil)
}

// Fund escrows the agreement amount, or the deposit for rentals, and activates it.
func (o *Orchestrator) Fund(ctx context.Context, sess *wallet.Session, id string) (TxResult, error) {
	return o.run(ctx, sess, id, agreement.ActionFund, nil)
}

func (o *Orchestrator) Complete(ctx context.Context, sess *wallet.Session, id string) (TxResult, error) {
	return o.run(ctx, sess, id, agreement.ActionComplete, nil)
}

func (o *Orchestrator) PayRent(ctx context.Context, sess *wallet.Session, id string) (TxResult, error) {
	return o.run(ctx, sess, id, agreement.ActionPayRent, nil)
}

func (o *Orchestrator) PaySubscription(ctx context.Context, sess *wallet.Session, id string) (TxResult, error) {
	return o.run(ctx, sess, id, agreement.ActionPaySubscription, nil)
}

// CancelSubscription also checks the on-chain record before sending, so a
// subscription already ended on chain is reported as a conflict.
func (o *Orchestrator) CancelSubscription(ctx context.Context, sess *wallet.Session, id string) (TxResult, error) {
	return o.run(ctx, sess, id, agreement.ActionCancelSubscription, nil)
}

// Dispute raises a dispute and records reason alongside it.
func (o *Orchestrator) Dispute(ctx context.Context, sess *wallet.Session, id, reason string) (TxResult, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxDisputeReason {
		return TxResult{}, fmt.Errorf("%w: reason longer than %d characters", agreement.ErrValidation, maxDisputeReason)
	}
	var payload map[string]string
	if reason != "" {
		payload = map[string]string{"reason": reason}
	}
	return o.run(ctx, sess, id, agreement.ActionDispute, payload)
}

func (o *Orchestrator) run(ctx context.Context, sess *wallet.Session, id string, action agreement.Action, payload map[string]string) (TxResult, error) {
	res, err := o.transition(ctx, sess, id, action, payload)
	o.metrics.TransitionApplied(string(action), outcome(err))
	return res, err
}

func (o *Orchestrator) transition(ctx context.Context, sess *wallet.Session, id string, action agreement.Action, payload map[string]string) (TxResult, error) {
	if sess == nil || sess.UserID == "" {
		return TxResult{}, wallet.ErrSessionExpired
	}
	rule, err := agreement.RuleFor(action)
	if err != nil {
		return TxResult{}, err
	}
	st := steps[action]

	var (
		signer *wallet.Signer
		marked agreement.Agreement
		inv    chain.Invocation
		value  *big.Int
	)
	for attempt := 1; ; attempt++ {
		a, err := o.repo.Get(ctx, id)
		if err != nil {
			return TxResult{}, err
		}
		if err := o.check(a, rule, st, sess.UserID); err != nil {
			return TxResult{}, err
		}

		if st.chainAction == "" {
			saved, err := o.applyOffChain(ctx, a, rule, st, sess.UserID)
			if errors.Is(err, agreement.ErrConcurrentUpdate) && attempt < o.cfg.MaxAttempts {
				continue
			}
			if err != nil {
				return TxResult{}, err
			}
			return TxResult{Agreement: saved}, nil
		}

		if signer == nil {
			if signer, err = o.wallets.Resolve(ctx, sess); err != nil {
				return TxResult{}, err
			}
		}
		onChainID, _ := new(big.Int).SetString(a.BlockchainID, 10)
		if inv, err = o.adapter.Invoke(a.Type, st.chainAction, onChainID); err != nil {
			return TxResult{}, err
		}
		if value, err = o.prepare(ctx, signer, a, action, inv, onChainID); err != nil {
			return TxResult{}, err
		}

		marked, err = o.markPending(ctx, a, action, sess.UserID, payload)
		if errors.Is(err, agreement.ErrConcurrentUpdate) && attempt < o.cfg.MaxAttempts {
			continue
		}
		if err != nil {
			return TxResult{}, err
		}
		break
	}

	receipt, marked, err := o.broadcast(ctx, signer, marked, inv, value)
	if err != nil {
		return TxResult{Agreement: marked, TxHash: pendingHash(marked)}, err
	}
	txHash := receipt.TxHash.Hex()
	saved, err := o.commit(context.WithoutCancel(ctx), marked, txHash)
	if err != nil {
		return TxResult{Agreement: marked, TxHash: txHash}, err
	}
	return TxResult{Agreement: saved, TxHash: txHash}, nil
}

// check runs the rule guards, the action's own guard, and requires a resolved
// on-chain id for chain-backed steps.
func (o *Orchestrator) check(a agreement.Agreement, rule agreement.Rule, st step, actorID string) error {
	if err := rule.Check(a, actorID); err != nil {
		return err
	}
	if st.guard != nil {
		if err := st.guard(a, o.now()); err != nil {
			return err
		}
	}
	if st.chainAction != "" && !a.IdentifierResolved() {
		return fmt.Errorf("%w: blockchain id is not resolved", agreement.ErrStateConflict)
	}
	return nil
}

func (o *Orchestrator) applyOffChain(ctx context.Context, a agreement.Agreement, rule agreement.Rule, st step, actorID string) (agreement.Agreement, error) {
	next := a
	next.Status = rule.To
	if err := st.apply(&next, "", o.now()); err != nil {
		return agreement.Agreement{}, err
	}
	event, topic := st.eventAndTopic()
	return o.repo.Update(ctx, next, agreement.Change{
		ExpectedStatus:  a.Status,
		ExpectedVersion: a.Version,
		ActorID:         actorID,
		Event:           event,
		Topic:           topic,
		Payload:         map[string]any{"agreement_id": a.ID, "action": rule.Action},
	})
}

// prepare reads the on-chain terms where the call needs them and returns the
// value to attach.
func (o *Orchestrator) prepare(ctx context.Context, caller wallet.Caller, a agreement.Agreement, action agreement.Action, inv chain.Invocation, id *big.Int) (*big.Int, error) {
	cancel := action == agreement.ActionCancelSubscription
	if !inv.Payable && !cancel {
		return nil, nil
	}

	terms, err := o.readTerms(ctx, caller, a.Type, id)
	if err != nil {
		if cancel {
			return nil, err
		}
		o.log.WithError(err).WithField("agreement_id", a.ID).Warn("on-chain terms unavailable, using stored terms")
	}

	if cancel {
		if terms.Status != chain.OnChainActive {
			return nil, fmt.Errorf("%w: subscription is not active on chain", agreement.ErrStateConflict)
		}
		if signer, ok := caller.(*wallet.Signer); ok && terms.Payer != signer.Address() {
			return nil, fmt.Errorf("%w: only the subscriber can cancel", agreement.ErrUnauthorized)
		}
		return nil, nil
	}

	if err == nil {
		if v := terms.Value(inv.Value); v != nil && v.Sign() > 0 {
			return v, nil
		}
	}
	return storedValue(a, inv.Value)
}

func (o *Orchestrator) readTerms(ctx context.Context, caller wallet.Caller, t agreement.Type, id *big.Int) (chain.Terms, error) {
	inv, err := o.adapter.TermsCall(t, id)
	if err != nil {
		return chain.Terms{}, err
	}
	out, err := caller.Call(ctx, inv.Contract, inv.Data, nil)
	if err != nil {
		return chain.Terms{}, err
	}
	return o.adapter.DecodeTerms(t, out)
}

func storedValue(a agreement.Agreement, src chain.ValueSource) (*big.Int, error) {
	switch src {
	case chain.ValueDeposit:
		return units.ToWei(a.SecurityDeposit)
	case chain.ValueAmount:
		return units.ToWei(a.Amount)
	default:
		return nil, nil
	}
}

// commit applies the confirmed action and clears the pending marker.
func (o *Orchestrator) commit(ctx context.Context, marked agreement.Agreement, txHash string) (agreement.Agreement, error) {
	pending := marked.Pending
	rule, err := agreement.RuleFor(pending.Action)
	if err != nil {
		return agreement.Agreement{}, err
	}
	st := steps[pending.Action]
	at := o.now()

	next := marked
	next.Pending = nil
	next.Status = rule.To
	if err := st.apply(&next, txHash, at); err != nil {
		return agreement.Agreement{}, err
	}

	payload := map[string]any{
		"agreement_id":  next.ID,
		"action":        pending.Action,
		"tx_hash":       txHash,
		"blockchain_id": next.BlockchainID,
	}
	if n := len(next.Payments); n > len(marked.Payments) {
		payload["seq"] = next.Payments[n-1].Seq
		payload["amount"] = next.Payments[n-1].Amount
		payload["total_paid"] = next.TotalPaid
	}
	if reason := pending.Payload["reason"]; reason != "" {
		payload["reason"] = reason
	}
	event, topic := st.eventAndTopic()

	saved, err := o.repo.Update(ctx, next, agreement.Change{
		ExpectedStatus:  marked.Status,
		ExpectedVersion: marked.Version,
		ActorID:         pending.ActorID,
		Event:           event,
		Topic:           topic,
		Payload:         payload,
	})
	log := o.log.WithFields(logrus.Fields{"agreement_id": marked.ID, "action": pending.Action, "tx": txHash})
	if err != nil {
		log.WithError(err).Error("confirmed transaction not persisted, left for recovery")
		return agreement.Agreement{}, err
	}
	log.WithField("status", saved.Status).Info("agreement transition committed")

	if pending.Action == agreement.ActionDispute && o.disputes != nil {
		if _, err := o.disputes.Open(ctx, saved.ID, pending.ActorID, pending.Payload["reason"], txHash); err != nil {
			log.WithError(err).Warn("dispute record not stored")
		}
	}
	return saved, nil
}

func pendingHash(a agreement.Agreement) string {
	if a.Pending == nil {
		return ""
	}
	return a.Pending.TxHash
}
