// Package actors are the concurrent clients the stress test turns loose on a
// shared orchestrator.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"pactflow/agreement"
	"pactflow/lifecycle"
	"pactflow/wallet"
)

// Party is one side of an agreement as the actors see it.
type Party struct {
	ID      string
	Session *wallet.Session
}

func pause(ctx context.Context, stop <-chan struct{}, min, jitter int) bool {
	d := time.Duration(min+rand.Intn(jitter)) * time.Millisecond
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}

// expected reports errors that contention and injected faults produce.
// Validation and authorization failures mean the actor drove the API wrong.
func expected(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, agreement.ErrValidation) || errors.Is(err, agreement.ErrUnauthorized) {
		return false
	}
	return true
}

// Creator opens agreements of typ and walks each through accept and fund.
func Creator(ctx context.Context, o *lifecycle.Orchestrator, params func() agreement.CreateParams, creator, counterparty Party, stop <-chan struct{}) error {
	for pause(ctx, stop, 20, 40) {
		res, err := o.Create(ctx, creator.Session, params())
		if err != nil {
			if !expected(err) {
				return fmt.Errorf("creator create: %w", err)
			}
			continue
		}
		id := res.Agreement.ID
		if _, err := o.Accept(ctx, counterparty.Session, id); !expected(err) {
			return fmt.Errorf("creator accept %s: %w", id, err)
		}
		if _, err := o.Fund(ctx, creator.Session, id); !expected(err) {
			return fmt.Errorf("creator fund %s: %w", id, err)
		}
	}
	return nil
}

// Payer keeps paying whatever recurring agreement of payer is due. Several
// payers race on the same rows.
func Payer(ctx context.Context, o *lifecycle.Orchestrator, payer Party, stop <-chan struct{}) error {
	for pause(ctx, stop, 15, 30) {
		a, ok, err := pick(ctx, o, payer.ID, func(a agreement.Agreement) bool {
			return a.Status == agreement.StatusActive && a.CreatorID == payer.ID && a.Type != agreement.TypeSoftwareFreelancing
		})
		if err != nil || !ok {
			continue
		}
		if a.Type == agreement.TypeRental {
			_, err = o.PayRent(ctx, payer.Session, a.ID)
		} else {
			_, err = o.PaySubscription(ctx, payer.Session, a.ID)
		}
		if !expected(err) {
			return fmt.Errorf("payer %s on %s: %w", payer.ID, a.ID, err)
		}
	}
	return nil
}

// Finisher ends agreements: the counterparty completes, disputes or the
// subscriber cancels.
func Finisher(ctx context.Context, o *lifecycle.Orchestrator, creator, counterparty Party, stop <-chan struct{}) error {
	for pause(ctx, stop, 60, 90) {
		a, ok, err := pick(ctx, o, counterparty.ID, func(a agreement.Agreement) bool {
			return a.Status == agreement.StatusActive
		})
		if err != nil || !ok {
			continue
		}
		switch {
		case a.Type == agreement.TypeSubscription && rand.Intn(2) == 0:
			_, err = o.CancelSubscription(ctx, creator.Session, a.ID)
		case a.Type != agreement.TypeSubscription && rand.Intn(3) == 0:
			_, err = o.Dispute(ctx, counterparty.Session, a.ID, "work not delivered")
		default:
			_, err = o.Complete(ctx, counterparty.Session, a.ID)
		}
		if !expected(err) {
			return fmt.Errorf("finisher on %s: %w", a.ID, err)
		}
	}
	return nil
}

// Sweeper runs recovery the way the scheduled sweep does.
func Sweeper(ctx context.Context, o *lifecycle.Orchestrator, stop <-chan struct{}) error {
	for pause(ctx, stop, 200, 200) {
		// Terminated backends surface as errors; the next pass retries.
		_, _ = o.RecoverPending(ctx)
	}
	return nil
}

// Reader pages through a party's agreements and timelines.
func Reader(ctx context.Context, o *lifecycle.Orchestrator, partyID string, stop <-chan struct{}) error {
	for pause(ctx, stop, 30, 50) {
		list, _, err := o.List(ctx, agreement.ListFilters{PartyID: partyID, Page: 1 + rand.Intn(3), PageSize: 10})
		if err != nil {
			continue
		}
		for _, a := range list {
			if _, err := o.Timeline(ctx, a.ID); err != nil && !expected(err) {
				return fmt.Errorf("reader timeline %s: %w", a.ID, err)
			}
		}
	}
	return nil
}

func pick(ctx context.Context, o *lifecycle.Orchestrator, partyID string, keep func(agreement.Agreement) bool) (agreement.Agreement, bool, error) {
	list, _, err := o.List(ctx, agreement.ListFilters{PartyID: partyID, PageSize: 50})
	if err != nil {
		return agreement.Agreement{}, false, err
	}
	var due []agreement.Agreement
	for _, a := range list {
		if keep(a) {
			due = append(due, a)
		}
	}
	if len(due) == 0 {
		return agreement.Agreement{}, false, nil
	}
	return due[rand.Intn(len(due))], true, nil
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, failing one in ten.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for pause(ctx, stop, 100, 1) {
		tx, err := pool.Begin(ctx)
		if err != nil {
			continue
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			if rows.Scan(&id) == nil {
				ids = append(ids, id)
			}
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
	}
	return nil
}
