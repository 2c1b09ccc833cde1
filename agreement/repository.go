package agreement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists agreements. Every mutation after Insert is a
// compare-and-swap on the expected status and version.
type Repository interface {
	// Insert stores a creation draft; it must carry a pending create marker.
	Insert(ctx context.Context, a Agreement) error
	Get(ctx context.Context, id string) (Agreement, error)
	List(ctx context.Context, filters ListFilters) ([]Agreement, int, error)
	// ListPending returns records whose pending marker was set before the cutoff,
	// plus records whose blockchain id is unresolved.
	ListPending(ctx context.Context, before time.Time, limit int) ([]Agreement, error)
	Update(ctx context.Context, next Agreement, change Change) (Agreement, error)
	// Discard removes a creation draft that never produced an on-chain agreement.
	Discard(ctx context.Context, id string) error
	Timeline(ctx context.Context, id string) ([]TimelineEvent, error)
}

// Change describes the guard and side records of one Update.
type Change struct {
	ExpectedStatus  Status
	ExpectedVersion int
	ActorID         string
	// Event is the timeline event type; empty writes no timeline or outbox rows.
	Event   string
	Topic   string
	Payload map[string]any
}

// Pool abstracts pgxpool.Pool for testability.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGRepository is the PostgreSQL Repository.
type PGRepository struct {
	pool Pool
}

func NewPGRepository(pool Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const agreementColumns = `
    id::text, blockchain_id, type, title, terms,
    creator_id, counterparty_id, counterparty_address,
    amount, start_date, due_date,
    deliverables, milestones, property_address, security_deposit,
    subscription_details, billing_interval, next_billing_date, total_paid,
    status, tx_hash, fund_tx_hash, completion_tx_hash, cancel_tx_hash, dispute_tx_hash,
    created_at, updated_at, funded_at, completed_at, cancelled_at, disputed_at,
    pending_action, pending_tx_hash, pending_actor, pending_since, pending_payload,
    version`

func (r *PGRepository) Insert(ctx context.Context, a Agreement) error {
	if a.Pending == nil || a.Pending.Action != ActionCreate {
		return fmt.Errorf("agreement: insert requires a pending create marker")
	}
	payload, err := json.Marshal(a.Pending.Payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal pending payload: %w", err)
	}

	const insertSQL = `
INSERT INTO agreements (
    id, type, title, terms, creator_id, counterparty_id, counterparty_address,
    amount, start_date, due_date, deliverables, milestones, property_address, security_deposit,
    subscription_details, billing_interval, next_billing_date, total_paid, status,
    created_at, updated_at, pending_action, pending_actor, pending_since, pending_payload, version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$20,$21,$22,$23,$24,0)
`
	_, err = r.pool.Exec(ctx, insertSQL,
		a.ID, string(a.Type), a.Title, a.Terms, a.CreatorID, a.CounterpartyID, a.CounterpartyAddress,
		a.Amount, a.StartDate, a.DueDate,
		nullable(a.Deliverables), nullable(a.Milestones), nullable(a.PropertyAddress), nullable(a.SecurityDeposit),
		nullable(a.SubscriptionDetails), nullableInt(a.BillingInterval), a.NextBillingDate, nullable(a.TotalPaid),
		string(a.Status), a.CreatedAt,
		string(a.Pending.Action), a.Pending.ActorID, a.Pending.Since, payload,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: agreement %s already exists", ErrConcurrentUpdate, a.ID)
		}
		return fmt.Errorf("agreement: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Agreement, error) {
	if !validID(id) {
		return Agreement{}, ErrNotFound
	}
	a, err := scanAgreement(r.pool.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1::uuid`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get: %w", err)
	}
	if err := r.attachPayments(ctx, []*Agreement{&a}); err != nil {
		return Agreement{}, err
	}
	return a, nil
}

func (r *PGRepository) List(ctx context.Context, filters ListFilters) ([]Agreement, int, error) {
	filters = filters.normalized()

	query := `SELECT ` + agreementColumns + `
        FROM agreements
        WHERE creator_id = $1 OR counterparty_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`

	out, err := r.queryAgreements(ctx, query, filters.PartyID, filters.PageSize, (filters.Page-1)*filters.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("agreement: list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agreements WHERE creator_id = $1 OR counterparty_id = $1`, filters.PartyID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("agreement: count: %w", err)
	}
	return out, total, nil
}

func (r *PGRepository) ListPending(ctx context.Context, before time.Time, limit int) ([]Agreement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + agreementColumns + `
        FROM agreements
        WHERE (pending_action IS NOT NULL AND pending_since < $1)
           OR (pending_action IS NULL AND blockchain_id = 'unknown')
        ORDER BY COALESCE(pending_since, updated_at) ASC
        LIMIT $2`
	out, err := r.queryAgreements(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("agreement: list pending: %w", err)
	}
	return out, nil
}

func (r *PGRepository) queryAgreements(ctx context.Context, query string, args ...any) ([]Agreement, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []Agreement{}
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*Agreement, len(records))
	for i := range records {
		ptrs[i] = &records[i]
	}
	if err := r.attachPayments(ctx, ptrs); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *PGRepository) attachPayments(ctx context.Context, records []*Agreement) error {
	if len(records) == 0 {
		return nil
	}
	byID := make(map[string]*Agreement, len(records))
	ids := make([]string, 0, len(records))
	for _, a := range records {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}

	rows, err := r.pool.Query(ctx, `
        SELECT agreement_id::text, seq, amount, tx_hash, paid_at
        FROM agreement_payments
        WHERE agreement_id = ANY($1::uuid[])
        ORDER BY agreement_id, seq`, ids)
	if err != nil {
		return fmt.Errorf("agreement: load payments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			agreementID string
			p           Payment
		)
		if err := rows.Scan(&agreementID, &p.Seq, &p.Amount, &p.TxHash, &p.PaidAt); err != nil {
			return fmt.Errorf("agreement: scan payment: %w", err)
		}
		if a, ok := byID[agreementID]; ok {
			a.Payments = append(a.Payments, p)
		}
	}
	return rows.Err()
}

// Update applies next when the stored row still matches change's expected
// status and version. New payments, the timeline event and the outbox message
// are written in the same transaction.
func (r *PGRepository) Update(ctx context.Context, next Agreement, change Change) (Agreement, error) {
	if !validID(next.ID) {
		return Agreement{}, ErrNotFound
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		currentRaw   string
		version      int
		blockchainID *string
		paymentCount int
	)
	err = tx.QueryRow(ctx, `
        SELECT status, version, blockchain_id,
               (SELECT COUNT(*) FROM agreement_payments p WHERE p.agreement_id = a.id)
        FROM agreements a WHERE id = $1::uuid FOR UPDATE`, next.ID).
		Scan(&currentRaw, &version, &blockchainID, &paymentCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, ErrNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: fetch current status: %w", err)
	}
	current := Status(currentRaw)
	if err := checkSwap(current, version, deref(blockchainID), next, change); err != nil {
		return Agreement{}, err
	}
	if len(next.Payments) < paymentCount {
		return Agreement{}, fmt.Errorf("%w: payments are append-only", ErrStateConflict)
	}

	var pendingPayload []byte
	var pendingAction, pendingTx, pendingActor *string
	var pendingSince *time.Time
	if next.Pending != nil {
		pendingPayload, err = json.Marshal(next.Pending.Payload)
		if err != nil {
			return Agreement{}, fmt.Errorf("agreement: marshal pending payload: %w", err)
		}
		action := string(next.Pending.Action)
		pendingAction = &action
		pendingTx = nullable(next.Pending.TxHash)
		pendingActor = nullable(next.Pending.ActorID)
		since := next.Pending.Since
		pendingSince = &since
	}

	var updatedAt time.Time
	err = tx.QueryRow(ctx, `
        UPDATE agreements SET
            blockchain_id = $2, status = $3, next_billing_date = $4, total_paid = $5,
            tx_hash = $6, fund_tx_hash = $7, completion_tx_hash = $8, cancel_tx_hash = $9, dispute_tx_hash = $10,
            funded_at = $11, completed_at = $12, cancelled_at = $13, disputed_at = $14,
            pending_action = $15, pending_tx_hash = $16, pending_actor = $17, pending_since = $18, pending_payload = $19,
            counterparty_address = $20,
            version = version + 1,
            updated_at = now()
        WHERE id = $1::uuid
        RETURNING updated_at`,
		next.ID, nullable(next.BlockchainID), string(next.Status), next.NextBillingDate, nullable(next.TotalPaid),
		nullable(next.TxHash), nullable(next.FundTxHash), nullable(next.CompletionTxHash), nullable(next.CancelTxHash), nullable(next.DisputeTxHash),
		next.FundedAt, next.CompletedAt, next.CancelledAt, next.DisputedAt,
		pendingAction, pendingTx, pendingActor, pendingSince, pendingPayload,
		next.CounterpartyAddress,
	).Scan(&updatedAt)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: update: %w", err)
	}

	for _, p := range next.Payments[paymentCount:] {
		if _, err := tx.Exec(ctx, `
            INSERT INTO agreement_payments (agreement_id, seq, amount, tx_hash, paid_at)
            VALUES ($1::uuid, $2, $3, $4, $5)`, next.ID, p.Seq, p.Amount, p.TxHash, p.PaidAt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return Agreement{}, fmt.Errorf("%w: payment %d already recorded", ErrConcurrentUpdate, p.Seq)
			}
			return Agreement{}, fmt.Errorf("agreement: insert payment: %w", err)
		}
	}

	if change.Event != "" {
		if err := appendTimelineEvent(ctx, tx, next.ID, change, current, next.Status); err != nil {
			return Agreement{}, err
		}
		if err := enqueueOutbox(ctx, tx, next.ID, change, current, next.Status); err != nil {
			return Agreement{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit update: %w", err)
	}

	next.Version = version + 1
	next.UpdatedAt = updatedAt
	return next, nil
}

func (r *PGRepository) Discard(ctx context.Context, id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: %s is not a discardable draft", ErrStateConflict, id)
	}
	tag, err := r.pool.Exec(ctx, `
        DELETE FROM agreements
        WHERE id = $1::uuid AND pending_action = 'create'
          AND (blockchain_id IS NULL OR blockchain_id = '')`, id)
	if err != nil {
		return fmt.Errorf("agreement: discard draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is not a discardable draft", ErrStateConflict, id)
	}
	return nil
}

func (r *PGRepository) Timeline(ctx context.Context, id string) ([]TimelineEvent, error) {
	if !validID(id) {
		return []TimelineEvent{}, nil
	}
	rows, err := r.pool.Query(ctx, `
        SELECT id, agreement_id::text, seq, type, actor_id, created_at, payload
        FROM timeline_events
        WHERE agreement_id = $1::uuid
        ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("agreement: timeline: %w", err)
	}
	defer rows.Close()

	events := []TimelineEvent{}
	for rows.Next() {
		var ev TimelineEvent
		if err := rows.Scan(&ev.ID, &ev.AgreementID, &ev.Seq, &ev.Type, &ev.ActorID, &ev.CreatedAt, &ev.Payload); err != nil {
			return nil, fmt.Errorf("agreement: scan timeline: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agreement: iterate timeline: %w", err)
	}
	return events, nil
}

// validID reports whether id can name a stored row. Ids are uuids; anything
// else cannot match and would fail the cast in Postgres.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// checkSwap enforces the compare-and-swap guard shared by every Repository.
func checkSwap(current Status, version int, storedID string, next Agreement, change Change) error {
	if current != change.ExpectedStatus || version != change.ExpectedVersion {
		return fmt.Errorf("%w: expected %s@%d, found %s@%d", ErrConcurrentUpdate, change.ExpectedStatus, change.ExpectedVersion, current, version)
	}
	if current != next.Status && !ValidTransition(current, next.Status) {
		return fmt.Errorf("%w: invalid transition %s -> %s", ErrStateConflict, current, next.Status)
	}
	if storedID != "" && storedID != UnresolvedID && storedID != next.BlockchainID {
		return fmt.Errorf("%w: blockchain id %s is immutable", ErrStateConflict, storedID)
	}
	for i, p := range next.Payments {
		if p.Seq != i+1 {
			return fmt.Errorf("%w: payment sequence gap at %d", ErrStateConflict, p.Seq)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgreement(row rowScanner) (Agreement, error) {
	var (
		a                                                    Agreement
		typ, status                                          string
		blockchainID, deliverables, milestones               *string
		propertyAddress, securityDeposit, subscriptionDetail *string
		totalPaid, txHash, fundTx, completionTx, cancelTx    *string
		disputeTx                                            *string
		billingInterval                                      *int64
		pendingAction, pendingTx, pendingActor               *string
		pendingSince                                         *time.Time
		pendingPayload                                       []byte
	)
	err := row.Scan(
		&a.ID, &blockchainID, &typ, &a.Title, &a.Terms,
		&a.CreatorID, &a.CounterpartyID, &a.CounterpartyAddress,
		&a.Amount, &a.StartDate, &a.DueDate,
		&deliverables, &milestones, &propertyAddress, &securityDeposit,
		&subscriptionDetail, &billingInterval, &a.NextBillingDate, &totalPaid,
		&status, &txHash, &fundTx, &completionTx, &cancelTx, &disputeTx,
		&a.CreatedAt, &a.UpdatedAt, &a.FundedAt, &a.CompletedAt, &a.CancelledAt, &a.DisputedAt,
		&pendingAction, &pendingTx, &pendingActor, &pendingSince, &pendingPayload,
		&a.Version,
	)
	if err != nil {
		return Agreement{}, err
	}

	a.Type = Type(typ)
	a.Status = Status(status)
	a.BlockchainID = deref(blockchainID)
	a.Deliverables = deref(deliverables)
	a.Milestones = deref(milestones)
	a.PropertyAddress = deref(propertyAddress)
	a.SecurityDeposit = deref(securityDeposit)
	a.SubscriptionDetails = deref(subscriptionDetail)
	a.TotalPaid = deref(totalPaid)
	a.TxHash = deref(txHash)
	a.FundTxHash = deref(fundTx)
	a.CompletionTxHash = deref(completionTx)
	a.CancelTxHash = deref(cancelTx)
	a.DisputeTxHash = deref(disputeTx)
	if billingInterval != nil {
		a.BillingInterval = *billingInterval
	}

	if pendingAction != nil {
		p := &Pending{
			Action:  Action(*pendingAction),
			TxHash:  deref(pendingTx),
			ActorID: deref(pendingActor),
		}
		if pendingSince != nil {
			p.Since = *pendingSince
		}
		if len(pendingPayload) > 0 {
			if err := json.Unmarshal(pendingPayload, &p.Payload); err != nil {
				return Agreement{}, fmt.Errorf("agreement: decode pending payload: %w", err)
			}
		}
		a.Pending = p
	}
	return a, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
