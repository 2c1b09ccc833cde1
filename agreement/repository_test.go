package agreement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPGRepositoryUpdate_StaleVersionRollsBack(t *testing.T) {
	tx := &fakeTx{rows: [][]any{{"Active", 4, ptr("7"), 0}}}
	repo := NewPGRepository(&fakePool{tx: tx})

	next := activeAgreement(TypeRental)
	next.Status = StatusCompleted
	_, err := repo.Update(context.Background(), next, Change{ExpectedStatus: StatusActive, ExpectedVersion: 3})
	if !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	if !tx.rolled {
		t.Errorf("expected rollback to be called")
	}
	if tx.committed {
		t.Errorf("expected commit to be skipped")
	}
	if len(tx.execs) != 0 {
		t.Errorf("expected no writes, got %v", tx.execs)
	}
}

func TestPGRepositoryUpdate_WritesPaymentTimelineOutbox(t *testing.T) {
	updatedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tx := &fakeTx{rows: [][]any{
		{"Active", 2, ptr("7"), 1},
		{updatedAt},
	}}
	repo := NewPGRepository(&fakePool{tx: tx})

	next := activeAgreement(TypeRental)
	next.Payments = []Payment{
		{Seq: 1, Amount: "1", TxHash: "0x01", PaidAt: updatedAt},
		{Seq: 2, Amount: "1", TxHash: "0x02", PaidAt: updatedAt},
	}
	got, err := repo.Update(context.Background(), next, Change{
		ExpectedStatus:  StatusActive,
		ExpectedVersion: 2,
		ActorID:         "creator",
		Event:           EventPaymentRecorded,
		Topic:           OutboxTopicPaymentRecorded,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Version != 3 || !got.UpdatedAt.Equal(updatedAt) {
		t.Fatalf("unexpected result version=%d updatedAt=%v", got.Version, got.UpdatedAt)
	}
	if !tx.committed {
		t.Fatalf("expected commit")
	}

	if len(tx.execs) != 3 {
		t.Fatalf("expected payment, timeline and outbox writes, got %d: %v", len(tx.execs), tx.execs)
	}
	if !strings.Contains(tx.execs[0], "agreement_payments") {
		t.Errorf("first write should insert the new payment, got %q", tx.execs[0])
	}
	if !strings.Contains(tx.execs[1], "timeline_events") || !strings.Contains(tx.execs[2], "outbox") {
		t.Errorf("unexpected write order: %v", tx.execs)
	}
}

func TestPGRepositoryUpdate_ResolvedIDIsImmutable(t *testing.T) {
	tx := &fakeTx{rows: [][]any{{"Active", 1, ptr("7"), 0}}}
	repo := NewPGRepository(&fakePool{tx: tx})

	next := activeAgreement(TypeRental)
	next.BlockchainID = "8"
	_, err := repo.Update(context.Background(), next, Change{ExpectedStatus: StatusActive, ExpectedVersion: 1})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPGRepositoryUpdate_PaymentsAreAppendOnly(t *testing.T) {
	tx := &fakeTx{rows: [][]any{{"Active", 3, ptr("7"), 2}}}
	repo := NewPGRepository(&fakePool{tx: tx})

	next := activeAgreement(TypeRental)
	next.Payments = []Payment{{Seq: 1, Amount: "1", TxHash: "0x01"}}
	_, err := repo.Update(context.Background(), next, Change{ExpectedStatus: StatusActive, ExpectedVersion: 3})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected conflict for dropped payment, got %v", err)
	}
	if tx.committed || len(tx.execs) != 0 {
		t.Fatalf("expected no writes, got committed=%v execs=%v", tx.committed, tx.execs)
	}
	if len(tx.queries) != 1 || !strings.Contains(tx.queries[0], "id = $1::uuid") {
		t.Fatalf("expected a single uuid-keyed lookup, got %v", tx.queries)
	}
}

func TestPGRepository_MalformedIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	tx := &fakeTx{}
	repo := NewPGRepository(&fakePool{tx: tx})

	if _, err := repo.Get(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	next := activeAgreement(TypeRental)
	next.ID = "42"
	if _, err := repo.Update(ctx, next, Change{ExpectedStatus: StatusActive}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update: expected ErrNotFound, got %v", err)
	}
	if err := repo.Discard(ctx, "42"); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("discard: expected ErrStateConflict, got %v", err)
	}
	events, err := repo.Timeline(ctx, "42")
	if err != nil || len(events) != 0 {
		t.Fatalf("timeline: expected empty, got %v %v", events, err)
	}
	if len(tx.queries) != 0 || len(tx.execs) != 0 || tx.rolled {
		t.Fatalf("malformed ids should not reach the database: queries=%v execs=%v", tx.queries, tx.execs)
	}
}

func ptr(s string) *string { return &s }

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return f.tx, nil
}

func (f *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.tx.QueryRow(ctx, sql, args...)
}

func (f *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return f.tx.Exec(ctx, sql, args...)
}

type fakeTx struct {
	rows      [][]any
	queries   []string
	execs     []string
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.queries = append(f.queries, sql)
	if len(f.rows) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	row := f.rows[0]
	f.rows = f.rows[1:]
	return fakeRow{values: row}
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("fakeRow: %d destinations for %d values", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = r.values[i].(string)
		case *int:
			*d = r.values[i].(int)
		case **string:
			*d = r.values[i].(*string)
		case *time.Time:
			*d = r.values[i].(time.Time)
		default:
			return fmt.Errorf("fakeRow: unsupported destination %T", d)
		}
	}
	return nil
}
