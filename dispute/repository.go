package dispute

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("dispute: not found")
	ErrDuplicate = errors.New("dispute: agreement already disputed")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) List(ctx context.Context, agreementID string) ([]Record, error) {
	const query = `
		SELECT id::text, agreement_id::text, raised_by, reason, tx_hash, status, created_at
		FROM disputes
		WHERE agreement_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, agreementID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 1)
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.ID, &rec.AgreementID, &rec.RaisedBy, &rec.Reason, &rec.TxHash, &status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		rec.Status = Status(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func (r *Repository) Create(ctx context.Context, rec Record) (Record, error) {
	const query = `
		INSERT INTO disputes (agreement_id, raised_by, reason, tx_hash, status)
		VALUES ($1, $2, $3, $4, 'open')
		RETURNING id::text, status, created_at
	`

	var status string
	err := r.pool.QueryRow(ctx, query, rec.AgreementID, rec.RaisedBy, rec.Reason, rec.TxHash).
		Scan(&rec.ID, &status, &rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicate
		}
		return Record{}, fmt.Errorf("dispute: create: %w", err)
	}
	rec.Status = Status(status)
	return rec, nil
}

// MemoryRepository keeps disputes in process.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func (m *MemoryRepository) List(_ context.Context, agreementID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, 1)
	for _, rec := range m.records {
		if rec.AgreementID == agreementID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) Create(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.AgreementID == rec.AgreementID {
			return Record{}, ErrDuplicate
		}
	}
	rec.ID = uuid.NewString()
	rec.Status = StatusOpen
	rec.CreatedAt = time.Now().UTC()
	m.records[rec.ID] = rec
	return rec, nil
}
