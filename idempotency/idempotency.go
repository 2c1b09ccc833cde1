// Package idempotency replays stored responses for repeated mutating requests
// that carry the same Idempotency-Key.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Key scopes a stored response to one actor and endpoint.
type Key struct {
	ActorID  string
	Value    string
	Endpoint string
}

type Store interface {
	Get(ctx context.Context, key Key) (int, map[string]any, bool, error)
	Save(ctx context.Context, key Key, status int, body map[string]any) error
}

// Replay returns the stored response for key. Requests without a key never replay.
func Replay(ctx context.Context, st Store, key Key) (int, map[string]any, bool, error) {
	if key.Value == "" {
		return 0, nil, false, nil
	}
	return st.Get(ctx, key)
}

// Save stores a response for later replay. A key already stored keeps its first response.
func Save(ctx context.Context, st Store, key Key, status int, body map[string]any) error {
	if key.Value == "" {
		return nil
	}
	return st.Save(ctx, key, status, body)
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, key Key) (int, map[string]any, bool, error) {
	var (
		status int
		raw    []byte
	)
	err := s.pool.QueryRow(ctx, `
        SELECT response_status, response_body
        FROM idempotency_records
        WHERE actor_id = $1 AND idem_key = $2 AND endpoint = $3`,
		key.ActorID, key.Value, key.Endpoint).Scan(&status, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, fmt.Errorf("idempotency: get: %w", err)
	}
	body := map[string]any{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return 0, nil, false, fmt.Errorf("idempotency: decode body: %w", err)
	}
	return status, body, true, nil
}

func (s *PGStore) Save(ctx context.Context, key Key, status int, body map[string]any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("idempotency: encode body: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
        INSERT INTO idempotency_records (actor_id, idem_key, endpoint, response_status, response_body)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (actor_id, idem_key, endpoint) DO NOTHING`,
		key.ActorID, key.Value, key.Endpoint, status, raw)
	if err != nil {
		return fmt.Errorf("idempotency: save: %w", err)
	}
	return nil
}

// MemoryStore keeps responses in process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]record
}

type record struct {
	status int
	body   []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]record)}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (int, map[string]any, bool, error) {
	m.mu.RLock()
	rec, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return 0, nil, false, nil
	}
	body := map[string]any{}
	if err := json.Unmarshal(rec.body, &body); err != nil {
		return 0, nil, false, fmt.Errorf("idempotency: decode body: %w", err)
	}
	return rec.status, body, true, nil
}

func (m *MemoryStore) Save(_ context.Context, key Key, status int, body map[string]any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("idempotency: encode body: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[key]; !ok {
		m.records[key] = record{status: status, body: raw}
	}
	return nil
}
