package party

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested party does not exist.
var ErrNotFound = errors.New("party: not found")

// Repository provides access to party profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a party profile by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	const query = `
		SELECT id, email, name, COALESCE(wallet_address, ''), created_at
		FROM parties
		WHERE id = $1
	`

	var profile Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&profile.ID,
		&profile.Email,
		&profile.Name,
		&profile.WalletAddress,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("party: query by id: %w", err)
	}

	return profile, nil
}

// List fetches up to limit party profiles ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, email, name, COALESCE(wallet_address, ''), created_at
		FROM parties
		ORDER BY name ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("party: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		var profile Profile
		if err := rows.Scan(&profile.ID, &profile.Email, &profile.Name, &profile.WalletAddress, &profile.CreatedAt); err != nil {
			return nil, fmt.Errorf("party: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("party: iterate profiles: %w", err)
	}

	return profiles, nil
}

// Upsert inserts or refreshes a profile keyed by id.
func (r *Repository) Upsert(ctx context.Context, p Profile) error {
	const query = `
		INSERT INTO parties (id, email, name, wallet_address)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, wallet_address = EXCLUDED.wallet_address
	`
	if _, err := r.pool.Exec(ctx, query, p.ID, p.Email, p.Name, p.WalletAddress); err != nil {
		return fmt.Errorf("party: upsert: %w", err)
	}
	return nil
}

// MemoryRepository keeps profiles in process.
type MemoryRepository struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{profiles: make(map[string]Profile)}
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryRepository) List(_ context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) Upsert(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.profiles[p.ID]; ok {
		p.CreatedAt = prev.CreatedAt
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.profiles[p.ID] = p
	return nil
}
