package agreement

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository used when no database is configured.
type MemoryRepository struct {
	mu       sync.RWMutex
	records  map[string]Agreement
	timeline map[string][]TimelineEvent
	outbox   []OutboxMessage
	now      func() time.Time
	nextID   int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:  make(map[string]Agreement),
		timeline: make(map[string][]TimelineEvent),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRepository) Insert(_ context.Context, a Agreement) error {
	if a.Pending == nil || a.Pending.Action != ActionCreate {
		return fmt.Errorf("agreement: insert requires a pending create marker")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[a.ID]; ok {
		return fmt.Errorf("%w: agreement %s already exists", ErrConcurrentUpdate, a.ID)
	}
	a.Version = 0
	m.records[a.ID] = clone(a)
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (Agreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.records[id]
	if !ok {
		return Agreement{}, ErrNotFound
	}
	return clone(a), nil
}

func (m *MemoryRepository) List(_ context.Context, filters ListFilters) ([]Agreement, int, error) {
	filters = filters.normalized()
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]Agreement, 0)
	for _, a := range m.records {
		if a.CreatorID == filters.PartyID || a.CounterpartyID == filters.PartyID {
			matched = append(matched, clone(a))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (filters.Page - 1) * filters.PageSize
	if start >= total {
		return []Agreement{}, total, nil
	}
	end := min(start+filters.PageSize, total)
	return matched[start:end], total, nil
}

func (m *MemoryRepository) ListPending(_ context.Context, before time.Time, limit int) ([]Agreement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Agreement, 0)
	for _, a := range m.records {
		stale := a.Pending != nil && a.Pending.Since.Before(before)
		unresolved := a.Pending == nil && a.BlockchainID == UnresolvedID
		if stale || unresolved {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) Update(_ context.Context, next Agreement, change Change) (Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[next.ID]
	if !ok {
		return Agreement{}, ErrNotFound
	}
	if err := checkSwap(current.Status, current.Version, current.BlockchainID, next, change); err != nil {
		return Agreement{}, err
	}
	if len(next.Payments) < len(current.Payments) {
		return Agreement{}, fmt.Errorf("%w: payments are append-only", ErrStateConflict)
	}

	next.Version = current.Version + 1
	next.UpdatedAt = m.now()
	m.records[next.ID] = clone(next)

	if change.Event != "" {
		m.appendEvent(next.ID, change, current.Status, next.Status)
	}
	return clone(next), nil
}

func (m *MemoryRepository) Discard(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.records[id]
	if !ok || a.Pending == nil || a.Pending.Action != ActionCreate || a.BlockchainID != "" {
		return fmt.Errorf("%w: %s is not a discardable draft", ErrStateConflict, id)
	}
	delete(m.records, id)
	return nil
}

func (m *MemoryRepository) Timeline(_ context.Context, id string) ([]TimelineEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.timeline[id]
	out := make([]TimelineEvent, len(events))
	copy(out, events)
	return out, nil
}

// Outbox returns a snapshot of enqueued outbox messages.
func (m *MemoryRepository) Outbox() []OutboxMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]OutboxMessage, len(m.outbox))
	copy(out, m.outbox)
	return out
}

func (m *MemoryRepository) appendEvent(id string, change Change, previous, next Status) {
	payload := map[string]any{"previous_status": previous, "next_status": next}
	for k, v := range change.Payload {
		payload[k] = v
	}
	body, _ := json.Marshal(payload)

	m.nextID++
	ev := TimelineEvent{
		ID:          m.nextID,
		AgreementID: id,
		Seq:         len(m.timeline[id]) + 1,
		Type:        change.Event,
		CreatedAt:   m.now(),
		Payload:     body,
	}
	if change.ActorID != "" {
		actor := change.ActorID
		ev.ActorID = &actor
	}
	m.timeline[id] = append(m.timeline[id], ev)

	topic := change.Topic
	if topic == "" {
		topic = OutboxTopicStatusChanged
	}
	payload["agreement_id"] = id
	outBody, _ := json.Marshal(payload)
	m.outbox = append(m.outbox, OutboxMessage{
		ID:        fmt.Sprintf("mem-%d", m.nextID),
		Topic:     topic,
		Payload:   outBody,
		Status:    "pending",
		CreatedAt: m.now(),
	})
}

func clone(a Agreement) Agreement {
	if a.Payments != nil {
		a.Payments = append([]Payment(nil), a.Payments...)
	}
	a.NextBillingDate = cloneTime(a.NextBillingDate)
	a.FundedAt = cloneTime(a.FundedAt)
	a.CompletedAt = cloneTime(a.CompletedAt)
	a.CancelledAt = cloneTime(a.CancelledAt)
	a.DisputedAt = cloneTime(a.DisputedAt)
	if a.Pending != nil {
		p := *a.Pending
		if p.Payload != nil {
			payload := make(map[string]string, len(p.Payload))
			for k, v := range p.Payload {
				payload[k] = v
			}
			p.Payload = payload
		}
		a.Pending = &p
	}
	return a
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
