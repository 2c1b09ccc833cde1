package agreement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

func appendTimelineEvent(ctx context.Context, tx pgx.Tx, agreementID string, change Change, previous, next Status) error {
	payload := map[string]any{
		"previous_status": previous,
		"next_status":     next,
	}
	for k, v := range change.Payload {
		payload[k] = v
	}
	if change.ActorID != "" {
		payload["actor_id"] = change.ActorID
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal timeline payload: %w", err)
	}

	var actorID any
	if change.ActorID != "" {
		actorID = change.ActorID
	}

	const insertSQL = `
INSERT INTO timeline_events (agreement_id, seq, type, payload, actor_id)
VALUES ($1::uuid, (SELECT COALESCE(MAX(seq), 0) + 1 FROM timeline_events WHERE agreement_id = $1::uuid), $2, $3, $4);
`
	if _, err := tx.Exec(ctx, insertSQL, agreementID, change.Event, payloadBytes, actorID); err != nil {
		return fmt.Errorf("agreement: insert timeline event: %w", err)
	}
	return nil
}

func enqueueOutbox(ctx context.Context, tx pgx.Tx, agreementID string, change Change, previous, next Status) error {
	topic := change.Topic
	if topic == "" {
		topic = OutboxTopicStatusChanged
	}

	payload := map[string]any{
		"agreement_id": agreementID,
		"previous":     previous,
		"next":         next,
	}
	for k, v := range change.Payload {
		payload[k] = v
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("agreement: marshal outbox payload: %w", err)
	}

	const insertSQL = `
INSERT INTO outbox (topic, payload)
VALUES ($1, $2);
`
	if _, err := tx.Exec(ctx, insertSQL, topic, payloadBytes); err != nil {
		return fmt.Errorf("agreement: insert outbox message: %w", err)
	}
	return nil
}
