package idempotency

import (
	"context"
	"testing"
)

func TestReplay_NoKeyNoop(t *testing.T) {
	st := NewMemoryStore()
	key := Key{ActorID: "u1", Endpoint: "POST /agreements/{id}/fund"}
	if err := Save(context.Background(), st, key, 200, map[string]any{"txHash": "0x1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, _, replayed, err := Replay(context.Background(), st, key); err != nil || replayed {
		t.Fatalf("expected no replay without key, got %v %v", replayed, err)
	}
}

func TestSaveThenReplay_FirstResponseWins(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	key := Key{ActorID: "u1", Value: "k1", Endpoint: "POST /agreements/{id}/fund"}

	if err := Save(ctx, st, key, 200, map[string]any{"txHash": "0xabc"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := Save(ctx, st, key, 500, map[string]any{"txHash": "0xdef"}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	status, body, replayed, err := Replay(ctx, st, key)
	if err != nil || !replayed {
		t.Fatalf("expected replay, got %v %v", replayed, err)
	}
	if status != 200 || body["txHash"] != "0xabc" {
		t.Fatalf("unexpected replay %d %v", status, body)
	}

	other := key
	other.ActorID = "u2"
	if _, _, replayed, _ := Replay(ctx, st, other); replayed {
		t.Fatal("keys are scoped per actor")
	}
}
