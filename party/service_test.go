package party

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestService_SeedAndCounterparty(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	n, err := svc.Seed(ctx, "landlord|ll@example.com|Lara Landlord|0x00000000000000000000000000000000000000b2; nowallet|nw@example.com|No Wallet|")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 seeded profiles, got %d", n)
	}

	p, addr, err := svc.Counterparty(ctx, "landlord")
	if err != nil {
		t.Fatalf("counterparty: %v", err)
	}
	if p.Name != "Lara Landlord" || addr != common.HexToAddress("0x00000000000000000000000000000000000000b2") {
		t.Fatalf("unexpected profile %+v %s", p, addr.Hex())
	}

	if _, _, err := svc.Counterparty(ctx, "nowallet"); !errors.Is(err, ErrNoWallet) {
		t.Fatalf("expected ErrNoWallet, got %v", err)
	}
	if _, _, err := svc.Counterparty(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := svc.List(ctx, 10)
	if err != nil || len(list) != 2 || list[0].Name != "Lara Landlord" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
}

func TestService_SeedRejectsMalformed(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	if _, err := svc.Seed(context.Background(), "only|three|fields"); err == nil {
		t.Fatal("expected malformed entry to fail")
	}
}
