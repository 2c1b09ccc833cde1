package dispute

import (
	"context"
	"errors"
	"testing"
)

func TestService_OpenOncePerAgreement(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	rec, err := svc.Open(ctx, "ag-1", "tenant", "  heating broken  ", "0xabc")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if rec.Status != StatusOpen || rec.Reason != "heating broken" || rec.ID == "" {
		t.Fatalf("unexpected record %+v", rec)
	}

	if _, err := svc.Open(ctx, "ag-1", "landlord", "counter claim", "0xdef"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := svc.Open(ctx, "ag-2", "tenant", "", ""); err == nil {
		t.Fatal("expected missing tx hash to fail")
	}

	list, err := svc.List(ctx, "ag-1")
	if err != nil || len(list) != 1 || list[0].RaisedBy != "tenant" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
}
