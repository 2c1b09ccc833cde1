package dispute

import (
	"context"
	"fmt"
	"strings"
)

// Store abstracts dispute persistence.
type Store interface {
	List(ctx context.Context, agreementID string) ([]Record, error)
	Create(ctx context.Context, rec Record) (Record, error)
}

type Service struct {
	repo Store
}

func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, agreementID string) ([]Record, error) {
	return s.repo.List(ctx, agreementID)
}

// Open records a confirmed on-chain dispute.
func (s *Service) Open(ctx context.Context, agreementID, raisedBy, reason, txHash string) (Record, error) {
	if agreementID == "" || raisedBy == "" || txHash == "" {
		return Record{}, fmt.Errorf("dispute: agreement, raiser and tx hash are required")
	}
	return s.repo.Create(ctx, Record{
		AgreementID: agreementID,
		RaisedBy:    raisedBy,
		Reason:      strings.TrimSpace(reason),
		TxHash:      txHash,
	})
}
