package party

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoWallet signals a party without a usable wallet address.
var ErrNoWallet = errors.New("party: no wallet address on file")

// Store abstracts repository operations for the service.
type Store interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, limit int) ([]Profile, error)
	Upsert(ctx context.Context, p Profile) error
}

// Service exposes business-level party operations.
type Service struct {
	repo Store
}

// NewService builds a Service using the provided repository.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// GetByID returns the party profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit party profiles.
func (s *Service) List(ctx context.Context, limit int) ([]Profile, error) {
	return s.repo.List(ctx, limit)
}

// Counterparty loads id and checks it can receive an on-chain agreement.
func (s *Service) Counterparty(ctx context.Context, id string) (Profile, common.Address, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Profile{}, common.Address{}, err
	}
	if !common.IsHexAddress(p.WalletAddress) {
		return p, common.Address{}, fmt.Errorf("%w: %s", ErrNoWallet, id)
	}
	return p, common.HexToAddress(p.WalletAddress), nil
}

// Seed upserts profiles parsed from "id|email|name|0xaddr;..." entries.
func (s *Service) Seed(ctx context.Context, raw string) (int, error) {
	n := 0
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, "|")
		if len(fields) != 4 {
			return n, fmt.Errorf("party: malformed seed entry %q", entry)
		}
		p := Profile{
			ID:            strings.TrimSpace(fields[0]),
			Email:         strings.TrimSpace(fields[1]),
			Name:          strings.TrimSpace(fields[2]),
			WalletAddress: strings.TrimSpace(fields[3]),
		}
		if p.ID == "" || p.Email == "" {
			return n, fmt.Errorf("party: seed entry %q needs id and email", entry)
		}
		if err := s.repo.Upsert(ctx, p); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
