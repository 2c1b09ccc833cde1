package agreement

import (
	"fmt"
	"strings"
	"time"

	"pactflow/units"
)

// CreateParams is the caller-supplied description of a new agreement.
type CreateParams struct {
	Type                Type
	Title               string
	Terms               string
	CreatorID           string
	CounterpartyID      string
	CounterpartyAddress string
	Amount              string
	StartDate           time.Time
	DueDate             time.Time

	Deliverables string
	Milestones   string

	PropertyAddress string
	SecurityDeposit string

	SubscriptionDetails string
	BillingInterval     int64
}

// ListFilters pages through the agreements a party takes part in.
type ListFilters struct {
	PartyID  string
	Page     int
	PageSize int
}

func (f ListFilters) normalized() ListFilters {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
	return f
}

// Validate checks the common and type-specific terms.
func (p CreateParams) Validate() error {
	if _, err := ParseType(string(p.Type)); err != nil {
		return err
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidAgreementTerms)
	}
	if p.CreatorID == "" || p.CounterpartyID == "" {
		return fmt.Errorf("%w: creator and counterparty required", ErrInvalidAgreementTerms)
	}
	if p.CreatorID == p.CounterpartyID {
		return fmt.Errorf("%w: counterparty must differ from creator", ErrInvalidAgreementTerms)
	}
	if !units.Positive(p.Amount) {
		return fmt.Errorf("%w: amount must be a positive decimal", ErrInvalidAgreementTerms)
	}
	if p.StartDate.IsZero() || p.DueDate.IsZero() {
		return fmt.Errorf("%w: startDate and dueDate required", ErrInvalidAgreementTerms)
	}
	if !p.DueDate.After(p.StartDate) {
		return fmt.Errorf("%w: dueDate must be after startDate", ErrInvalidAgreementTerms)
	}

	switch p.Type {
	case TypeSoftwareFreelancing:
		if strings.TrimSpace(p.Deliverables) == "" || strings.TrimSpace(p.Milestones) == "" {
			return fmt.Errorf("%w: deliverables and milestones required for %s", ErrInvalidAgreementTerms, p.Type)
		}
	case TypeRental:
		if strings.TrimSpace(p.PropertyAddress) == "" || p.SecurityDeposit == "" {
			return fmt.Errorf("%w: propertyAddress and securityDeposit required for %s", ErrInvalidAgreementTerms, p.Type)
		}
		if _, err := units.ToWei(p.SecurityDeposit); err != nil {
			return fmt.Errorf("%w: securityDeposit: %v", ErrInvalidAgreementTerms, err)
		}
	case TypeSubscription:
		if strings.TrimSpace(p.SubscriptionDetails) == "" || p.BillingInterval <= 0 {
			return fmt.Errorf("%w: subscriptionDetails and billingInterval required for %s", ErrInvalidAgreementTerms, p.Type)
		}
	}
	return nil
}

// New builds the Created record for validated params.
func New(id string, p CreateParams, now time.Time) (Agreement, error) {
	if err := p.Validate(); err != nil {
		return Agreement{}, err
	}
	amount, err := units.Canonical(p.Amount)
	if err != nil {
		return Agreement{}, fmt.Errorf("%w: amount: %v", ErrInvalidAgreementTerms, err)
	}

	a := Agreement{
		ID:                  id,
		Type:                p.Type,
		Title:               strings.TrimSpace(p.Title),
		Terms:               p.Terms,
		CreatorID:           p.CreatorID,
		CounterpartyID:      p.CounterpartyID,
		CounterpartyAddress: p.CounterpartyAddress,
		Amount:              amount,
		StartDate:           p.StartDate.UTC(),
		DueDate:             p.DueDate.UTC(),
		Status:              StatusCreated,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	switch p.Type {
	case TypeSoftwareFreelancing:
		a.Deliverables = p.Deliverables
		a.Milestones = p.Milestones
	case TypeRental:
		a.PropertyAddress = p.PropertyAddress
		a.SecurityDeposit, _ = units.Canonical(p.SecurityDeposit)
		a.TotalPaid = "0"
	case TypeSubscription:
		a.SubscriptionDetails = p.SubscriptionDetails
		a.BillingInterval = p.BillingInterval
		next := a.StartDate
		a.NextBillingDate = &next
		a.TotalPaid = "0"
	}
	return a, nil
}
