package agreement

import (
	"errors"
	"testing"
	"time"
)

func activeAgreement(typ Type) Agreement {
	return Agreement{
		ID:             "5f0c7a2e-3b1d-4c8e-9a61-2d4f8b0e7c13",
		BlockchainID:   "7",
		Type:           typ,
		CreatorID:      "creator",
		CounterpartyID: "counterparty",
		Status:         StatusActive,
	}
}

func TestRuleCheck_Actors(t *testing.T) {
	cases := []struct {
		name   string
		action Action
		typ    Type
		status Status
		actor  string
		want   error
	}{
		{"counterparty accepts", ActionAccept, TypeSoftwareFreelancing, StatusCreated, "counterparty", nil},
		{"creator cannot accept", ActionAccept, TypeSoftwareFreelancing, StatusCreated, "creator", ErrUnauthorized},
		{"creator funds", ActionFund, TypeRental, StatusAccepted, "creator", nil},
		{"counterparty cannot fund", ActionFund, TypeRental, StatusAccepted, "counterparty", ErrUnauthorized},
		{"stranger cannot fund", ActionFund, TypeRental, StatusAccepted, "mallory", ErrUnauthorized},
		{"fund in Created conflicts", ActionFund, TypeRental, StatusCreated, "creator", ErrStateConflict},
		{"counterparty completes", ActionComplete, TypeSubscription, StatusActive, "counterparty", nil},
		{"creator cannot complete", ActionComplete, TypeSubscription, StatusActive, "creator", ErrUnauthorized},
		{"tenant pays rent", ActionPayRent, TypeRental, StatusActive, "creator", nil},
		{"pay rent on subscription", ActionPayRent, TypeSubscription, StatusActive, "creator", ErrUnsupportedAction},
		{"subscriber pays", ActionPaySubscription, TypeSubscription, StatusActive, "creator", nil},
		{"subscriber cancels", ActionCancelSubscription, TypeSubscription, StatusActive, "creator", nil},
		{"cancel on freelancing", ActionCancelSubscription, TypeSoftwareFreelancing, StatusActive, "creator", ErrUnsupportedAction},
		{"either party disputes", ActionDispute, TypeSoftwareFreelancing, StatusActive, "counterparty", nil},
		{"no dispute for subscription", ActionDispute, TypeSubscription, StatusActive, "creator", ErrUnsupportedAction},
		{"terminal status", ActionComplete, TypeRental, StatusCompleted, "counterparty", ErrStateConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule, err := RuleFor(tc.action)
			if err != nil {
				t.Fatalf("rule for %s: %v", tc.action, err)
			}
			a := activeAgreement(tc.typ)
			a.Status = tc.status

			err = rule.Check(a, tc.actor)
			if tc.want == nil && err != nil {
				t.Fatalf("expected nil, got %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRuleCheck_PendingBlocksSecondTransition(t *testing.T) {
	a := activeAgreement(TypeRental)
	a.Pending = &Pending{Action: ActionPayRent, Since: time.Now()}

	rule, _ := RuleFor(ActionPayRent)
	if err := rule.Check(a, "creator"); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected state conflict while pending, got %v", err)
	}
}

func TestRuleFor_Unknown(t *testing.T) {
	if _, err := RuleFor(Action("teleport")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidTransition_ForwardOnly(t *testing.T) {
	if !ValidTransition(StatusActive, StatusActive) {
		t.Fatal("Active -> Active must be allowed for recurring payments")
	}
	for _, back := range []struct{ from, to Status }{
		{StatusActive, StatusCreated},
		{StatusCompleted, StatusActive},
		{StatusAccepted, StatusCreated},
		{StatusCreated, StatusActive},
		{StatusCancelled, StatusActive},
	} {
		if ValidTransition(back.from, back.to) {
			t.Fatalf("unexpected edge %s -> %s", back.from, back.to)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusDisputed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}
