package agreement

import (
	"fmt"
	"slices"
)

// Action names a lifecycle operation on an agreement.
type Action string

const (
	ActionCreate             Action = "create"
	ActionAccept             Action = "accept"
	ActionFund               Action = "fund"
	ActionComplete           Action = "complete"
	ActionPayRent            Action = "pay_rent"
	ActionPaySubscription    Action = "pay_subscription"
	ActionCancelSubscription Action = "cancel_subscription"
	ActionDispute            Action = "dispute"
)

// Role is the relation of an actor to an agreement.
type Role string

const (
	RoleCreator      Role = "creator"
	RoleCounterparty Role = "counterparty"
)

// Rule is one row of the transition table.
type Rule struct {
	Action Action
	From   Status
	To     Status
	Actors []Role
	// Types restricts the rule to the listed agreement types; nil means all.
	Types []Type
}

var rules = map[Action]Rule{
	ActionAccept: {
		Action: ActionAccept, From: StatusCreated, To: StatusAccepted,
		Actors: []Role{RoleCounterparty},
	},
	ActionFund: {
		Action: ActionFund, From: StatusAccepted, To: StatusActive,
		Actors: []Role{RoleCreator},
	},
	ActionComplete: {
		Action: ActionComplete, From: StatusActive, To: StatusCompleted,
		Actors: []Role{RoleCounterparty},
	},
	ActionPayRent: {
		Action: ActionPayRent, From: StatusActive, To: StatusActive,
		Actors: []Role{RoleCreator},
		Types:  []Type{TypeRental},
	},
	ActionPaySubscription: {
		Action: ActionPaySubscription, From: StatusActive, To: StatusActive,
		Actors: []Role{RoleCreator},
		Types:  []Type{TypeSubscription},
	},
	ActionCancelSubscription: {
		Action: ActionCancelSubscription, From: StatusActive, To: StatusCancelled,
		Actors: []Role{RoleCreator},
		Types:  []Type{TypeSubscription},
	},
	ActionDispute: {
		Action: ActionDispute, From: StatusActive, To: StatusDisputed,
		Actors: []Role{RoleCreator, RoleCounterparty},
		Types:  []Type{TypeSoftwareFreelancing, TypeRental},
	},
}

// edges is the forward-only status graph. Active -> Active covers recurring payments.
var edges = map[Status][]Status{
	StatusCreated:  {StatusAccepted},
	StatusAccepted: {StatusActive},
	StatusActive:   {StatusActive, StatusCompleted, StatusCancelled, StatusDisputed},
}

// RuleFor returns the transition rule for action.
func RuleFor(action Action) (Rule, error) {
	r, ok := rules[action]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s", ErrUnsupportedAction, action)
	}
	return r, nil
}

// ValidTransition reports whether the status graph has an edge from -> to.
func ValidTransition(from, to Status) bool {
	return slices.Contains(edges[from], to)
}

// Check evaluates the type, actor and status guards for a against the rule.
func (r Rule) Check(a Agreement, actorID string) error {
	if r.Types != nil && !slices.Contains(r.Types, a.Type) {
		return fmt.Errorf("%w: %s is not available for %s", ErrUnsupportedAction, r.Action, a.Type)
	}

	role := a.Role(actorID)
	if role == "" {
		return fmt.Errorf("%w: not a party to this agreement", ErrUnauthorized)
	}
	if !slices.Contains(r.Actors, role) {
		return fmt.Errorf("%w: only the %s can %s", ErrUnauthorized, describeActors(r.Actors), r.Action)
	}

	if a.Status != r.From {
		return fmt.Errorf("%w: %s requires status %s, agreement is %s", ErrStateConflict, r.Action, r.From, a.Status)
	}
	if a.Pending != nil {
		return fmt.Errorf("%w: %s already in flight", ErrStateConflict, a.Pending.Action)
	}
	if !ValidTransition(r.From, r.To) {
		return fmt.Errorf("%w: invalid transition %s -> %s", ErrStateConflict, r.From, r.To)
	}
	return nil
}

func describeActors(roles []Role) string {
	if len(roles) == 1 {
		return string(roles[0])
	}
	return "parties"
}
