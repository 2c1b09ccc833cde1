package agreement

import (
	"fmt"
	"time"
)

// Type is the closed set of contract kinds an agreement can be mirrored onto.
type Type string

const (
	TypeSoftwareFreelancing Type = "Software Freelancing"
	TypeRental              Type = "Rental Agreement"
	TypeSubscription        Type = "Subscription Agreement"
)

// Types lists every supported agreement type.
var Types = []Type{TypeSoftwareFreelancing, TypeRental, TypeSubscription}

// ParseType maps the wire name onto a Type.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAgreementType, s)
}

// Status is the off-chain lifecycle state.
type Status string

const (
	StatusCreated   Status = "Created"
	StatusAccepted  Status = "Accepted"
	StatusActive    Status = "Active"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
	StatusDisputed  Status = "Disputed"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusDisputed
}

// UnresolvedID marks an agreement whose on-chain identifier could not be recovered.
const UnresolvedID = "unknown"

// Agreement is the off-chain record kept in sync with the on-chain contract.
// It mirrors the agreements table and carries no presentation annotations.
type Agreement struct {
	ID           string
	BlockchainID string
	Type         Type
	Title        string
	Terms        string

	CreatorID           string
	CounterpartyID      string
	CounterpartyAddress string

	Amount    string
	StartDate time.Time
	DueDate   time.Time

	Deliverables string
	Milestones   string

	PropertyAddress string
	SecurityDeposit string

	SubscriptionDetails string
	BillingInterval     int64 // seconds
	NextBillingDate     *time.Time

	TotalPaid string
	Payments  []Payment

	Status Status

	TxHash           string
	FundTxHash       string
	CompletionTxHash string
	CancelTxHash     string
	DisputeTxHash    string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	FundedAt    *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
	DisputedAt  *time.Time

	Pending *Pending
	Version int
}

// IdentifierResolved reports whether a usable on-chain id is recorded.
func (a Agreement) IdentifierResolved() bool {
	return a.BlockchainID != "" && a.BlockchainID != UnresolvedID
}

// Role returns how actorID relates to the agreement.
func (a Agreement) Role(actorID string) Role {
	switch actorID {
	case a.CreatorID:
		return RoleCreator
	case a.CounterpartyID:
		return RoleCounterparty
	default:
		return ""
	}
}

// NextPaymentSeq returns the sequence number the next payment must carry.
func (a Agreement) NextPaymentSeq() int {
	return len(a.Payments) + 1
}

// Payment is one recurring on-chain payment. Seq starts at 1 and has no gaps.
type Payment struct {
	Seq    int
	Amount string
	TxHash string
	PaidAt time.Time
}

// Pending marks an agreement whose chain call is in flight.
type Pending struct {
	Action  Action
	TxHash  string
	ActorID string
	Since   time.Time
	Payload map[string]string
}

// TimelineEvent captures an immutable business event for an agreement.
type TimelineEvent struct {
	ID          int64
	AgreementID string
	Seq         int
	Type        string
	ActorID     *string
	CreatedAt   time.Time
	Payload     []byte
}

// OutboxMessage represents a transactional outbox entry.
type OutboxMessage struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

const (
	OutboxTopicCreated         = "agreement.created"
	OutboxTopicStatusChanged   = "agreement.status_changed"
	OutboxTopicPaymentRecorded = "agreement.payment_recorded"
)

const (
	EventCreated         = "AGREEMENT_CREATED"
	EventStatusChanged   = "AGREEMENT_STATUS_CHANGED"
	EventPaymentRecorded = "PAYMENT_RECORDED"
	EventIDResolved      = "BLOCKCHAIN_ID_RESOLVED"
)
