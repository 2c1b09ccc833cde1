package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
)

// Record mirrors the disputes table. One exists per disputed agreement.
type Record struct {
	ID          string
	AgreementID string
	RaisedBy    string
	Reason      string
	TxHash      string
	Status      Status
	CreatedAt   time.Time
}
