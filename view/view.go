// Package view renders domain records as the JSON documents the API and the
// MCP tools return.
package view

import (
	"encoding/json"
	"time"

	"pactflow/agreement"
	"pactflow/dispute"
)

type Payment struct {
	Seq    int    `json:"seq"`
	Amount string `json:"amount"`
	TxHash string `json:"txHash"`
	PaidAt string `json:"paidAt"`
}

type Pending struct {
	Action string `json:"action"`
	TxHash string `json:"txHash,omitempty"`
	Since  string `json:"since"`
}

type Agreement struct {
	ID                  string    `json:"id"`
	BlockchainID        string    `json:"blockchainId"`
	Type                string    `json:"type"`
	Title               string    `json:"title"`
	Terms               string    `json:"terms,omitempty"`
	CreatorID           string    `json:"creatorId"`
	CounterpartyID      string    `json:"counterpartyId"`
	CounterpartyAddress string    `json:"counterpartyAddress"`
	Amount              string    `json:"amount"`
	StartDate           string    `json:"startDate"`
	DueDate             string    `json:"dueDate"`
	Deliverables        string    `json:"deliverables,omitempty"`
	Milestones          string    `json:"milestones,omitempty"`
	PropertyAddress     string    `json:"propertyAddress,omitempty"`
	SecurityDeposit     string    `json:"securityDeposit,omitempty"`
	SubscriptionDetails string    `json:"subscriptionDetails,omitempty"`
	BillingInterval     int64     `json:"billingInterval,omitempty"`
	NextBillingDate     string    `json:"nextBillingDate,omitempty"`
	TotalPaid           string    `json:"totalPaid,omitempty"`
	Payments            []Payment `json:"payments"`
	Status              string    `json:"status"`
	TxHash              string    `json:"txHash,omitempty"`
	FundTxHash          string    `json:"fundTxHash,omitempty"`
	CompletionTxHash    string    `json:"completionTxHash,omitempty"`
	CancelTxHash        string    `json:"cancelTxHash,omitempty"`
	DisputeTxHash       string    `json:"disputeTxHash,omitempty"`
	CreatedAt           string    `json:"createdAt"`
	UpdatedAt           string    `json:"updatedAt"`
	FundedAt            string    `json:"fundedAt,omitempty"`
	CompletedAt         string    `json:"completedAt,omitempty"`
	CancelledAt         string    `json:"cancelledAt,omitempty"`
	DisputedAt          string    `json:"disputedAt,omitempty"`
	Pending             *Pending  `json:"pending,omitempty"`
}

func FromAgreement(a agreement.Agreement) Agreement {
	v := Agreement{
		ID:                  a.ID,
		BlockchainID:        a.BlockchainID,
		Type:                string(a.Type),
		Title:               a.Title,
		Terms:               a.Terms,
		CreatorID:           a.CreatorID,
		CounterpartyID:      a.CounterpartyID,
		CounterpartyAddress: a.CounterpartyAddress,
		Amount:              a.Amount,
		StartDate:           stamp(a.StartDate),
		DueDate:             stamp(a.DueDate),
		Deliverables:        a.Deliverables,
		Milestones:          a.Milestones,
		PropertyAddress:     a.PropertyAddress,
		SecurityDeposit:     a.SecurityDeposit,
		SubscriptionDetails: a.SubscriptionDetails,
		BillingInterval:     a.BillingInterval,
		NextBillingDate:     optional(a.NextBillingDate),
		TotalPaid:           a.TotalPaid,
		Payments:            make([]Payment, 0, len(a.Payments)),
		Status:              string(a.Status),
		TxHash:              a.TxHash,
		FundTxHash:          a.FundTxHash,
		CompletionTxHash:    a.CompletionTxHash,
		CancelTxHash:        a.CancelTxHash,
		DisputeTxHash:       a.DisputeTxHash,
		CreatedAt:           stamp(a.CreatedAt),
		UpdatedAt:           stamp(a.UpdatedAt),
		FundedAt:            optional(a.FundedAt),
		CompletedAt:         optional(a.CompletedAt),
		CancelledAt:         optional(a.CancelledAt),
		DisputedAt:          optional(a.DisputedAt),
	}
	for _, p := range a.Payments {
		v.Payments = append(v.Payments, Payment{Seq: p.Seq, Amount: p.Amount, TxHash: p.TxHash, PaidAt: stamp(p.PaidAt)})
	}
	if a.Pending != nil {
		v.Pending = &Pending{Action: string(a.Pending.Action), TxHash: a.Pending.TxHash, Since: stamp(a.Pending.Since)}
	}
	return v
}

func FromAgreements(items []agreement.Agreement) []Agreement {
	out := make([]Agreement, 0, len(items))
	for _, a := range items {
		out = append(out, FromAgreement(a))
	}
	return out
}

type TimelineEvent struct {
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	ActorID   string          `json:"actorId,omitempty"`
	CreatedAt string          `json:"createdAt"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func FromTimeline(events []agreement.TimelineEvent) []TimelineEvent {
	out := make([]TimelineEvent, 0, len(events))
	for _, e := range events {
		v := TimelineEvent{Seq: e.Seq, Type: e.Type, CreatedAt: stamp(e.CreatedAt)}
		if e.ActorID != nil {
			v.ActorID = *e.ActorID
		}
		if json.Valid(e.Payload) {
			v.Payload = e.Payload
		}
		out = append(out, v)
	}
	return out
}

type Dispute struct {
	ID          string `json:"id"`
	AgreementID string `json:"agreementId"`
	RaisedBy    string `json:"raisedBy"`
	Reason      string `json:"reason"`
	TxHash      string `json:"txHash"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
}

func FromDisputes(records []dispute.Record) []Dispute {
	out := make([]Dispute, 0, len(records))
	for _, r := range records {
		out = append(out, Dispute{
			ID:          r.ID,
			AgreementID: r.AgreementID,
			RaisedBy:    r.RaisedBy,
			Reason:      r.Reason,
			TxHash:      r.TxHash,
			Status:      string(r.Status),
			CreatedAt:   stamp(r.CreatedAt),
		})
	}
	return out
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return stamp(*t)
}
