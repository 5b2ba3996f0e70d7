package models

import "time"

type DisputeStatus string

const (
	DisputePending  DisputeStatus = "pending"
	DisputeResolved DisputeStatus = "resolved"
)

type DisputeDecision string

const (
	DecisionKeepWinner DisputeDecision = "keep_winner"
	DecisionRevert     DisputeDecision = "revert"
	DecisionRefund     DisputeDecision = "refund"
)

func (d DisputeDecision) Valid() bool {
	switch d {
	case DecisionKeepWinner, DecisionRevert, DecisionRefund:
		return true
	}
	return false
}

type Dispute struct {
	ID         string           `json:"id"`
	MatchID    string           `json:"matchId"`
	RaisedBy   string           `json:"raisedBy"`
	Reason     string           `json:"reason"`
	Evidence   []string         `json:"evidence"`
	Status     DisputeStatus    `json:"status"`
	Resolution *DisputeDecision `json:"resolution,omitempty"`
	AdminNotes *string          `json:"adminNotes,omitempty"`
	ResolvedBy *string          `json:"resolvedBy,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	ResolvedAt *time.Time       `json:"resolvedAt,omitempty"`
}
