package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type SettlementOp string

const (
	OpCredit SettlementOp = "credit"
	OpDebit  SettlementOp = "debit"
	OpRefund SettlementOp = "refund"
)

// Inverse - операция, компенсирующая уже проведённую.
func (op SettlementOp) Inverse() SettlementOp {
	if op == OpDebit {
		return OpCredit
	}
	return OpDebit
}

type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementInFlight  SettlementStatus = "in_flight"
	SettlementApplied   SettlementStatus = "applied"
	SettlementFailed    SettlementStatus = "failed"
	SettlementCancelled SettlementStatus = "cancelled"
)

type SettlementInstruction struct {
	ID             string           `json:"id"`
	MatchID        string           `json:"matchId"`
	OutcomeVersion int64            `json:"outcomeVersion"`
	Operation      SettlementOp     `json:"operation"`
	AccountID      string           `json:"accountId"`
	Amount         decimal.Decimal  `json:"amount"`
	IdempotencyKey string           `json:"idempotencyKey"`
	ReversesID     *string          `json:"reversesId,omitempty"`
	Status         SettlementStatus `json:"status"`
	Attempts       int              `json:"attempts"`
	LastError      *string          `json:"lastError,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	ClaimedAt      *time.Time       `json:"claimedAt,omitempty"`
	AppliedAt      *time.Time       `json:"appliedAt,omitempty"`
}

// SettlementKey строит ключ идемпотентности для леджера.
func SettlementKey(matchID string, outcomeVersion int64, op SettlementOp, accountID string) string {
	return fmt.Sprintf("match:%s:v%d:%s:%s", matchID, outcomeVersion, op, accountID)
}
