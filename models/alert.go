package models

import "time"

type AlertKind string

const (
	AlertArbitrationFailed     AlertKind = "arbitration_failed"
	AlertSettlementFailed      AlertKind = "settlement_failed"
	AlertBracketOutcomeChanged AlertKind = "bracket_outcome_changed"
	AlertTournamentNoChampion  AlertKind = "tournament_no_champion"
)

// OperatorAlert - запись в очереди ручного разбора.
type OperatorAlert struct {
	ID             string     `json:"id"`
	MatchID        *string    `json:"matchId,omitempty"`
	TournamentID   *string    `json:"tournamentId,omitempty"`
	Kind           AlertKind  `json:"kind"`
	Details        string     `json:"details"`
	CreatedAt      time.Time  `json:"createdAt"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy *string    `json:"acknowledgedBy,omitempty"`
}
