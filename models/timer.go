package models

import "time"

type TimerKind string

const (
	TimerScorecardWait TimerKind = "scorecard_wait"
	TimerProofWait     TimerKind = "proof_wait"
	TimerNoShowWait    TimerKind = "no_show_wait"
)

// WaitingStatus - статус матча, который охраняет таймер этого типа.
func (k TimerKind) WaitingStatus() MatchStatus {
	switch k {
	case TimerScorecardWait:
		return StatusScorecardWaiting
	case TimerProofWait:
		return StatusAIVerificationWaiting
	case TimerNoShowWait:
		return StatusInProgress
	}
	return ""
}

type EscalationTimer struct {
	ID               string    `json:"id"`
	MatchID          string    `json:"matchId"`
	Kind             TimerKind `json:"kind"`
	Deadline         time.Time `json:"deadline"`
	ScheduledVersion int64     `json:"scheduledVersion"`
	Fired            bool      `json:"fired"`
	Cancelled        bool      `json:"cancelled"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (t *EscalationTimer) Active() bool {
	return t != nil && !t.Fired && !t.Cancelled
}

// TimerStatus отдаётся клиентам, опрашивающим таймер.
type TimerStatus struct {
	HasTimer        bool       `json:"hasTimer"`
	Kind            TimerKind  `json:"kind,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	TimeRemainingMs int64      `json:"timeRemainingMs"`
	Expired         bool       `json:"expired"`
}
