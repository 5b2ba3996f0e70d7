package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type MatchStatus string

const (
	StatusPending               MatchStatus = "pending"
	StatusReady                 MatchStatus = "ready"
	StatusInProgress            MatchStatus = "in_progress"
	StatusScorecardWaiting      MatchStatus = "scorecard_waiting"
	StatusScorecardSubmitted    MatchStatus = "scorecard_submitted"
	StatusScorecardConflict     MatchStatus = "scorecard_conflict"
	StatusAIVerificationWaiting MatchStatus = "ai_verification_waiting"
	StatusAIVerification        MatchStatus = "ai_verification"
	StatusCompleted             MatchStatus = "completed"
	StatusDisputed              MatchStatus = "disputed"
	StatusResolved              MatchStatus = "resolved"
)

// HasOutcome - исход матча определён (победитель или возврат ставок).
func (s MatchStatus) HasOutcome() bool {
	return s == StatusCompleted || s == StatusResolved
}

type OutcomeKind string

const (
	OutcomeWin     OutcomeKind = "win"
	OutcomeForfeit OutcomeKind = "forfeit"
	OutcomeRefund  OutcomeKind = "refund"
)

type ParticipantRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

type Match struct {
	ID           string          `json:"id"`
	TournamentID *string         `json:"tournamentId,omitempty"`
	BracketUID   *string         `json:"bracketUid,omitempty"`
	Game         string          `json:"game"`
	Platform     string          `json:"platform"`
	ParticipantA ParticipantRef  `json:"participantA"`
	ParticipantB ParticipantRef  `json:"participantB"`
	Stake        decimal.Decimal `json:"stake"`
	Status       MatchStatus     `json:"status"`

	ReadyA   bool `json:"readyA"`
	ReadyB   bool `json:"readyB"`
	StartedA bool `json:"startedA"`
	StartedB bool `json:"startedB"`

	WinnerID            *string      `json:"winnerId,omitempty"`
	Outcome             *OutcomeKind `json:"outcome,omitempty"`
	OutcomeVersion      *int64       `json:"outcomeVersion,omitempty"`
	ArbitrationFailures int          `json:"arbitrationFailures"`
	Version             int64        `json:"version"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`

	Scorecards []Scorecard      `json:"scorecards"`
	Proofs     []ProofBundle    `json:"proofs"`
	Verdicts   []AIVerdict      `json:"verdicts"`
	Dispute    *Dispute         `json:"dispute,omitempty"`
	Timer      *EscalationTimer `json:"timer,omitempty"`
	History    []Transition     `json:"history"`
}

func (m *Match) HasParticipant(participantID string) bool {
	return participantID != "" && (participantID == m.ParticipantA.ID || participantID == m.ParticipantB.ID)
}

// Opponent возвращает соперника указанного участника.
func (m *Match) Opponent(participantID string) (string, bool) {
	switch participantID {
	case m.ParticipantA.ID:
		return m.ParticipantB.ID, true
	case m.ParticipantB.ID:
		return m.ParticipantA.ID, true
	}
	return "", false
}

// LoserID пустой, пока победитель не записан.
func (m *Match) LoserID() string {
	if m.WinnerID == nil {
		return ""
	}
	loser, _ := m.Opponent(*m.WinnerID)
	return loser
}

func (m *Match) ScorecardBy(participantID string) *Scorecard {
	for i := range m.Scorecards {
		if m.Scorecards[i].SubmitterID == participantID {
			return &m.Scorecards[i]
		}
	}
	return nil
}

func (m *Match) HasProofFrom(participantID string) bool {
	for _, p := range m.Proofs {
		if p.SubmitterID == participantID {
			return true
		}
	}
	return false
}

// ProofSubmitters - уникальные отправители доказательств в порядке подачи.
func (m *Match) ProofSubmitters() []string {
	seen := make(map[string]bool, 2)
	submitters := make([]string, 0, 2)
	for _, p := range m.Proofs {
		if !seen[p.SubmitterID] {
			seen[p.SubmitterID] = true
			submitters = append(submitters, p.SubmitterID)
		}
	}
	return submitters
}

func (m *Match) LatestVerdict() *AIVerdict {
	if len(m.Verdicts) == 0 {
		return nil
	}
	return &m.Verdicts[len(m.Verdicts)-1]
}

func (m *Match) ParticipantIDs() []string {
	return []string{m.ParticipantA.ID, m.ParticipantB.ID}
}

type Scorecard struct {
	MatchID     string    `json:"matchId"`
	SubmitterID string    `json:"submitterId"`
	ScoreA      int       `json:"scoreA"`
	ScoreB      int       `json:"scoreB"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Agrees сравнивает протоколы поле за полем, без усреднения.
func (s Scorecard) Agrees(other Scorecard) bool {
	return s.ScoreA == other.ScoreA && s.ScoreB == other.ScoreB
}

type ProofBundle struct {
	ID           string    `json:"id"`
	MatchID      string    `json:"matchId"`
	SubmitterID  string    `json:"submitterId"`
	EvidenceRefs []string  `json:"evidenceRefs"`
	Description  string    `json:"description"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

type EvidenceQuality string

const (
	EvidenceHigh   EvidenceQuality = "high"
	EvidenceMedium EvidenceQuality = "medium"
	EvidenceLow    EvidenceQuality = "low"
)

func (q EvidenceQuality) Valid() bool {
	switch q {
	case EvidenceHigh, EvidenceMedium, EvidenceLow:
		return true
	}
	return false
}

type AIVerdict struct {
	ID                  string          `json:"id"`
	MatchID             string          `json:"matchId"`
	WinnerParticipantID string          `json:"winnerParticipantId"`
	Confidence          float64         `json:"confidence"`
	EvidenceQuality     EvidenceQuality `json:"evidenceQuality"`
	Reasoning           string          `json:"reasoning"`
	Suggestions         []string        `json:"suggestions"`
	ProducedAt          time.Time       `json:"producedAt"`
}

type Transition struct {
	MatchID    string      `json:"matchId"`
	FromStatus MatchStatus `json:"fromStatus"`
	ToStatus   MatchStatus `json:"toStatus"`
	Version    int64       `json:"version"`
	ActorID    string      `json:"actorId"`
	Reason     string      `json:"reason,omitempty"`
	At         time.Time   `json:"at"`
}
