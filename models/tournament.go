package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TournamentStatus - статусы турнира на выбывание.
type TournamentStatus string

const (
	TournamentActive    TournamentStatus = "active"
	TournamentCompleted TournamentStatus = "completed"
)

// ParticipantEntry - участник в порядке посева.
type ParticipantEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// Tournament представляет турнир на выбывание со ставками.
type Tournament struct {
	ID           string             `json:"id" db:"id"`
	Name         string             `json:"name" db:"name"`
	Game         string             `json:"game" db:"game"`
	Platform     string             `json:"platform" db:"platform"`
	Stake        decimal.Decimal    `json:"stake" db:"stake_cents"`
	Status       TournamentStatus   `json:"status" db:"status"`
	Rounds       int                `json:"rounds" db:"rounds"`
	ChampionID   *string            `json:"championId,omitempty" db:"champion_id"`
	CreatedBy    string             `json:"createdBy" db:"created_by"`
	Participants []ParticipantEntry `json:"participants" db:"-"`
	CreatedAt    time.Time          `json:"createdAt" db:"created_at"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty" db:"completed_at"`

	// Опциональные связанные сущности (не мапятся напрямую)
	Slots   []BracketSlot `json:"slots,omitempty" db:"-"`
	Matches []Match       `json:"matches,omitempty" db:"-"`
}

// BracketSlot - узел сетки: матч раунда, bye или ещё не заполненное место.
type BracketSlot struct {
	TournamentID     string     `json:"tournamentId" db:"tournament_id"`
	UID              string     `json:"uid" db:"uid"`
	Round            int        `json:"round" db:"round"`
	OrderInRound     int        `json:"orderInRound" db:"order_in_round"`
	ParticipantA     *string    `json:"participantA,omitempty" db:"participant_a"`
	ParticipantB     *string    `json:"participantB,omitempty" db:"participant_b"`
	SourceAUID       *string    `json:"sourceAUid,omitempty" db:"source_a_uid"`
	SourceBUID       *string    `json:"sourceBUid,omitempty" db:"source_b_uid"`
	IsBye            bool       `json:"isBye" db:"is_bye"`
	ByeParticipantID *string    `json:"byeParticipantId,omitempty" db:"bye_participant_id"`
	MatchID          *string    `json:"matchId,omitempty" db:"match_id"`
	Decided          bool       `json:"decided" db:"decided"`
	WinnerID         *string    `json:"winnerId,omitempty" db:"winner_id"`
	DecidedAt        *time.Time `json:"decidedAt,omitempty" db:"decided_at"`
}
