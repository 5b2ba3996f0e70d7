package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mikeka317/wager-arbiter/models"
)

var (
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrSlotNotFound       = errors.New("bracket slot not found")
	ErrSlotAlreadyLinked  = errors.New("bracket slot already has a match")
)

type TournamentRepository interface {
	Create(ctx context.Context, exec SQLExecutor, tournament *models.Tournament) error
	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Tournament, error)
	ListActiveIDs(ctx context.Context, exec SQLExecutor) ([]string, error)
	Complete(ctx context.Context, exec SQLExecutor, id string, championID *string, at time.Time) error

	CreateSlot(ctx context.Context, exec SQLExecutor, slot *models.BracketSlot) error
	ListSlots(ctx context.Context, exec SQLExecutor, tournamentID string) ([]*models.BracketSlot, error)
	// AttachMatch привязывает матч к слоту, если он ещё не привязан.
	AttachMatch(ctx context.Context, exec SQLExecutor, tournamentID, uid, matchID string, participantA, participantB string) error
	DecideSlot(ctx context.Context, exec SQLExecutor, slot *models.BracketSlot) error
	UpdateSlotWinner(ctx context.Context, exec SQLExecutor, tournamentID, uid string, winnerID *string) error
}

type sqlTournamentRepository struct {
	db *sql.DB
}

func NewSQLTournamentRepository(db *sql.DB) TournamentRepository {
	return &sqlTournamentRepository{db: db}
}

func (r *sqlTournamentRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *sqlTournamentRepository) Create(ctx context.Context, exec SQLExecutor, t *models.Tournament) error {
	participants, err := json.Marshal(t.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode tournament participants: %w", err)
	}

	query := `
		INSERT INTO tournaments
			(id, name, game, platform, stake_cents, status, rounds, champion_id, created_by, participants, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8, $9, $10, NULL)`

	_, err = r.getExecutor(exec).ExecContext(ctx, query,
		t.ID, t.Name, t.Game, t.Platform, toCents(t.Stake), string(t.Status), t.Rounds,
		t.CreatedBy, string(participants), utc(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert tournament %s: %w", t.ID, err)
	}
	return nil
}

func (r *sqlTournamentRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Tournament, error) {
	query := `
		SELECT id, name, game, platform, stake_cents, status, rounds, champion_id, created_by, participants, created_at, completed_at
		FROM tournaments
		WHERE id = $1`

	var (
		t            models.Tournament
		stakeCents   int64
		status       string
		championID   sql.NullString
		participants string
		completedAt  sql.NullTime
	)
	err := r.getExecutor(exec).QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Game, &t.Platform, &stakeCents, &status, &t.Rounds,
		&championID, &t.CreatedBy, &participants, &t.CreatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to scan tournament by id %s: %w", id, err)
	}

	t.Stake = fromCents(stakeCents)
	t.Status = models.TournamentStatus(status)
	t.ChampionID = nullString(championID)
	t.CreatedAt = t.CreatedAt.UTC()
	t.CompletedAt = nullTime(completedAt)
	if err := json.Unmarshal([]byte(participants), &t.Participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants of tournament %s: %w", id, err)
	}
	return &t, nil
}

func (r *sqlTournamentRepository) ListActiveIDs(ctx context.Context, exec SQLExecutor) ([]string, error) {
	rows, err := r.getExecutor(exec).QueryContext(ctx,
		`SELECT id FROM tournaments WHERE status = $1 ORDER BY created_at ASC`, string(models.TournamentActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query active tournaments: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan active tournament id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *sqlTournamentRepository) Complete(ctx context.Context, exec SQLExecutor, id string, championID *string, at time.Time) error {
	result, err := r.getExecutor(exec).ExecContext(ctx, `
		UPDATE tournaments SET status = $1, champion_id = $2, completed_at = $3
		WHERE id = $4 AND status = $5`,
		string(models.TournamentCompleted), championID, utc(at), id, string(models.TournamentActive))
	if err != nil {
		return fmt.Errorf("failed to complete tournament %s: %w", id, err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

const slotColumns = `
	tournament_id, uid, round, order_in_round, participant_a, participant_b, source_a_uid, source_b_uid,
	is_bye, bye_participant_id, match_id, decided, winner_id, decided_at`

func (r *sqlTournamentRepository) CreateSlot(ctx context.Context, exec SQLExecutor, s *models.BracketSlot) error {
	query := `
		INSERT INTO bracket_slots (` + slotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.getExecutor(exec).ExecContext(ctx, query,
		s.TournamentID, s.UID, s.Round, s.OrderInRound, s.ParticipantA, s.ParticipantB, s.SourceAUID, s.SourceBUID,
		s.IsBye, s.ByeParticipantID, s.MatchID, s.Decided, s.WinnerID, utcPtr(s.DecidedAt))
	if err != nil {
		return fmt.Errorf("failed to insert bracket slot %s/%s: %w", s.TournamentID, s.UID, err)
	}
	return nil
}

func (r *sqlTournamentRepository) ListSlots(ctx context.Context, exec SQLExecutor, tournamentID string) ([]*models.BracketSlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM bracket_slots
		WHERE tournament_id = $1
		ORDER BY round ASC, order_in_round ASC`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bracket slots for tournament %s: %w", tournamentID, err)
	}
	defer rows.Close()

	slots := make([]*models.BracketSlot, 0)
	for rows.Next() {
		var (
			s                                 models.BracketSlot
			participantA, participantB        sql.NullString
			sourceA, sourceB                  sql.NullString
			byeParticipant, matchID, winnerID sql.NullString
			decidedAt                         sql.NullTime
		)
		if err := rows.Scan(&s.TournamentID, &s.UID, &s.Round, &s.OrderInRound, &participantA, &participantB,
			&sourceA, &sourceB, &s.IsBye, &byeParticipant, &matchID, &s.Decided, &winnerID, &decidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bracket slot for tournament %s: %w", tournamentID, err)
		}
		s.ParticipantA = nullString(participantA)
		s.ParticipantB = nullString(participantB)
		s.SourceAUID = nullString(sourceA)
		s.SourceBUID = nullString(sourceB)
		s.ByeParticipantID = nullString(byeParticipant)
		s.MatchID = nullString(matchID)
		s.WinnerID = nullString(winnerID)
		s.DecidedAt = nullTime(decidedAt)
		slots = append(slots, &s)
	}
	return slots, rows.Err()
}

func (r *sqlTournamentRepository) AttachMatch(ctx context.Context, exec SQLExecutor, tournamentID, uid, matchID string, participantA, participantB string) error {
	result, err := r.getExecutor(exec).ExecContext(ctx, `
		UPDATE bracket_slots SET match_id = $1, participant_a = $2, participant_b = $3
		WHERE tournament_id = $4 AND uid = $5 AND match_id IS NULL AND decided = $6`,
		matchID, participantA, participantB, tournamentID, uid, false)
	if err != nil {
		return fmt.Errorf("failed to attach match %s to slot %s/%s: %w", matchID, tournamentID, uid, err)
	}
	return checkAffectedRows(result, ErrSlotAlreadyLinked)
}

// DecideSlot фиксирует итог слота (победитель, bye или пустой слот) один раз.
func (r *sqlTournamentRepository) DecideSlot(ctx context.Context, exec SQLExecutor, s *models.BracketSlot) error {
	result, err := r.getExecutor(exec).ExecContext(ctx, `
		UPDATE bracket_slots
		SET participant_a = $1, participant_b = $2, is_bye = $3, bye_participant_id = $4,
		    decided = $5, winner_id = $6, decided_at = $7
		WHERE tournament_id = $8 AND uid = $9 AND decided = $10`,
		s.ParticipantA, s.ParticipantB, s.IsBye, s.ByeParticipantID, true, s.WinnerID, utcPtr(s.DecidedAt),
		s.TournamentID, s.UID, false)
	if err != nil {
		return fmt.Errorf("failed to decide slot %s/%s: %w", s.TournamentID, s.UID, err)
	}
	return checkAffectedRows(result, ErrSlotNotFound)
}

func (r *sqlTournamentRepository) UpdateSlotWinner(ctx context.Context, exec SQLExecutor, tournamentID, uid string, winnerID *string) error {
	result, err := r.getExecutor(exec).ExecContext(ctx,
		`UPDATE bracket_slots SET winner_id = $1 WHERE tournament_id = $2 AND uid = $3`,
		winnerID, tournamentID, uid)
	if err != nil {
		return fmt.Errorf("failed to update winner of slot %s/%s: %w", tournamentID, uid, err)
	}
	return checkAffectedRows(result, ErrSlotNotFound)
}
