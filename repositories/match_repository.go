package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mikeka317/wager-arbiter/models"
)

var (
	ErrMatchNotFound     = errors.New("match not found")
	ErrVersionConflict   = errors.New("match version conflict")
	ErrMatchConflict     = errors.New("match already exists")
	ErrScorecardExists   = errors.New("scorecard already submitted by participant")
	ErrDisputeExists     = errors.New("dispute already exists for match")
	ErrDisputeNotFound   = errors.New("dispute not found")
	ErrDisputeNotPending = errors.New("dispute is not pending")
)

type MatchRepository interface {
	Create(ctx context.Context, exec SQLExecutor, match *models.Match) error
	// GetByID загружает агрегат матча целиком: протоколы, доказательства, вердикты, спор, активный таймер, историю.
	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Match, error)
	CompareAndSwap(ctx context.Context, exec SQLExecutor, match *models.Match, expectedVersion int64) error
	AppendTransitions(ctx context.Context, exec SQLExecutor, transitions []models.Transition) error
	IncrementArbitrationFailures(ctx context.Context, exec SQLExecutor, id string) (int, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID string) ([]*models.Match, error)
	ListArchivable(ctx context.Context, exec SQLExecutor, completedBefore time.Time, limit int) ([]string, error)
	MarkArchived(ctx context.Context, exec SQLExecutor, id string, at time.Time) error

	AddScorecard(ctx context.Context, exec SQLExecutor, scorecard *models.Scorecard) error
	AddProof(ctx context.Context, exec SQLExecutor, proof *models.ProofBundle) error
	AddVerdict(ctx context.Context, exec SQLExecutor, verdict *models.AIVerdict) error
}

type sqlMatchRepository struct {
	timers   TimerRepository
	disputes DisputeRepository
}

func NewSQLMatchRepository(timers TimerRepository, disputes DisputeRepository) MatchRepository {
	return &sqlMatchRepository{timers: timers, disputes: disputes}
}

const matchColumns = `
	id, tournament_id, bracket_uid, game, platform,
	participant_a_id, participant_a_name, participant_b_id, participant_b_name,
	stake_cents, status, ready_a, ready_b, started_a, started_b,
	winner_id, outcome, outcome_version, arbitration_failures, version,
	created_at, updated_at, completed_at, archived_at`

func (r *sqlMatchRepository) Create(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	query := `
		INSERT INTO matches (` + matchColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24)`

	_, err := exec.ExecContext(ctx, query,
		match.ID,
		match.TournamentID,
		match.BracketUID,
		match.Game,
		match.Platform,
		match.ParticipantA.ID,
		match.ParticipantA.DisplayName,
		match.ParticipantB.ID,
		match.ParticipantB.DisplayName,
		toCents(match.Stake),
		string(match.Status),
		match.ReadyA,
		match.ReadyB,
		match.StartedA,
		match.StartedB,
		match.WinnerID,
		outcomeValue(match.Outcome),
		match.OutcomeVersion,
		match.ArbitrationFailures,
		match.Version,
		utc(match.CreatedAt),
		utc(match.UpdatedAt),
		utcPtr(match.CompletedAt),
		utcPtr(match.ArchivedAt),
	)
	if isUniqueViolation(err) {
		return ErrMatchConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert match %s: %w", match.ID, err)
	}
	return nil
}

func outcomeValue(o *models.OutcomeKind) interface{} {
	if o == nil {
		return nil
	}
	return string(*o)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var (
		m              models.Match
		tournamentID   sql.NullString
		bracketUID     sql.NullString
		stakeCents     int64
		status         string
		winnerID       sql.NullString
		outcome        sql.NullString
		outcomeVersion sql.NullInt64
		completedAt    sql.NullTime
		archivedAt     sql.NullTime
	)
	err := row.Scan(
		&m.ID, &tournamentID, &bracketUID, &m.Game, &m.Platform,
		&m.ParticipantA.ID, &m.ParticipantA.DisplayName, &m.ParticipantB.ID, &m.ParticipantB.DisplayName,
		&stakeCents, &status, &m.ReadyA, &m.ReadyB, &m.StartedA, &m.StartedB,
		&winnerID, &outcome, &outcomeVersion, &m.ArbitrationFailures, &m.Version,
		&m.CreatedAt, &m.UpdatedAt, &completedAt, &archivedAt,
	)
	if err != nil {
		return nil, err
	}
	m.TournamentID = nullString(tournamentID)
	m.BracketUID = nullString(bracketUID)
	m.Stake = fromCents(stakeCents)
	m.Status = models.MatchStatus(status)
	m.WinnerID = nullString(winnerID)
	if outcome.Valid {
		kind := models.OutcomeKind(outcome.String)
		m.Outcome = &kind
	}
	m.OutcomeVersion = nullInt64(outcomeVersion)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	m.CompletedAt = nullTime(completedAt)
	m.ArchivedAt = nullTime(archivedAt)
	m.Scorecards = []models.Scorecard{}
	m.Proofs = []models.ProofBundle{}
	m.Verdicts = []models.AIVerdict{}
	m.History = []models.Transition{}
	return &m, nil
}

func (r *sqlMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	match, err := scanMatch(exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match by id %s: %w", id, err)
	}

	// Запросы выполняются последовательно: в транзакции SQLite доступно одно соединение.
	if match.Scorecards, err = r.listScorecards(ctx, exec, id); err != nil {
		return nil, err
	}
	if match.Proofs, err = r.listProofs(ctx, exec, id); err != nil {
		return nil, err
	}
	if match.Verdicts, err = r.listVerdicts(ctx, exec, id); err != nil {
		return nil, err
	}
	if match.History, err = r.listTransitions(ctx, exec, id); err != nil {
		return nil, err
	}
	if match.Dispute, err = r.disputes.GetByMatch(ctx, exec, id); err != nil && !errors.Is(err, ErrDisputeNotFound) {
		return nil, err
	}
	if match.Timer, err = r.timers.GetActive(ctx, exec, id); err != nil && !errors.Is(err, ErrTimerNotFound) {
		return nil, err
	}
	return match, nil
}

// CompareAndSwap сохраняет состояние матча, только если версия в базе равна ожидаемой.
func (r *sqlMatchRepository) CompareAndSwap(ctx context.Context, exec SQLExecutor, match *models.Match, expectedVersion int64) error {
	query := `
		UPDATE matches SET
			status = $1, ready_a = $2, ready_b = $3, started_a = $4, started_b = $5,
			winner_id = $6, outcome = $7, outcome_version = $8, arbitration_failures = $9,
			version = $10, updated_at = $11, completed_at = $12, archived_at = $13
		WHERE id = $14 AND version = $15`

	result, err := exec.ExecContext(ctx, query,
		string(match.Status),
		match.ReadyA,
		match.ReadyB,
		match.StartedA,
		match.StartedB,
		match.WinnerID,
		outcomeValue(match.Outcome),
		match.OutcomeVersion,
		match.ArbitrationFailures,
		match.Version,
		utc(match.UpdatedAt),
		utcPtr(match.CompletedAt),
		utcPtr(match.ArchivedAt),
		match.ID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update match %s: %w", match.ID, err)
	}
	return checkAffectedRows(result, ErrVersionConflict)
}

func (r *sqlMatchRepository) AppendTransitions(ctx context.Context, exec SQLExecutor, transitions []models.Transition) error {
	query := `
		INSERT INTO match_transitions (id, match_id, from_status, to_status, version, actor_id, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, t := range transitions {
		_, err := exec.ExecContext(ctx, query,
			uuid.NewString(), t.MatchID, string(t.FromStatus), string(t.ToStatus), t.Version, t.ActorID, t.Reason, utc(t.At))
		if err != nil {
			return fmt.Errorf("failed to insert transition %s->%s for match %s: %w", t.FromStatus, t.ToStatus, t.MatchID, err)
		}
	}
	return nil
}

func (r *sqlMatchRepository) listTransitions(ctx context.Context, exec SQLExecutor, matchID string) ([]models.Transition, error) {
	query := `
		SELECT match_id, from_status, to_status, version, actor_id, reason, at
		FROM match_transitions
		WHERE match_id = $1
		ORDER BY version ASC`

	rows, err := exec.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions for match %s: %w", matchID, err)
	}
	defer rows.Close()

	transitions := make([]models.Transition, 0)
	for rows.Next() {
		var t models.Transition
		var from, to string
		if err := rows.Scan(&t.MatchID, &from, &to, &t.Version, &t.ActorID, &t.Reason, &t.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition for match %s: %w", matchID, err)
		}
		t.FromStatus = models.MatchStatus(from)
		t.ToStatus = models.MatchStatus(to)
		t.At = t.At.UTC()
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// IncrementArbitrationFailures не меняет версию: это счётчик, а не переход.
func (r *sqlMatchRepository) IncrementArbitrationFailures(ctx context.Context, exec SQLExecutor, id string) (int, error) {
	result, err := exec.ExecContext(ctx,
		`UPDATE matches SET arbitration_failures = arbitration_failures + 1 WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to increment arbitration failures for match %s: %w", id, err)
	}
	if err := checkAffectedRows(result, ErrMatchNotFound); err != nil {
		return 0, err
	}

	var failures int
	err = exec.QueryRowContext(ctx, `SELECT arbitration_failures FROM matches WHERE id = $1`, id).Scan(&failures)
	if err != nil {
		return 0, fmt.Errorf("failed to read arbitration failures for match %s: %w", id, err)
	}
	return failures, nil
}

func (r *sqlMatchRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID string) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE tournament_id = $1 ORDER BY created_at ASC, id ASC`

	rows, err := exec.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for tournament %s: %w", tournamentID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match for tournament %s: %w", tournamentID, err)
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

// ListArchivable - матчи с исходом, у которых все расчёты проведены без ошибок, а окно спора закрыто
// (или спор уже разрешён).
func (r *sqlMatchRepository) ListArchivable(ctx context.Context, exec SQLExecutor, completedBefore time.Time, limit int) ([]string, error) {
	query := `
		SELECT m.id
		FROM matches m
		WHERE m.archived_at IS NULL
		  AND (m.status = $1 OR (m.status = $2 AND m.completed_at < $3))
		  AND NOT EXISTS (
			SELECT 1 FROM settlements s
			WHERE s.match_id = m.id AND s.status IN ($4, $5, $6)
		  )
		ORDER BY m.updated_at ASC
		LIMIT $7`

	rows, err := exec.QueryContext(ctx, query,
		string(models.StatusResolved), string(models.StatusCompleted), utc(completedBefore),
		string(models.SettlementPending), string(models.SettlementInFlight), string(models.SettlementFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archivable matches: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan archivable match id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *sqlMatchRepository) MarkArchived(ctx context.Context, exec SQLExecutor, id string, at time.Time) error {
	result, err := exec.ExecContext(ctx,
		`UPDATE matches SET archived_at = $1 WHERE id = $2 AND archived_at IS NULL`, utc(at), id)
	if err != nil {
		return fmt.Errorf("failed to archive match %s: %w", id, err)
	}
	return checkAffectedRows(result, ErrMatchNotFound)
}
