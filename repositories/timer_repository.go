package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mikeka317/wager-arbiter/models"
)

var (
	ErrTimerNotFound = errors.New("escalation timer not found")
	ErrTimerActive   = errors.New("match already has an active escalation timer")
)

type TimerRepository interface {
	Create(ctx context.Context, exec SQLExecutor, timer *models.EscalationTimer) error
	GetActive(ctx context.Context, exec SQLExecutor, matchID string) (*models.EscalationTimer, error)
	CancelActive(ctx context.Context, exec SQLExecutor, matchID string, at time.Time) (bool, error)
	// MarkFired срабатывает не более одного раза: повторный вызов возвращает false.
	MarkFired(ctx context.Context, exec SQLExecutor, id string, at time.Time) (bool, error)
	Restamp(ctx context.Context, exec SQLExecutor, id string, version int64) error
	ListDue(ctx context.Context, exec SQLExecutor, now time.Time, limit int) ([]*models.EscalationTimer, error)
	ListUpcoming(ctx context.Context, exec SQLExecutor, limit int) ([]*models.EscalationTimer, error)
}

type sqlTimerRepository struct{}

func NewSQLTimerRepository() TimerRepository {
	return &sqlTimerRepository{}
}

const timerColumns = `id, match_id, kind, deadline, scheduled_version, fired, cancelled, created_at`

func scanTimer(row rowScanner) (*models.EscalationTimer, error) {
	var t models.EscalationTimer
	var kind string
	if err := row.Scan(&t.ID, &t.MatchID, &kind, &t.Deadline, &t.ScheduledVersion, &t.Fired, &t.Cancelled, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Kind = models.TimerKind(kind)
	t.Deadline = t.Deadline.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (r *sqlTimerRepository) Create(ctx context.Context, exec SQLExecutor, timer *models.EscalationTimer) error {
	query := `
		INSERT INTO escalation_timers (` + timerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := exec.ExecContext(ctx, query,
		timer.ID, timer.MatchID, string(timer.Kind), utc(timer.Deadline), timer.ScheduledVersion,
		timer.Fired, timer.Cancelled, utc(timer.CreatedAt))
	if isUniqueViolation(err) {
		return ErrTimerActive
	}
	if err != nil {
		return fmt.Errorf("failed to insert %s timer for match %s: %w", timer.Kind, timer.MatchID, err)
	}
	return nil
}

func (r *sqlTimerRepository) GetActive(ctx context.Context, exec SQLExecutor, matchID string) (*models.EscalationTimer, error) {
	query := `
		SELECT ` + timerColumns + `
		FROM escalation_timers
		WHERE match_id = $1 AND fired = $2 AND cancelled = $2`

	timer, err := scanTimer(exec.QueryRowContext(ctx, query, matchID, false))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTimerNotFound
		}
		return nil, fmt.Errorf("failed to scan active timer for match %s: %w", matchID, err)
	}
	return timer, nil
}

func (r *sqlTimerRepository) CancelActive(ctx context.Context, exec SQLExecutor, matchID string, at time.Time) (bool, error) {
	result, err := exec.ExecContext(ctx, `
		UPDATE escalation_timers SET cancelled = $1, closed_at = $2
		WHERE match_id = $3 AND fired = $4 AND cancelled = $4`,
		true, utc(at), matchID, false)
	if err != nil {
		return false, fmt.Errorf("failed to cancel timer for match %s: %w", matchID, err)
	}
	return affected(result)
}

func (r *sqlTimerRepository) MarkFired(ctx context.Context, exec SQLExecutor, id string, at time.Time) (bool, error) {
	result, err := exec.ExecContext(ctx, `
		UPDATE escalation_timers SET fired = $1, closed_at = $2
		WHERE id = $3 AND fired = $4 AND cancelled = $4`,
		true, utc(at), id, false)
	if err != nil {
		return false, fmt.Errorf("failed to mark timer %s fired: %w", id, err)
	}
	return affected(result)
}

func (r *sqlTimerRepository) Restamp(ctx context.Context, exec SQLExecutor, id string, version int64) error {
	result, err := exec.ExecContext(ctx,
		`UPDATE escalation_timers SET scheduled_version = $1 WHERE id = $2 AND fired = $3 AND cancelled = $3`,
		version, id, false)
	if err != nil {
		return fmt.Errorf("failed to restamp timer %s: %w", id, err)
	}
	return checkAffectedRows(result, ErrTimerNotFound)
}

func (r *sqlTimerRepository) ListDue(ctx context.Context, exec SQLExecutor, now time.Time, limit int) ([]*models.EscalationTimer, error) {
	query := `
		SELECT ` + timerColumns + `
		FROM escalation_timers
		WHERE fired = $1 AND cancelled = $1 AND deadline <= $2
		ORDER BY deadline ASC
		LIMIT $3`
	return r.list(ctx, exec, query, false, utc(now), limit)
}

func (r *sqlTimerRepository) ListUpcoming(ctx context.Context, exec SQLExecutor, limit int) ([]*models.EscalationTimer, error) {
	query := `
		SELECT ` + timerColumns + `
		FROM escalation_timers
		WHERE fired = $1 AND cancelled = $1
		ORDER BY deadline ASC
		LIMIT $2`
	return r.list(ctx, exec, query, false, limit)
}

func (r *sqlTimerRepository) list(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) ([]*models.EscalationTimer, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation timers: %w", err)
	}
	defer rows.Close()

	timers := make([]*models.EscalationTimer, 0)
	for rows.Next() {
		timer, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation timer: %w", err)
		}
		timers = append(timers, timer)
	}
	return timers, rows.Err()
}
