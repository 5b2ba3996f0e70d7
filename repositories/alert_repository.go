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
	ErrAlertNotFound            = errors.New("operator alert not found")
	ErrAlertAlreadyAcknowledged = errors.New("operator alert already acknowledged")
)

type AlertRepository interface {
	// Create не дублирует открытое оповещение того же типа по тому же матчу/турниру.
	Create(ctx context.Context, exec SQLExecutor, alert *models.OperatorAlert) (bool, error)
	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.OperatorAlert, error)
	List(ctx context.Context, exec SQLExecutor, openOnly bool, limit int) ([]*models.OperatorAlert, error)
	Acknowledge(ctx context.Context, exec SQLExecutor, id, by string, at time.Time) error
}

type sqlAlertRepository struct {
	db *sql.DB
}

func NewSQLAlertRepository(db *sql.DB) AlertRepository {
	return &sqlAlertRepository{db: db}
}

func (r *sqlAlertRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const alertColumns = `id, match_id, tournament_id, kind, details, created_at, acknowledged_at, acknowledged_by`

func (r *sqlAlertRepository) Create(ctx context.Context, exec SQLExecutor, alert *models.OperatorAlert) (bool, error) {
	executor := r.getExecutor(exec)

	var open int
	err := executor.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM operator_alerts
		WHERE kind = $1 AND acknowledged_at IS NULL
		  AND COALESCE(match_id, '') = $2 AND COALESCE(tournament_id, '') = $3`,
		string(alert.Kind), derefOrEmpty(alert.MatchID), derefOrEmpty(alert.TournamentID)).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("failed to check open %s alerts: %w", alert.Kind, err)
	}
	if open > 0 {
		return false, nil
	}

	query := `
		INSERT INTO operator_alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL)`
	_, err = executor.ExecContext(ctx, query,
		alert.ID, alert.MatchID, alert.TournamentID, string(alert.Kind), alert.Details, utc(alert.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert %s alert: %w", alert.Kind, err)
	}
	return true, nil
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func scanAlert(row rowScanner) (*models.OperatorAlert, error) {
	var (
		a              models.OperatorAlert
		kind           string
		matchID        sql.NullString
		tournamentID   sql.NullString
		acknowledgedAt sql.NullTime
		acknowledgedBy sql.NullString
	)
	if err := row.Scan(&a.ID, &matchID, &tournamentID, &kind, &a.Details, &a.CreatedAt, &acknowledgedAt, &acknowledgedBy); err != nil {
		return nil, err
	}
	a.Kind = models.AlertKind(kind)
	a.MatchID = nullString(matchID)
	a.TournamentID = nullString(tournamentID)
	a.CreatedAt = a.CreatedAt.UTC()
	a.AcknowledgedAt = nullTime(acknowledgedAt)
	a.AcknowledgedBy = nullString(acknowledgedBy)
	return &a, nil
}

func (r *sqlAlertRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.OperatorAlert, error) {
	alert, err := scanAlert(r.getExecutor(exec).QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM operator_alerts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to scan alert %s: %w", id, err)
	}
	return alert, nil
}

func (r *sqlAlertRepository) List(ctx context.Context, exec SQLExecutor, openOnly bool, limit int) ([]*models.OperatorAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM operator_alerts`
	if openOnly {
		query += ` WHERE acknowledged_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operator alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*models.OperatorAlert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operator alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (r *sqlAlertRepository) Acknowledge(ctx context.Context, exec SQLExecutor, id, by string, at time.Time) error {
	executor := r.getExecutor(exec)
	result, err := executor.ExecContext(ctx, `
		UPDATE operator_alerts SET acknowledged_at = $1, acknowledged_by = $2
		WHERE id = $3 AND acknowledged_at IS NULL`,
		utc(at), by, id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert %s: %w", id, err)
	}
	if ok, err := affected(result); err != nil {
		return err
	} else if !ok {
		if _, err := r.GetByID(ctx, executor, id); err != nil {
			return err
		}
		return ErrAlertAlreadyAcknowledged
	}
	return nil
}
