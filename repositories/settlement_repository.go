package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mikeka317/wager-arbiter/models"
)

var ErrSettlementNotFound = errors.New("settlement instruction not found")

// SettlementRepository - outbox расчётных инструкций. Запись идёт в одной транзакции с исходом матча.
type SettlementRepository interface {
	// Insert возвращает false, если инструкция с таким ключом идемпотентности уже есть.
	Insert(ctx context.Context, exec SQLExecutor, instruction *models.SettlementInstruction) (bool, error)
	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.SettlementInstruction, error)
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID string) ([]*models.SettlementInstruction, error)
	ListDispatchable(ctx context.Context, exec SQLExecutor, leaseExpiredBefore time.Time, limit int) ([]*models.SettlementInstruction, error)
	Claim(ctx context.Context, exec SQLExecutor, id string, at, leaseExpiredBefore time.Time) (bool, error)
	MarkApplied(ctx context.Context, exec SQLExecutor, id string, attempts int, at time.Time) error
	Release(ctx context.Context, exec SQLExecutor, id string, attempts int, lastError string) error
	MarkFailed(ctx context.Context, exec SQLExecutor, id string, attempts int, lastError string) error
	CancelPending(ctx context.Context, exec SQLExecutor, id string) (bool, error)
	CancelDependents(ctx context.Context, exec SQLExecutor, reversedID string) (int64, error)
}

type sqlSettlementRepository struct{}

func NewSQLSettlementRepository() SettlementRepository {
	return &sqlSettlementRepository{}
}

const settlementColumns = `
	id, match_id, outcome_version, operation, account_id, amount_cents, idempotency_key,
	reverses_id, status, attempts, last_error, created_at, claimed_at, applied_at`

func scanSettlement(row rowScanner) (*models.SettlementInstruction, error) {
	var (
		s           models.SettlementInstruction
		op          string
		status      string
		amountCents int64
		reversesID  sql.NullString
		lastError   sql.NullString
		claimedAt   sql.NullTime
		appliedAt   sql.NullTime
	)
	err := row.Scan(&s.ID, &s.MatchID, &s.OutcomeVersion, &op, &s.AccountID, &amountCents, &s.IdempotencyKey,
		&reversesID, &status, &s.Attempts, &lastError, &s.CreatedAt, &claimedAt, &appliedAt)
	if err != nil {
		return nil, err
	}
	s.Operation = models.SettlementOp(op)
	s.Status = models.SettlementStatus(status)
	s.Amount = fromCents(amountCents)
	s.ReversesID = nullString(reversesID)
	s.LastError = nullString(lastError)
	s.CreatedAt = s.CreatedAt.UTC()
	s.ClaimedAt = nullTime(claimedAt)
	s.AppliedAt = nullTime(appliedAt)
	return &s, nil
}

func (r *sqlSettlementRepository) Insert(ctx context.Context, exec SQLExecutor, s *models.SettlementInstruction) (bool, error) {
	query := `
		INSERT INTO settlements (` + settlementColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, $11, NULL, NULL)
		ON CONFLICT (idempotency_key) DO NOTHING`

	result, err := exec.ExecContext(ctx, query,
		s.ID, s.MatchID, s.OutcomeVersion, string(s.Operation), s.AccountID, toCents(s.Amount),
		s.IdempotencyKey, s.ReversesID, string(s.Status), s.Attempts, utc(s.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert settlement %s: %w", s.IdempotencyKey, err)
	}
	return affected(result)
}

func (r *sqlSettlementRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.SettlementInstruction, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE id = $1`

	s, err := scanSettlement(exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettlementNotFound
		}
		return nil, fmt.Errorf("failed to scan settlement %s: %w", id, err)
	}
	return s, nil
}

func (r *sqlSettlementRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID string) ([]*models.SettlementInstruction, error) {
	query := `
		SELECT ` + settlementColumns + `
		FROM settlements
		WHERE match_id = $1
		ORDER BY outcome_version ASC, created_at ASC, idempotency_key ASC`
	return r.list(ctx, exec, query, matchID)
}

// ListDispatchable - ожидающие инструкции и зависшие с истёкшей арендой.
// Компенсация готова к отправке только после проведения исходной инструкции.
func (r *sqlSettlementRepository) ListDispatchable(ctx context.Context, exec SQLExecutor, leaseExpiredBefore time.Time, limit int) ([]*models.SettlementInstruction, error) {
	query := `
		SELECT ` + settlementColumns + `
		FROM settlements s
		WHERE (s.status = $1 AND (s.reverses_id IS NULL OR EXISTS (
				SELECT 1 FROM settlements o WHERE o.id = s.reverses_id AND o.status = $2)))
		   OR (s.status = $3 AND s.claimed_at < $4)
		ORDER BY s.created_at ASC
		LIMIT $5`
	return r.list(ctx, exec, query,
		string(models.SettlementPending), string(models.SettlementApplied),
		string(models.SettlementInFlight), utc(leaseExpiredBefore), limit)
}

func (r *sqlSettlementRepository) list(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) ([]*models.SettlementInstruction, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	instructions := make([]*models.SettlementInstruction, 0)
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		instructions = append(instructions, s)
	}
	return instructions, rows.Err()
}

func (r *sqlSettlementRepository) Claim(ctx context.Context, exec SQLExecutor, id string, at, leaseExpiredBefore time.Time) (bool, error) {
	result, err := exec.ExecContext(ctx, `
		UPDATE settlements SET status = $1, claimed_at = $2
		WHERE id = $3 AND (status = $4 OR (status = $1 AND claimed_at < $5))`,
		string(models.SettlementInFlight), utc(at), id, string(models.SettlementPending), utc(leaseExpiredBefore))
	if err != nil {
		return false, fmt.Errorf("failed to claim settlement %s: %w", id, err)
	}
	return affected(result)
}

func (r *sqlSettlementRepository) MarkApplied(ctx context.Context, exec SQLExecutor, id string, attempts int, at time.Time) error {
	result, err := exec.ExecContext(ctx, `
		UPDATE settlements SET status = $1, attempts = attempts + $2, last_error = NULL, applied_at = $3
		WHERE id = $4 AND status = $5`,
		string(models.SettlementApplied), attempts, utc(at), id, string(models.SettlementInFlight))
	if err != nil {
		return fmt.Errorf("failed to mark settlement %s applied: %w", id, err)
	}
	return checkAffectedRows(result, ErrSettlementNotFound)
}

func (r *sqlSettlementRepository) Release(ctx context.Context, exec SQLExecutor, id string, attempts int, lastError string) error {
	return r.finish(ctx, exec, id, models.SettlementPending, attempts, lastError)
}

func (r *sqlSettlementRepository) MarkFailed(ctx context.Context, exec SQLExecutor, id string, attempts int, lastError string) error {
	return r.finish(ctx, exec, id, models.SettlementFailed, attempts, lastError)
}

func (r *sqlSettlementRepository) finish(ctx context.Context, exec SQLExecutor, id string, status models.SettlementStatus, attempts int, lastError string) error {
	result, err := exec.ExecContext(ctx, `
		UPDATE settlements SET status = $1, attempts = attempts + $2, last_error = $3, claimed_at = NULL
		WHERE id = $4 AND status = $5`,
		string(status), attempts, lastError, id, string(models.SettlementInFlight))
	if err != nil {
		return fmt.Errorf("failed to move settlement %s to %s: %w", id, status, err)
	}
	return checkAffectedRows(result, ErrSettlementNotFound)
}

func (r *sqlSettlementRepository) CancelPending(ctx context.Context, exec SQLExecutor, id string) (bool, error) {
	result, err := exec.ExecContext(ctx,
		`UPDATE settlements SET status = $1 WHERE id = $2 AND status = $3`,
		string(models.SettlementCancelled), id, string(models.SettlementPending))
	if err != nil {
		return false, fmt.Errorf("failed to cancel settlement %s: %w", id, err)
	}
	return affected(result)
}

func (r *sqlSettlementRepository) CancelDependents(ctx context.Context, exec SQLExecutor, reversedID string) (int64, error) {
	result, err := exec.ExecContext(ctx,
		`UPDATE settlements SET status = $1 WHERE reverses_id = $2 AND status = $3`,
		string(models.SettlementCancelled), reversedID, string(models.SettlementPending))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel compensations of settlement %s: %w", reversedID, err)
	}
	return result.RowsAffected()
}
