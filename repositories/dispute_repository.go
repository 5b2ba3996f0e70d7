package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mikeka317/wager-arbiter/models"
)

type DisputeRepository interface {
	Create(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error
	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Dispute, error)
	GetByMatch(ctx context.Context, exec SQLExecutor, matchID string) (*models.Dispute, error)
	// Resolve закрывает только спор в статусе pending.
	Resolve(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error
}

type sqlDisputeRepository struct{}

func NewSQLDisputeRepository() DisputeRepository {
	return &sqlDisputeRepository{}
}

const disputeColumns = `id, match_id, raised_by, reason, evidence, status, resolution, admin_notes, resolved_by, created_at, resolved_at`

func (r *sqlDisputeRepository) Create(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error {
	evidence, err := encodeStrings(dispute.Evidence)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO disputes (` + disputeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, NULL, $7, NULL)`

	_, err = exec.ExecContext(ctx, query,
		dispute.ID, dispute.MatchID, dispute.RaisedBy, dispute.Reason, evidence,
		string(dispute.Status), utc(dispute.CreatedAt))
	if isUniqueViolation(err) {
		return ErrDisputeExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert dispute for match %s: %w", dispute.MatchID, err)
	}
	return nil
}

func scanDispute(row rowScanner) (*models.Dispute, error) {
	var (
		d          models.Dispute
		evidence   string
		status     string
		resolution sql.NullString
		adminNotes sql.NullString
		resolvedBy sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(&d.ID, &d.MatchID, &d.RaisedBy, &d.Reason, &evidence, &status,
		&resolution, &adminNotes, &resolvedBy, &d.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if d.Evidence, err = decodeStrings(evidence); err != nil {
		return nil, err
	}
	d.Status = models.DisputeStatus(status)
	if resolution.Valid {
		decision := models.DisputeDecision(resolution.String)
		d.Resolution = &decision
	}
	d.AdminNotes = nullString(adminNotes)
	d.ResolvedBy = nullString(resolvedBy)
	d.CreatedAt = d.CreatedAt.UTC()
	d.ResolvedAt = nullTime(resolvedAt)
	return &d, nil
}

func (r *sqlDisputeRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`

	dispute, err := scanDispute(exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to scan dispute by id %s: %w", id, err)
	}
	return dispute, nil
}

func (r *sqlDisputeRepository) GetByMatch(ctx context.Context, exec SQLExecutor, matchID string) (*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE match_id = $1`

	dispute, err := scanDispute(exec.QueryRowContext(ctx, query, matchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to scan dispute for match %s: %w", matchID, err)
	}
	return dispute, nil
}

func (r *sqlDisputeRepository) Resolve(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error {
	query := `
		UPDATE disputes
		SET status = $1, resolution = $2, admin_notes = $3, resolved_by = $4, resolved_at = $5
		WHERE id = $6 AND status = $7`

	var resolution interface{}
	if dispute.Resolution != nil {
		resolution = string(*dispute.Resolution)
	}
	result, err := exec.ExecContext(ctx, query,
		string(models.DisputeResolved), resolution, dispute.AdminNotes, dispute.ResolvedBy,
		utcPtr(dispute.ResolvedAt), dispute.ID, string(models.DisputePending))
	if err != nil {
		return fmt.Errorf("failed to resolve dispute %s: %w", dispute.ID, err)
	}
	return checkAffectedRows(result, ErrDisputeNotPending)
}
