package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mikeka317/wager-arbiter/models"
	"github.com/mikeka317/wager-arbiter/notify"
	"github.com/mikeka317/wager-arbiter/repositories"
)

// OperatorService - очередь оповещений для ручного разбора.
type OperatorService struct {
	alerts   repositories.AlertRepository
	notifier notify.Notifier
	now      Clock
	logger   *slog.Logger
}

func NewOperatorService(alerts repositories.AlertRepository, notifier notify.Notifier, clock Clock, logger *slog.Logger) *OperatorService {
	if clock == nil {
		clock = systemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OperatorService{alerts: alerts, notifier: notifier, now: clock, logger: logger}
}

// Raise записывает оповещение и уведомляет операторов. Открытый дубликат не создаётся повторно.
func (s *OperatorService) Raise(ctx context.Context, kind models.AlertKind, matchID, tournamentID *string, details string) (*models.OperatorAlert, error) {
	alert := &models.OperatorAlert{
		ID:           uuid.NewString(),
		MatchID:      matchID,
		TournamentID: tournamentID,
		Kind:         kind,
		Details:      details,
		CreatedAt:    s.now().UTC(),
	}
	created, err := s.alerts.Create(ctx, nil, alert)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, alert); err != nil {
			s.logger.WarnContext(ctx, "operator notification failed",
				slog.String("alert_id", alert.ID), slog.Any("error", err))
		}
	}
	return alert, nil
}

func (s *OperatorService) List(ctx context.Context, identity models.Identity, openOnly bool, limit int) ([]*models.OperatorAlert, error) {
	if !identity.IsAdmin() {
		return nil, ErrForbiddenOperation
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.alerts.List(ctx, nil, openOnly, limit)
}

func (s *OperatorService) Acknowledge(ctx context.Context, identity models.Identity, alertID string) (*models.OperatorAlert, error) {
	if !identity.IsAdmin() {
		return nil, ErrForbiddenOperation
	}
	err := s.alerts.Acknowledge(ctx, nil, alertID, identity.UserID, s.now().UTC())
	switch {
	case errors.Is(err, repositories.ErrAlertNotFound):
		return nil, ErrAlertNotFound
	case errors.Is(err, repositories.ErrAlertAlreadyAcknowledged):
		return nil, ErrAlertAcknowledged
	case err != nil:
		return nil, err
	}
	return s.alerts.GetByID(ctx, nil, alertID)
}
