package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mikeka317/wager-arbiter/models"
	"github.com/mikeka317/wager-arbiter/repositories"
)

type RaiseDisputeInput struct {
	Reason   string   `json:"reason"`
	Evidence []string `json:"evidence"`
}

type ResolveDisputeInput struct {
	Decision   models.DisputeDecision `json:"decision"`
	AdminNotes string                 `json:"adminNotes"`
}

type DisputeService interface {
	Raise(ctx context.Context, identity models.Identity, matchID string, input RaiseDisputeInput, expectedVersion int64) (*models.Dispute, error)
	// Resolve: expectedVersion = 0 означает текущую версию матча.
	Resolve(ctx context.Context, identity models.Identity, disputeID string, input ResolveDisputeInput, expectedVersion int64) (*models.Match, error)
	Get(ctx context.Context, disputeID string) (*models.Dispute, error)
}

type disputeService struct {
	engine *Engine
}

func NewDisputeService(engine *Engine) DisputeService {
	return &disputeService{engine: engine}
}

func (s *disputeService) Get(ctx context.Context, disputeID string) (*models.Dispute, error) {
	d, err := s.engine.disputes.GetByID(ctx, s.engine.db, disputeID)
	if err != nil {
		if errors.Is(err, repositories.ErrDisputeNotFound) {
			return nil, ErrDisputeNotFound
		}
		return nil, err
	}
	return d, nil
}

func (s *disputeService) Raise(ctx context.Context, identity models.Identity, matchID string, input RaiseDisputeInput, expectedVersion int64) (*models.Dispute, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", ErrValidationFailed)
	}
	evidence := input.Evidence
	if evidence == nil {
		evidence = []string{}
	}

	var dispute *models.Dispute
	_, err := s.engine.guard(ctx, matchID, expectedVersion, identity.UserID, func(mu *mutation) error {
		m := mu.match
		if m.Dispute != nil {
			return ErrDisputeExists
		}
		if m.Status != models.StatusCompleted {
			return fmt.Errorf("%w: disputes can only be raised on completed matches, match is %s", ErrInvalidState, m.Status)
		}
		if derefOutcome(m.Outcome) == models.OutcomeRefund {
			return ErrRefundNotDisputed
		}
		if identity.UserID == "" || identity.UserID != m.LoserID() {
			return ErrNotLosingParty
		}

		dispute = &models.Dispute{
			ID:        uuid.NewString(),
			MatchID:   m.ID,
			RaisedBy:  identity.UserID,
			Reason:    reason,
			Evidence:  evidence,
			Status:    models.DisputePending,
			CreatedAt: mu.now,
		}
		if err := s.engine.disputes.Create(ctx, mu.tx, dispute); err != nil {
			if errors.Is(err, repositories.ErrDisputeExists) {
				return ErrDisputeExists
			}
			return err
		}
		m.Dispute = dispute
		return mu.moveTo(models.StatusDisputed, "dispute raised by losing participant")
	})
	if err != nil {
		return nil, err
	}
	return dispute, nil
}

func (s *disputeService) Resolve(ctx context.Context, identity models.Identity, disputeID string, input ResolveDisputeInput, expectedVersion int64) (*models.Match, error) {
	if !identity.IsAdmin() {
		return nil, ErrForbiddenOperation
	}
	if !input.Decision.Valid() {
		return nil, ErrInvalidDecision
	}

	dispute, err := s.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status != models.DisputePending {
		return nil, ErrDisputeClosed
	}
	if expectedVersion == 0 {
		match, err := s.engine.load(ctx, dispute.MatchID)
		if err != nil {
			return nil, err
		}
		expectedVersion = match.Version
	}

	return s.engine.guard(ctx, dispute.MatchID, expectedVersion, identity.UserID, func(mu *mutation) error {
		m := mu.match
		if m.Dispute == nil || m.Dispute.ID != disputeID {
			return ErrDisputeNotFound
		}
		if m.Dispute.Status != models.DisputePending || m.Status != models.StatusDisputed {
			return ErrDisputeClosed
		}

		decision := input.Decision
		notes := strings.TrimSpace(input.AdminNotes)
		resolvedBy := identity.UserID
		resolvedAt := mu.now
		m.Dispute.Status = models.DisputeResolved
		m.Dispute.Resolution = &decision
		m.Dispute.AdminNotes = &notes
		m.Dispute.ResolvedBy = &resolvedBy
		m.Dispute.ResolvedAt = &resolvedAt
		if err := s.engine.disputes.Resolve(ctx, mu.tx, m.Dispute); err != nil {
			if errors.Is(err, repositories.ErrDisputeNotPending) {
				return ErrDisputeClosed
			}
			return err
		}

		switch decision {
		case models.DecisionRevert:
			loser := m.LoserID()
			mu.setOutcome(models.OutcomeWin, &loser)
		case models.DecisionRefund:
			mu.setOutcome(models.OutcomeRefund, nil)
		}
		return mu.moveTo(models.StatusResolved, "dispute resolved: "+string(decision))
	})
}
