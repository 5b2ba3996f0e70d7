package services

import (
	"context"
	"fmt"

	"github.com/mikeka317/wager-arbiter/models"
)

type MatchService interface {
	Create(ctx context.Context, identity models.Identity, input CreateMatchInput) (*models.Match, error)
	Get(ctx context.Context, matchID string) (*models.Match, error)
	SignalReady(ctx context.Context, identity models.Identity, matchID, participantID string, expectedVersion int64) (*models.Match, error)
	SignalStart(ctx context.Context, identity models.Identity, matchID, participantID string, expectedVersion int64) (*models.Match, error)
}

type matchService struct {
	engine *Engine
}

func NewMatchService(engine *Engine) MatchService {
	return &matchService{engine: engine}
}

func (s *matchService) Create(ctx context.Context, identity models.Identity, input CreateMatchInput) (*models.Match, error) {
	if !identity.IsPrivileged() {
		return nil, ErrForbiddenOperation
	}
	match, err := s.engine.createMatch(ctx, s.engine.db, input, nil, nil)
	if err != nil {
		return nil, err
	}
	s.engine.publishCreated(ctx, match)
	return match, nil
}

func (s *matchService) Get(ctx context.Context, matchID string) (*models.Match, error) {
	return s.engine.load(ctx, matchID)
}

// authorizeParticipant: игрок действует только от своего имени, админ и система - за любого.
func authorizeParticipant(identity models.Identity, participantID string) error {
	if identity.IsPrivileged() {
		return nil
	}
	if identity.UserID == "" || identity.UserID != participantID {
		return ErrForbiddenOperation
	}
	return nil
}

func (s *matchService) SignalReady(ctx context.Context, identity models.Identity, matchID, participantID string, expectedVersion int64) (*models.Match, error) {
	if err := authorizeParticipant(identity, participantID); err != nil {
		return nil, err
	}
	return s.engine.guard(ctx, matchID, expectedVersion, identity.UserID, func(mu *mutation) error {
		m := mu.match
		if !m.HasParticipant(participantID) {
			return ErrNotParticipant
		}
		if m.Status != models.StatusPending {
			return fmt.Errorf("%w: match is %s", ErrInvalidState, m.Status)
		}
		flag := &m.ReadyA
		if participantID == m.ParticipantB.ID {
			flag = &m.ReadyB
		}
		if *flag {
			return nil
		}
		*flag = true
		mu.touch()
		if m.ReadyA && m.ReadyB {
			return mu.moveTo(models.StatusReady, "both participants ready")
		}
		return nil
	})
}

func (s *matchService) SignalStart(ctx context.Context, identity models.Identity, matchID, participantID string, expectedVersion int64) (*models.Match, error) {
	if err := authorizeParticipant(identity, participantID); err != nil {
		return nil, err
	}
	return s.engine.guard(ctx, matchID, expectedVersion, identity.UserID, func(mu *mutation) error {
		m := mu.match
		if !m.HasParticipant(participantID) {
			return ErrNotParticipant
		}
		if m.Status != models.StatusReady {
			return fmt.Errorf("%w: match is %s", ErrInvalidState, m.Status)
		}
		flag := &m.StartedA
		if participantID == m.ParticipantB.ID {
			flag = &m.StartedB
		}
		if *flag {
			return nil
		}
		*flag = true
		mu.touch()
		if !(m.StartedA && m.StartedB) {
			return nil
		}
		if err := mu.moveTo(models.StatusInProgress, "both participants started"); err != nil {
			return err
		}
		if s.engine.cfg.NoShowWait > 0 {
			mu.startTimer(models.TimerNoShowWait, s.engine.cfg.NoShowWait)
		}
		return nil
	})
}
