package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikeka317/wager-arbiter/models"
	"github.com/mikeka317/wager-arbiter/repositories"
)

type ScorecardInput struct {
	SubmitterID string `json:"submitterId"`
	ScoreA      int    `json:"scoreA"`
	ScoreB      int    `json:"scoreB"`
}

// SubmitResult: Conflict=true значит, что протоколы разошлись и матч ждёт доказательств.
// Это штатный переход, а не ошибка.
type SubmitResult struct {
	Match    *models.Match `json:"match"`
	Conflict bool          `json:"conflict"`
}

type ScorecardService interface {
	Submit(ctx context.Context, identity models.Identity, matchID string, input ScorecardInput, expectedVersion int64) (*SubmitResult, error)
}

type scorecardService struct {
	engine *Engine
}

func NewScorecardService(engine *Engine) ScorecardService {
	return &scorecardService{engine: engine}
}

func (s *scorecardService) Submit(ctx context.Context, identity models.Identity, matchID string, input ScorecardInput, expectedVersion int64) (*SubmitResult, error) {
	if err := authorizeParticipant(identity, input.SubmitterID); err != nil {
		return nil, err
	}
	if input.ScoreA < 0 || input.ScoreB < 0 {
		return nil, ErrNegativeScore
	}

	conflict := false
	match, err := s.engine.guard(ctx, matchID, expectedVersion, identity.UserID, func(mu *mutation) error {
		m := mu.match
		if !m.HasParticipant(input.SubmitterID) {
			return ErrNotParticipant
		}
		if m.ScorecardBy(input.SubmitterID) != nil {
			return ErrDuplicateScorecard
		}
		if m.Status != models.StatusInProgress && m.Status != models.StatusScorecardWaiting {
			return fmt.Errorf("%w: scorecards are not accepted while match is %s", ErrInvalidState, m.Status)
		}

		card := models.Scorecard{
			MatchID:     m.ID,
			SubmitterID: input.SubmitterID,
			ScoreA:      input.ScoreA,
			ScoreB:      input.ScoreB,
			SubmittedAt: mu.now,
		}
		if err := s.engine.matches.AddScorecard(ctx, mu.tx, &card); err != nil {
			if errors.Is(err, repositories.ErrScorecardExists) {
				return ErrDuplicateScorecard
			}
			return err
		}
		m.Scorecards = append(m.Scorecards, card)

		if m.Status == models.StatusInProgress {
			if err := mu.moveTo(models.StatusScorecardWaiting, "first scorecard submitted"); err != nil {
				return err
			}
			mu.startTimer(models.TimerScorecardWait, s.engine.cfg.ScorecardWait)
			return nil
		}

		first := m.Scorecards[0]
		mu.stopTimer()
		if first.Agrees(card) {
			return s.agree(mu, card)
		}
		conflict = true
		if err := mu.moveTo(models.StatusScorecardConflict, "scorecards disagree"); err != nil {
			return err
		}
		if err := mu.moveTo(models.StatusAIVerificationWaiting, "proof required"); err != nil {
			return err
		}
		mu.startTimer(models.TimerProofWait, s.engine.cfg.ProofWait)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Match: match, Conflict: conflict}, nil
}

// agree завершает матч по совпавшим протоколам. Ничья возвращает ставки.
func (s *scorecardService) agree(mu *mutation, card models.Scorecard) error {
	m := mu.match
	if err := mu.moveTo(models.StatusScorecardSubmitted, "scorecards agree"); err != nil {
		return err
	}
	switch {
	case card.ScoreA > card.ScoreB:
		mu.setOutcome(models.OutcomeWin, stringPtr(m.ParticipantA.ID))
	case card.ScoreB > card.ScoreA:
		mu.setOutcome(models.OutcomeWin, stringPtr(m.ParticipantB.ID))
	default:
		mu.setOutcome(models.OutcomeRefund, nil)
	}
	return mu.moveTo(models.StatusCompleted, "agreed result")
}
