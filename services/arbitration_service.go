package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mikeka317/wager-arbiter/models"
	"github.com/mikeka317/wager-arbiter/storage"
	"github.com/mikeka317/wager-arbiter/verifier"
)

const (
	ProofPolicyFirst = "first"
	ProofPolicyBoth  = "both"

	verdictRetries = 3
)

type ArbitrationConfig struct {
	ProofPolicy string
	Timeout     time.Duration
	MaxAttempts int
}

type ProofInput struct {
	SubmitterID  string   `json:"submitterId"`
	EvidenceRefs []string `json:"evidenceRefs"`
	Description  string   `json:"description"`
}

type ArbitrationService interface {
	SubmitProof(ctx context.Context, identity models.Identity, matchID string, input ProofInput, expectedVersion int64) (*models.Match, error)
	RetryArbitration(ctx context.Context, identity models.Identity, matchID string) (*models.Match, error)
	UploadEvidence(ctx context.Context, identity models.Identity, matchID, submitterID, contentType string, file io.Reader) (string, error)
}

type arbitrationService struct {
	engine   *Engine
	verifier verifier.Verifier
	uploader storage.FileUploader
	cfg      ArbitrationConfig
	logger   *slog.Logger
}

func NewArbitrationService(engine *Engine, v verifier.Verifier, uploader storage.FileUploader, cfg ArbitrationConfig) ArbitrationService {
	if cfg.ProofPolicy == "" {
		cfg.ProofPolicy = ProofPolicyFirst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &arbitrationService{
		engine:   engine,
		verifier: v,
		uploader: uploader,
		cfg:      cfg,
		logger:   engine.logger.With(slog.String("component", "arbitration")),
	}
}

func (s *arbitrationService) SubmitProof(ctx context.Context, identity models.Identity, matchID string, input ProofInput, expectedVersion int64) (*models.Match, error) {
	if err := authorizeParticipant(identity, input.SubmitterID); err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(input.EvidenceRefs))
	for _, ref := range input.EvidenceRefs {
		if ref = strings.TrimSpace(ref); ref != "" {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return nil, ErrEvidenceRequired
	}

	invoke := false
	match, err := s.engine.guard(ctx, matchID, expectedVersion, identity.UserID, func(mu *mutation) error {
		m := mu.match
		if !m.HasParticipant(input.SubmitterID) {
			return ErrNotParticipant
		}
		if m.Status != models.StatusAIVerificationWaiting && m.Status != models.StatusAIVerification {
			return fmt.Errorf("%w: proofs are not accepted while match is %s", ErrInvalidState, m.Status)
		}

		proof := models.ProofBundle{
			ID:           uuid.NewString(),
			MatchID:      m.ID,
			SubmitterID:  input.SubmitterID,
			EvidenceRefs: refs,
			Description:  strings.TrimSpace(input.Description),
			SubmittedAt:  mu.now,
		}
		if err := s.engine.matches.AddProof(ctx, mu.tx, &proof); err != nil {
			return err
		}
		m.Proofs = append(m.Proofs, proof)
		mu.touch()

		if m.Status == models.StatusAIVerification {
			// Дополнительное доказательство во время арбитража: вызываем арбитра повторно.
			invoke = true
			return nil
		}
		if !s.sufficient(m) {
			return nil
		}
		mu.stopTimer()
		invoke = true
		return mu.moveTo(models.StatusAIVerification, "sufficient proof received")
	})
	if err != nil {
		return nil, err
	}
	if !invoke {
		return match, nil
	}
	return s.arbitrate(ctx, match.ID)
}

func (s *arbitrationService) sufficient(m *models.Match) bool {
	if s.cfg.ProofPolicy == ProofPolicyBoth {
		return m.HasProofFrom(m.ParticipantA.ID) && m.HasProofFrom(m.ParticipantB.ID)
	}
	return len(m.Proofs) > 0
}

func (s *arbitrationService) RetryArbitration(ctx context.Context, identity models.Identity, matchID string) (*models.Match, error) {
	if !identity.IsAdmin() {
		return nil, ErrForbiddenOperation
	}
	match, err := s.engine.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Status != models.StatusAIVerification {
		return nil, fmt.Errorf("%w: arbitration can only be retried in %s, match is %s",
			ErrInvalidState, models.StatusAIVerification, match.Status)
	}
	return s.arbitrate(ctx, matchID)
}

// arbitrate вызывает ИИ-арбитра вне транзакции. Матч всё это время надёжно ждёт в ai_verification.
func (s *arbitrationService) arbitrate(ctx context.Context, matchID string) (*models.Match, error) {
	match, err := s.engine.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.Status != models.StatusAIVerification {
		return match, nil
	}

	req := verifier.Request{
		MatchID:        match.ID,
		Game:           match.Game,
		Platform:       match.Platform,
		ParticipantIDs: match.ParticipantIDs(),
		Proofs:         make([]verifier.Proof, 0, len(match.Proofs)),
	}
	for _, p := range match.Proofs {
		req.Proofs = append(req.Proofs, verifier.Proof{
			SubmitterID:  p.SubmitterID,
			EvidenceRefs: p.EvidenceRefs,
			Description:  p.Description,
		})
	}

	// Ответ арбитра записывается, даже если клиент уже отключился.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	verdict, err := s.verifier.Verify(callCtx, req)
	cancel()
	if err == nil && verdict == nil {
		err = verifier.ErrMalformedResponse
	}
	if err == nil {
		err = verdict.Validate(match.ParticipantIDs())
	}
	if err != nil {
		return nil, s.recordFailure(ctx, match, err)
	}

	for attempt := 0; attempt < verdictRetries; attempt++ {
		completed, err := s.engine.guard(ctx, matchID, match.Version, models.SystemIdentity.UserID, func(mu *mutation) error {
			m := mu.match
			if m.Status != models.StatusAIVerification {
				return nil
			}
			record := models.AIVerdict{
				ID:                  uuid.NewString(),
				MatchID:             m.ID,
				WinnerParticipantID: verdict.WinnerParticipantID,
				Confidence:          verdict.Confidence,
				EvidenceQuality:     verdict.EvidenceQuality,
				Reasoning:           verdict.Reasoning,
				Suggestions:         verdict.Suggestions,
				ProducedAt:          mu.now,
			}
			if err := s.engine.matches.AddVerdict(ctx, mu.tx, &record); err != nil {
				return err
			}
			m.Verdicts = append(m.Verdicts, record)
			mu.setOutcome(models.OutcomeWin, stringPtr(verdict.WinnerParticipantID))
			return mu.moveTo(models.StatusCompleted, "ai verdict recorded")
		})
		if err == nil {
			s.logger.InfoContext(ctx, "ai verdict recorded",
				slog.String("match_id", matchID),
				slog.String("winner", verdict.WinnerParticipantID),
				slog.Float64("confidence", verdict.Confidence))
			return completed, nil
		}
		if !errors.Is(err, ErrStaleVersion) {
			return nil, err
		}
		// Пока шёл вызов, пришло ещё одно доказательство: перечитываем и пишем вердикт на новую версию.
		if match, err = s.engine.load(ctx, matchID); err != nil {
			return nil, err
		}
		if match.Status != models.StatusAIVerification {
			return match, nil
		}
	}
	return nil, fmt.Errorf("%w: match %s kept changing while recording verdict", ErrStaleVersion, matchID)
}

func (s *arbitrationService) recordFailure(ctx context.Context, match *models.Match, cause error) error {
	ctx = context.WithoutCancel(ctx)
	failures, err := s.engine.matches.IncrementArbitrationFailures(ctx, s.engine.db, match.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record arbitration failure", slog.String("match_id", match.ID), slog.Any("error", err))
	}
	s.logger.WarnContext(ctx, "ai arbitration failed",
		slog.String("match_id", match.ID),
		slog.Int("failures", failures),
		slog.Any("error", cause))

	if failures >= s.cfg.MaxAttempts {
		s.engine.raiseAlert(ctx, models.AlertArbitrationFailed, &match.ID, match.TournamentID,
			fmt.Sprintf("AI arbitration failed %d times, last error: %v", failures, cause))
	}
	if errors.Is(cause, verifier.ErrMalformedResponse) {
		return fmt.Errorf("%w: %w: %v", ErrExternalService, ErrMalformedVerdict, cause)
	}
	return fmt.Errorf("%w: %v", ErrExternalService, cause)
}

// UploadEvidence сохраняет снимок экрана в хранилище и возвращает ссылку для ProofInput.
func (s *arbitrationService) UploadEvidence(ctx context.Context, identity models.Identity, matchID, submitterID, contentType string, file io.Reader) (string, error) {
	if s.uploader == nil {
		return "", ErrUploaderNotConfig
	}
	if err := authorizeParticipant(identity, submitterID); err != nil {
		return "", err
	}
	match, err := s.engine.load(ctx, matchID)
	if err != nil {
		return "", err
	}
	if !match.HasParticipant(submitterID) {
		return "", ErrNotParticipant
	}
	key, err := storage.EvidenceKey(match.ID, submitterID, contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	result, err := s.uploader.Upload(ctx, key, contentType, file)
	if err != nil {
		return "", fmt.Errorf("%w: evidence upload: %v", ErrExternalService, err)
	}
	if url := s.uploader.GetPublicURL(result.Key); url != "" {
		return url, nil
	}
	return result.Location, nil
}
