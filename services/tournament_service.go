package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikeka317/wager-arbiter/brackets"
	"github.com/mikeka317/wager-arbiter/models"
	"github.com/mikeka317/wager-arbiter/repositories"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type CreateTournamentInput struct {
	Name         string                    `json:"name"`
	Game         string                    `json:"game"`
	Platform     string                    `json:"platform"`
	Stake        decimal.Decimal           `json:"stake"`
	Participants []models.ParticipantEntry `json:"participants"`
}

type TournamentService interface {
	Create(ctx context.Context, identity models.Identity, input CreateTournamentInput) (*models.Tournament, error)
	Get(ctx context.Context, tournamentID string) (*models.Tournament, error)
	// Advance идемпотентно продвигает сетку по уже известным исходам матчей.
	Advance(ctx context.Context, tournamentID string) error
	ReconcileActive(ctx context.Context) error
}

type tournamentService struct {
	engine         *Engine
	tournamentRepo repositories.TournamentRepository
	generator      brackets.BracketGenerator
	logger         *slog.Logger

	advanceMu sync.Mutex
}

func NewTournamentService(engine *Engine, tournamentRepo repositories.TournamentRepository) TournamentService {
	s := &tournamentService{
		engine:         engine,
		tournamentRepo: tournamentRepo,
		generator:      brackets.NewSingleEliminationGenerator(),
		logger:         engine.logger.With(slog.String("component", "tournaments")),
	}
	engine.OnMatchChanged(func(ctx context.Context, match *models.Match) {
		if match.TournamentID == nil {
			return
		}
		if err := s.Advance(ctx, *match.TournamentID); err != nil {
			s.logger.ErrorContext(ctx, "failed to advance tournament after match transition",
				slog.String("tournament_id", *match.TournamentID),
				slog.String("match_id", match.ID),
				slog.Any("error", err))
		}
	})
	return s
}

func (in CreateTournamentInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: tournament name is required", ErrValidationFailed)
	}
	if strings.TrimSpace(in.Game) == "" {
		return fmt.Errorf("%w: game is required", ErrValidationFailed)
	}
	if !in.Stake.IsPositive() {
		return ErrInvalidStake
	}
	if len(in.Participants) < 2 {
		return fmt.Errorf("%w: at least 2 participants are required", ErrValidationFailed)
	}
	return nil
}

func (s *tournamentService) Create(ctx context.Context, identity models.Identity, input CreateTournamentInput) (*models.Tournament, error) {
	if !identity.IsPrivileged() {
		return nil, ErrForbiddenOperation
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	ids := make([]string, len(input.Participants))
	for i, p := range input.Participants {
		ids[i] = p.ID
	}
	// Посев в порядке подачи.
	generated, err := s.generator.GenerateBracket(ctx, brackets.GenerateBracketParams{ParticipantIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	now := s.engine.Now()
	tournament := &models.Tournament{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(input.Name),
		Game:         input.Game,
		Platform:     input.Platform,
		Stake:        input.Stake.Round(2),
		Status:       models.TournamentActive,
		Rounds:       brackets.Rounds(len(ids)),
		CreatedBy:    identity.UserID,
		Participants: input.Participants,
		CreatedAt:    now,
	}

	created := make([]*models.Match, 0, len(generated)/2+1)
	err = runInTx(ctx, s.engine.db, func(tx *sql.Tx) error {
		if err := s.tournamentRepo.Create(ctx, tx, tournament); err != nil {
			return err
		}
		for _, bm := range generated {
			slot := &models.BracketSlot{
				TournamentID: tournament.ID,
				UID:          bm.UID,
				Round:        bm.Round,
				OrderInRound: bm.OrderInRound,
				ParticipantA: bm.Participant1ID,
				ParticipantB: bm.Participant2ID,
				SourceAUID:   bm.SourceMatch1UID,
				SourceBUID:   bm.SourceMatch2UID,
			}
			switch {
			case bm.IsBye:
				slot.IsBye = true
				slot.ByeParticipantID = bm.ByeParticipantID
				slot.Decided = true
				slot.WinnerID = bm.ByeParticipantID
				slot.DecidedAt = &now
			case bm.Participant1ID != nil && bm.Participant2ID != nil:
				uid := bm.UID
				match, err := s.engine.createMatch(ctx, tx, s.matchInput(tournament, *bm.Participant1ID, *bm.Participant2ID), &tournament.ID, &uid)
				if err != nil {
					return err
				}
				slot.MatchID = &match.ID
				created = append(created, match)
			}
			if err := s.tournamentRepo.CreateSlot(ctx, tx, slot); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tournament: %w", err)
	}

	s.logger.InfoContext(ctx, "tournament created",
		slog.String("tournament_id", tournament.ID),
		slog.Int("participants", len(ids)),
		slog.Int("rounds", tournament.Rounds),
		slog.Int("round1_matches", len(created)))
	for _, m := range created {
		s.engine.publishCreated(ctx, m)
	}
	if err := s.Advance(ctx, tournament.ID); err != nil {
		return nil, err
	}
	return s.Get(ctx, tournament.ID)
}

func (s *tournamentService) matchInput(t *models.Tournament, a, b string) CreateMatchInput {
	return CreateMatchInput{
		Game:         t.Game,
		Platform:     t.Platform,
		ParticipantA: models.ParticipantRef{ID: a, DisplayName: displayName(t, a)},
		ParticipantB: models.ParticipantRef{ID: b, DisplayName: displayName(t, b)},
		Stake:        t.Stake,
	}
}

func displayName(t *models.Tournament, id string) string {
	for _, p := range t.Participants {
		if p.ID == id {
			return p.DisplayName
		}
	}
	return ""
}

func (s *tournamentService) Get(ctx context.Context, tournamentID string) (*models.Tournament, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slots, err := s.tournamentRepo.ListSlots(gCtx, nil, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to fetch bracket of tournament %s: %w", tournamentID, err)
		}
		tournament.Slots = make([]models.BracketSlot, len(slots))
		for i, slot := range slots {
			tournament.Slots[i] = *slot
		}
		return nil
	})

	g.Go(func() error {
		matches, err := s.engine.matches.ListByTournament(gCtx, s.engine.db, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to fetch matches of tournament %s: %w", tournamentID, err)
		}
		tournament.Matches = make([]models.Match, len(matches))
		for i, m := range matches {
			tournament.Matches[i] = *m
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tournament, nil
}

func (s *tournamentService) ReconcileActive(ctx context.Context) error {
	ids, err := s.tournamentRepo.ListActiveIDs(ctx, nil)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if err := s.Advance(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("tournament %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (s *tournamentService) Advance(ctx context.Context, tournamentID string) error {
	s.advanceMu.Lock()
	defer s.advanceMu.Unlock()

	changed := false
	// Каждый проход может разблокировать следующий раунд (например, через bye).
	for pass := 0; pass < 64; pass++ {
		progressed, err := s.advancePass(ctx, tournamentID)
		if err != nil {
			return err
		}
		if !progressed {
			break
		}
		changed = true
	}
	if changed && s.engine.publisher != nil {
		if t, err := s.Get(ctx, tournamentID); err == nil {
			s.engine.publisher.Publish(brackets.TournamentRoom(tournamentID), EventBracketUpdated, t)
		}
	}
	return nil
}

type bracketState struct {
	tournament *models.Tournament
	slots      []*models.BracketSlot
	byUID      map[string]*models.BracketSlot
	matches    map[string]*models.Match
}

func (b *bracketState) round(r int) []*models.BracketSlot {
	out := make([]*models.BracketSlot, 0)
	for _, slot := range b.slots {
		if slot.Round == r {
			out = append(out, slot)
		}
	}
	return out
}

// settled: все слоты раунда решены и ни один матч раунда не оспаривается.
func (b *bracketState) settled(r int) bool {
	slots := b.round(r)
	if len(slots) == 0 {
		return false
	}
	for _, slot := range slots {
		if !slot.Decided {
			return false
		}
		if slot.MatchID != nil {
			if m, ok := b.matches[*slot.MatchID]; ok && m.Status == models.StatusDisputed {
				return false
			}
		}
	}
	return true
}

func (b *bracketState) side(fixed, sourceUID *string) *string {
	if sourceUID != nil {
		if src, ok := b.byUID[*sourceUID]; ok {
			return src.WinnerID
		}
		return nil
	}
	return fixed
}

// downstreamSeeded - слот, куда уходит победитель uid, уже получил матч или решён.
func (b *bracketState) downstreamSeeded(uid string) bool {
	for _, slot := range b.slots {
		if (slot.SourceAUID != nil && *slot.SourceAUID == uid) || (slot.SourceBUID != nil && *slot.SourceBUID == uid) {
			return slot.Decided || slot.MatchID != nil
		}
	}
	return b.tournament.Status == models.TournamentCompleted
}

func (s *tournamentService) load(ctx context.Context, tournamentID string) (*bracketState, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	slots, err := s.tournamentRepo.ListSlots(ctx, nil, tournamentID)
	if err != nil {
		return nil, err
	}
	matches, err := s.engine.matches.ListByTournament(ctx, s.engine.db, tournamentID)
	if err != nil {
		return nil, err
	}
	state := &bracketState{
		tournament: tournament,
		slots:      slots,
		byUID:      make(map[string]*models.BracketSlot, len(slots)),
		matches:    make(map[string]*models.Match, len(matches)),
	}
	for _, slot := range slots {
		state.byUID[slot.UID] = slot
	}
	for _, m := range matches {
		state.matches[m.ID] = m
	}
	return state, nil
}

func (s *tournamentService) advancePass(ctx context.Context, tournamentID string) (bool, error) {
	state, err := s.load(ctx, tournamentID)
	if err != nil {
		return false, err
	}
	t := state.tournament
	now := s.engine.Now()
	progressed := false

	for _, slot := range state.slots {
		if slot.MatchID == nil {
			continue
		}
		m, ok := state.matches[*slot.MatchID]
		if !ok || !m.Status.HasOutcome() {
			continue
		}
		if !slot.Decided {
			slot.Decided = true
			slot.WinnerID = m.WinnerID
			slot.DecidedAt = &now
			if err := s.tournamentRepo.DecideSlot(ctx, nil, slot); err != nil && !errors.Is(err, repositories.ErrSlotNotFound) {
				return false, err
			}
			progressed = true
			continue
		}
		if derefString(slot.WinnerID) == derefString(m.WinnerID) {
			continue
		}
		// Исход пересмотрен по спору уже после того, как слот был решён.
		if state.downstreamSeeded(slot.UID) {
			s.engine.raiseAlert(ctx, models.AlertBracketOutcomeChanged, &m.ID, &t.ID,
				fmt.Sprintf("slot %s winner changed from %q to %q after the bracket advanced; later rounds were not rewritten",
					slot.UID, derefString(slot.WinnerID), derefString(m.WinnerID)))
		}
		if err := s.tournamentRepo.UpdateSlotWinner(ctx, nil, t.ID, slot.UID, m.WinnerID); err != nil {
			return false, err
		}
		slot.WinnerID = m.WinnerID
		progressed = true
	}

	if t.Status == models.TournamentCompleted {
		return progressed, nil
	}

	for r := 1; r < t.Rounds; r++ {
		if !state.settled(r) {
			break
		}
		for _, slot := range state.round(r + 1) {
			if slot.Decided || slot.MatchID != nil {
				continue
			}
			ok, err := s.seed(ctx, state, slot, now)
			if err != nil {
				return false, err
			}
			progressed = progressed || ok
		}
	}

	finals := state.round(t.Rounds)
	if len(finals) == 1 && state.settled(t.Rounds) {
		champion := finals[0].WinnerID
		if err := s.tournamentRepo.Complete(ctx, nil, t.ID, champion, now); err != nil {
			if errors.Is(err, repositories.ErrTournamentNotFound) {
				return progressed, nil
			}
			return false, err
		}
		if champion == nil {
			s.engine.raiseAlert(ctx, models.AlertTournamentNoChampion, nil, &t.ID,
				fmt.Sprintf("tournament %q completed without a champion: final slot %s has no winner", t.Name, finals[0].UID))
		}
		s.logger.InfoContext(ctx, "tournament completed",
			slog.String("tournament_id", t.ID),
			slog.String("champion", derefString(champion)))
		return true, nil
	}
	return progressed, nil
}

// seed заполняет слот следующего раунда: матч, bye или пустой слот.
func (s *tournamentService) seed(ctx context.Context, state *bracketState, slot *models.BracketSlot, now time.Time) (bool, error) {
	a := state.side(slot.ParticipantA, slot.SourceAUID)
	b := state.side(slot.ParticipantB, slot.SourceBUID)
	t := state.tournament

	if a != nil && b != nil {
		var match *models.Match
		err := runInTx(ctx, s.engine.db, func(tx *sql.Tx) error {
			uid := slot.UID
			var err error
			match, err = s.engine.createMatch(ctx, tx, s.matchInput(t, *a, *b), &t.ID, &uid)
			if err != nil {
				return err
			}
			return s.tournamentRepo.AttachMatch(ctx, tx, t.ID, slot.UID, match.ID, *a, *b)
		})
		if errors.Is(err, repositories.ErrSlotAlreadyLinked) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		slot.MatchID = &match.ID
		slot.ParticipantA, slot.ParticipantB = a, b
		state.matches[match.ID] = match
		s.engine.publishCreated(ctx, match)
		return true, nil
	}

	slot.Decided = true
	slot.DecidedAt = &now
	switch {
	case a != nil || b != nil:
		winner := a
		if winner == nil {
			winner = b
		}
		slot.IsBye = true
		slot.ByeParticipantID = winner
		slot.WinnerID = winner
		slot.ParticipantA = winner
		slot.ParticipantB = nil
	default:
		slot.WinnerID = nil
	}
	if err := s.tournamentRepo.DecideSlot(ctx, nil, slot); err != nil {
		if errors.Is(err, repositories.ErrSlotNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
