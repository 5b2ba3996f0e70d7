package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikeka317/wager-arbiter/brackets"
	"github.com/mikeka317/wager-arbiter/models"
	"github.com/mikeka317/wager-arbiter/repositories"
	"github.com/shopspring/decimal"
)

// Publisher рассылает события наблюдателям (websocket hub).
type Publisher interface {
	Publish(roomID, eventType string, payload interface{})
}

// AlertRaiser ставит оповещение в очередь операторов.
type AlertRaiser interface {
	Raise(ctx context.Context, kind models.AlertKind, matchID, tournamentID *string, details string) (*models.OperatorAlert, error)
}

const (
	EventMatchUpdated   = "match_updated"
	EventBracketUpdated = "bracket_updated"
)

type EngineConfig struct {
	ScorecardWait time.Duration
	ProofWait     time.Duration
	// NoShowWait = 0 отключает таймер неявки.
	NoShowWait   time.Duration
	FeeAccountID string
	FeeRate      decimal.Decimal
}

type EngineDeps struct {
	DB          *sql.DB
	Matches     repositories.MatchRepository
	Timers      repositories.TimerRepository
	Disputes    repositories.DisputeRepository
	Settlements repositories.SettlementRepository
	Alerts      AlertRaiser
	Publisher   Publisher
	Clock       Clock
	Logger      *slog.Logger
}

// Engine владеет охраной переходов матча. Любое изменение матча проходит через guard:
// одна транзакция, сверка версии, запись переходов, таймеров и расчётных инструкций.
type Engine struct {
	db          *sql.DB
	matches     repositories.MatchRepository
	timers      repositories.TimerRepository
	disputes    repositories.DisputeRepository
	settlements repositories.SettlementRepository
	alerts      AlertRaiser
	publisher   Publisher
	cfg         EngineConfig
	now         Clock
	logger      *slog.Logger

	mu                 sync.RWMutex
	matchListeners     []func(ctx context.Context, match *models.Match)
	timerListeners     []func(deadline time.Time)
	settlementNotifies []func()
}

func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if deps.Clock == nil {
		deps.Clock = systemClock
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		db:          deps.DB,
		matches:     deps.Matches,
		timers:      deps.Timers,
		disputes:    deps.Disputes,
		settlements: deps.Settlements,
		alerts:      deps.Alerts,
		publisher:   deps.Publisher,
		cfg:         cfg,
		now:         deps.Clock,
		logger:      deps.Logger,
	}
}

// OnMatchChanged регистрирует обработчик, вызываемый после коммита каждого перехода.
func (e *Engine) OnMatchChanged(fn func(ctx context.Context, match *models.Match)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.matchListeners = append(e.matchListeners, fn)
}

// OnTimerScheduled вызывается с дедлайном каждого нового таймера.
func (e *Engine) OnTimerScheduled(fn func(deadline time.Time)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timerListeners = append(e.timerListeners, fn)
}

// OnSettlementPlanned вызывается, когда в outbox появились новые инструкции.
func (e *Engine) OnSettlementPlanned(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settlementNotifies = append(e.settlementNotifies, fn)
}

func (e *Engine) Now() time.Time { return e.now().UTC() }

type timerPlan struct {
	kind models.TimerKind
	wait time.Duration
}

type plannedAlert struct {
	kind    models.AlertKind
	details string
}

// mutation - изменения матча внутри одной охраняемой операции.
type mutation struct {
	tx    *sql.Tx
	match *models.Match
	actor string
	now   time.Time

	steps          []models.Transition
	touched        bool
	cancelTimer    bool
	firedTimerID   string
	plannedTimer   *timerPlan
	outcomeChanged bool
	settlements    int
	alerts         []plannedAlert
}

func (mu *mutation) moveTo(next models.MatchStatus, reason string) error {
	current := mu.match.Status
	if !isValidMatchTransition(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, current, next)
	}
	mu.steps = append(mu.steps, models.Transition{
		MatchID:    mu.match.ID,
		FromStatus: current,
		ToStatus:   next,
		ActorID:    mu.actor,
		Reason:     reason,
		At:         mu.now,
	})
	mu.match.Status = next
	if next == models.StatusCompleted && mu.match.CompletedAt == nil {
		at := mu.now
		mu.match.CompletedAt = &at
	}
	return nil
}

// touch поднимает версию без смены статуса (флаги готовности, доп. доказательства).
func (mu *mutation) touch() { mu.touched = true }

func (mu *mutation) startTimer(kind models.TimerKind, wait time.Duration) {
	mu.cancelTimer = true
	mu.plannedTimer = &timerPlan{kind: kind, wait: wait}
}

func (mu *mutation) stopTimer() {
	mu.cancelTimer = true
	mu.plannedTimer = nil
}

// setOutcome фиксирует исход. Новая версия исхода порождает свой набор расчётов.
func (mu *mutation) setOutcome(kind models.OutcomeKind, winnerID *string) {
	mu.match.Outcome = &kind
	mu.match.WinnerID = winnerID
	if kind == models.OutcomeRefund {
		mu.match.WinnerID = nil
	}
	mu.outcomeChanged = true
}

func (mu *mutation) alert(kind models.AlertKind, format string, args ...interface{}) {
	mu.alerts = append(mu.alerts, plannedAlert{kind: kind, details: fmt.Sprintf(format, args...)})
}

func (mu *mutation) changed() bool {
	return len(mu.steps) > 0 || mu.touched || mu.outcomeChanged
}

// guard загружает матч, сверяет ожидаемую версию и применяет fn атомарно.
// Если fn ничего не изменил, версия не растёт.
func (e *Engine) guard(ctx context.Context, matchID string, expectedVersion int64, actor string, fn func(mu *mutation) error) (*models.Match, error) {
	var (
		result *models.Match
		mu     *mutation
	)
	err := runInTx(ctx, e.db, func(tx *sql.Tx) error {
		match, err := e.matches.GetByID(ctx, tx, matchID)
		if err != nil {
			if errors.Is(err, repositories.ErrMatchNotFound) {
				return ErrMatchNotFound
			}
			return err
		}
		if match.Version != expectedVersion {
			return fmt.Errorf("%w: expected %d, current %d", ErrStaleVersion, expectedVersion, match.Version)
		}

		mu = &mutation{tx: tx, match: match, actor: actor, now: e.Now()}
		if err := fn(mu); err != nil {
			return err
		}
		if !mu.changed() {
			if mu.firedTimerID != "" {
				if _, err := e.timers.MarkFired(ctx, tx, mu.firedTimerID, mu.now); err != nil {
					return err
				}
			}
			result = match
			return nil
		}

		stepCount := int64(len(mu.steps))
		if stepCount == 0 {
			stepCount = 1
		}
		newVersion := expectedVersion + stepCount
		for i := range mu.steps {
			mu.steps[i].Version = expectedVersion + int64(i) + 1
		}
		match.Version = newVersion
		match.UpdatedAt = mu.now
		if mu.outcomeChanged {
			ov := newVersion
			match.OutcomeVersion = &ov
		}

		if err := e.matches.CompareAndSwap(ctx, tx, match, expectedVersion); err != nil {
			if errors.Is(err, repositories.ErrVersionConflict) {
				return fmt.Errorf("%w: match %s changed concurrently", ErrStaleVersion, matchID)
			}
			return err
		}
		if err := e.matches.AppendTransitions(ctx, tx, mu.steps); err != nil {
			return err
		}

		if err := e.applyTimerChanges(ctx, mu, newVersion); err != nil {
			return err
		}
		if mu.outcomeChanged {
			if err := e.planSettlements(ctx, mu); err != nil {
				return err
			}
		}

		match.History = append(match.History, mu.steps...)
		result = match
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, result, mu)
	return result, nil
}

func (e *Engine) applyTimerChanges(ctx context.Context, mu *mutation, newVersion int64) error {
	match := mu.match
	switch {
	case mu.firedTimerID != "":
		if _, err := e.timers.MarkFired(ctx, mu.tx, mu.firedTimerID, mu.now); err != nil {
			return err
		}
		match.Timer = nil
	case mu.cancelTimer:
		if _, err := e.timers.CancelActive(ctx, mu.tx, match.ID, mu.now); err != nil {
			return err
		}
		match.Timer = nil
	case match.Timer.Active():
		// Статус не менялся: таймер продолжает охранять матч на новой версии.
		if err := e.timers.Restamp(ctx, mu.tx, match.Timer.ID, newVersion); err != nil {
			return err
		}
		match.Timer.ScheduledVersion = newVersion
	}

	if mu.plannedTimer != nil {
		timer := &models.EscalationTimer{
			ID:               uuid.NewString(),
			MatchID:          match.ID,
			Kind:             mu.plannedTimer.kind,
			Deadline:         mu.now.Add(mu.plannedTimer.wait),
			ScheduledVersion: newVersion,
			CreatedAt:        mu.now,
		}
		if err := e.timers.Create(ctx, mu.tx, timer); err != nil {
			return err
		}
		match.Timer = timer
	}
	return nil
}

func (e *Engine) afterCommit(ctx context.Context, match *models.Match, mu *mutation) {
	if match == nil || mu == nil || !mu.changed() {
		return
	}
	// Обработчики не должны зависеть от отмены запроса, который уже закоммичен.
	ctx = context.WithoutCancel(ctx)

	e.logger.InfoContext(ctx, "match transition committed",
		slog.String("match_id", match.ID),
		slog.String("status", string(match.Status)),
		slog.Int64("version", match.Version),
		slog.String("actor", mu.actor))

	if e.publisher != nil {
		e.publisher.Publish(brackets.MatchRoom(match.ID), EventMatchUpdated, match)
		if match.TournamentID != nil {
			e.publisher.Publish(brackets.TournamentRoom(*match.TournamentID), EventMatchUpdated, match)
		}
	}

	for _, a := range mu.alerts {
		e.raiseAlert(ctx, a.kind, &match.ID, match.TournamentID, a.details)
	}

	e.mu.RLock()
	timerListeners := e.timerListeners
	settlementNotifies := e.settlementNotifies
	matchListeners := e.matchListeners
	e.mu.RUnlock()

	if match.Timer != nil && mu.plannedTimer != nil {
		for _, fn := range timerListeners {
			fn(match.Timer.Deadline)
		}
	}
	if mu.settlements > 0 {
		for _, fn := range settlementNotifies {
			fn()
		}
	}
	if len(mu.steps) > 0 {
		for _, fn := range matchListeners {
			fn(ctx, match)
		}
	}
}

func (e *Engine) raiseAlert(ctx context.Context, kind models.AlertKind, matchID, tournamentID *string, details string) {
	if e.alerts == nil {
		e.logger.WarnContext(ctx, "operator alert dropped, no alert queue configured",
			slog.String("kind", string(kind)), slog.String("details", details))
		return
	}
	if _, err := e.alerts.Raise(ctx, kind, matchID, tournamentID, details); err != nil {
		e.logger.ErrorContext(ctx, "failed to raise operator alert",
			slog.String("kind", string(kind)), slog.String("match_id", derefString(matchID)), slog.Any("error", err))
	}
}

func (e *Engine) load(ctx context.Context, matchID string) (*models.Match, error) {
	match, err := e.matches.GetByID(ctx, e.db, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to load match %s: %w", matchID, err)
	}
	return match, nil
}

type CreateMatchInput struct {
	Game         string                `json:"game"`
	Platform     string                `json:"platform"`
	ParticipantA models.ParticipantRef `json:"participantA"`
	ParticipantB models.ParticipantRef `json:"participantB"`
	Stake        decimal.Decimal       `json:"stake"`
}

func (in CreateMatchInput) validate() error {
	if in.ParticipantA.ID == "" || in.ParticipantB.ID == "" || in.ParticipantA.ID == in.ParticipantB.ID {
		return ErrSameParticipants
	}
	if !in.Stake.IsPositive() {
		return ErrInvalidStake
	}
	if in.Game == "" {
		return fmt.Errorf("%w: game is required", ErrValidationFailed)
	}
	return nil
}

// createMatch вставляет новый матч в статусе pending с версией 1.
func (e *Engine) createMatch(ctx context.Context, exec repositories.SQLExecutor, in CreateMatchInput, tournamentID, bracketUID *string) (*models.Match, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := e.Now()
	match := &models.Match{
		ID:           uuid.NewString(),
		TournamentID: tournamentID,
		BracketUID:   bracketUID,
		Game:         in.Game,
		Platform:     in.Platform,
		ParticipantA: in.ParticipantA,
		ParticipantB: in.ParticipantB,
		Stake:        in.Stake.Round(2),
		Status:       models.StatusPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		Scorecards:   []models.Scorecard{},
		Proofs:       []models.ProofBundle{},
		Verdicts:     []models.AIVerdict{},
		History:      []models.Transition{},
	}
	if err := e.matches.Create(ctx, exec, match); err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}
	return match, nil
}

func (e *Engine) publishCreated(ctx context.Context, match *models.Match) {
	e.logger.InfoContext(ctx, "match created",
		slog.String("match_id", match.ID),
		slog.String("participant_a", match.ParticipantA.ID),
		slog.String("participant_b", match.ParticipantB.ID))
	if e.publisher != nil {
		e.publisher.Publish(brackets.MatchRoom(match.ID), EventMatchUpdated, match)
	}
}
