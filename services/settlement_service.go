package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mikeka317/wager-arbiter/ledger"
	"github.com/mikeka317/wager-arbiter/models"
	"github.com/shopspring/decimal"
)

// Payout делит банк матча: комиссия округляется до цента (половина вверх),
// победитель получает остаток, так что сумма сходится с банком.
func Payout(stake, feeRate decimal.Decimal) (winner, fee decimal.Decimal) {
	pot := stake.Mul(decimal.NewFromInt(2))
	fee = pot.Mul(feeRate).Round(2)
	return pot.Sub(fee), fee
}

// planSettlements пишет в outbox инструкции для новой версии исхода и компенсирует прежние.
// Вызывается внутри транзакции перехода.
func (e *Engine) planSettlements(ctx context.Context, mu *mutation) error {
	match := mu.match
	ov := *match.OutcomeVersion

	prior, err := e.settlements.ListByMatch(ctx, mu.tx, match.ID)
	if err != nil {
		return err
	}

	reversed := make(map[string]bool)
	for _, s := range prior {
		if s.ReversesID != nil && s.Status != models.SettlementCancelled {
			reversed[*s.ReversesID] = true
		}
	}

	var planned []*models.SettlementInstruction
	for _, s := range prior {
		if s.ReversesID != nil || reversed[s.ID] {
			continue
		}
		switch s.Status {
		case models.SettlementCancelled:
			continue
		case models.SettlementFailed:
			mu.alert(models.AlertSettlementFailed,
				"outcome of match %s changed while instruction %s (%s %s to %s) is failed; ledger state needs manual review",
				match.ID, s.IdempotencyKey, s.Operation, s.Amount.StringFixed(2), s.AccountID)
			continue
		case models.SettlementPending:
			cancelled, err := e.settlements.CancelPending(ctx, mu.tx, s.ID)
			if err != nil {
				return err
			}
			if cancelled {
				continue
			}
			// Инструкцию уже забрал диспетчер: компенсируем как проведённую.
		}
		reversesID := s.ID
		op := s.Operation.Inverse()
		planned = append(planned, &models.SettlementInstruction{
			Operation:  op,
			AccountID:  s.AccountID,
			Amount:     s.Amount,
			ReversesID: &reversesID,
		})
	}

	switch derefOutcome(match.Outcome) {
	case models.OutcomeWin, models.OutcomeForfeit:
		winnerAmount, fee := Payout(match.Stake, e.cfg.FeeRate)
		planned = append(planned, &models.SettlementInstruction{
			Operation: models.OpCredit,
			AccountID: derefString(match.WinnerID),
			Amount:    winnerAmount,
		})
		if fee.IsPositive() {
			planned = append(planned, &models.SettlementInstruction{
				Operation: models.OpCredit,
				AccountID: e.cfg.FeeAccountID,
				Amount:    fee,
			})
		}
	case models.OutcomeRefund:
		for _, id := range match.ParticipantIDs() {
			planned = append(planned, &models.SettlementInstruction{
				Operation: models.OpRefund,
				AccountID: id,
				Amount:    match.Stake,
			})
		}
	}

	for _, s := range planned {
		if s.AccountID == "" || !s.Amount.IsPositive() {
			continue
		}
		s.ID = uuid.NewString()
		s.MatchID = match.ID
		s.OutcomeVersion = ov
		s.IdempotencyKey = models.SettlementKey(match.ID, ov, s.Operation, s.AccountID)
		s.Status = models.SettlementPending
		s.CreatedAt = mu.now
		inserted, err := e.settlements.Insert(ctx, mu.tx, s)
		if err != nil {
			return err
		}
		if inserted {
			mu.settlements++
		}
	}
	return nil
}

func derefOutcome(o *models.OutcomeKind) models.OutcomeKind {
	if o == nil {
		return ""
	}
	return *o
}

type SettlementConfig struct {
	MaxAttempts     int
	Lease           time.Duration
	BatchSize       int
	Interval        time.Duration
	DisputeWindow   time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// SettlementService проводит инструкции outbox через леджер ровно один раз на ключ.
type SettlementService struct {
	engine *Engine
	ledger ledger.Ledger
	cfg    SettlementConfig
	logger *slog.Logger

	wake   chan struct{}
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSettlementService(engine *Engine, l ledger.Ledger, cfg SettlementConfig) *SettlementService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	s := &SettlementService{
		engine: engine,
		ledger: l,
		cfg:    cfg,
		logger: engine.logger.With(slog.String("component", "settlement")),
		wake:   make(chan struct{}, 1),
	}
	engine.OnSettlementPlanned(s.Kick)
	return s
}

// Kick будит диспетчер без ожидания тика.
func (s *SettlementService) Kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *SettlementService) ListByMatch(ctx context.Context, matchID string) ([]*models.SettlementInstruction, error) {
	if _, err := s.engine.load(ctx, matchID); err != nil {
		return nil, err
	}
	return s.engine.settlements.ListByMatch(ctx, s.engine.db, matchID)
}

// Dispatch проводит все готовые инструкции и возвращает число проведённых.
func (s *SettlementService) Dispatch(ctx context.Context) (int, error) {
	now := s.engine.Now()
	batch, err := s.engine.settlements.ListDispatchable(ctx, s.engine.db, now.Add(-s.cfg.Lease), s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list dispatchable settlements: %w", err)
	}

	applied := 0
	for _, instruction := range batch {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		ok, err := s.dispatchOne(ctx, instruction)
		if err != nil {
			s.logger.ErrorContext(ctx, "settlement dispatch failed",
				slog.String("settlement_id", instruction.ID),
				slog.String("key", instruction.IdempotencyKey),
				slog.Any("error", err))
			continue
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

func (s *SettlementService) newBackOff(ctx context.Context, maxRetries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval
	b.MaxInterval = s.cfg.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
}

func (s *SettlementService) dispatchOne(ctx context.Context, instruction *models.SettlementInstruction) (bool, error) {
	now := s.engine.Now()
	claimed, err := s.engine.settlements.Claim(ctx, s.engine.db, instruction.ID, now, now.Add(-s.cfg.Lease))
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	remaining := s.cfg.MaxAttempts - instruction.Attempts
	if remaining < 1 {
		remaining = 1
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := s.ledger.Apply(ctx, ledger.Operation(instruction.Operation), instruction.AccountID,
			instruction.Amount, instruction.IdempotencyKey)
		if errors.Is(err, ledger.ErrRejected) {
			return backoff.Permanent(err)
		}
		return err
	}
	applyErr := backoff.Retry(operation, s.newBackOff(ctx, remaining-1))

	if applyErr == nil {
		if err := s.engine.settlements.MarkApplied(ctx, s.engine.db, instruction.ID, attempts, s.engine.Now()); err != nil {
			return false, err
		}
		s.logger.InfoContext(ctx, "settlement applied",
			slog.String("key", instruction.IdempotencyKey),
			slog.String("amount", instruction.Amount.StringFixed(2)),
			slog.Int("attempts", instruction.Attempts+attempts))
		return true, nil
	}

	total := instruction.Attempts + attempts
	if errors.Is(applyErr, ledger.ErrRejected) || total >= s.cfg.MaxAttempts {
		return false, s.fail(ctx, instruction, attempts, applyErr)
	}
	if err := s.engine.settlements.Release(ctx, s.engine.db, instruction.ID, attempts, applyErr.Error()); err != nil {
		return false, err
	}
	return false, fmt.Errorf("%w: %s: %v", ErrSettlementFailed, instruction.IdempotencyKey, applyErr)
}

func (s *SettlementService) fail(ctx context.Context, instruction *models.SettlementInstruction, attempts int, cause error) error {
	if err := s.engine.settlements.MarkFailed(ctx, s.engine.db, instruction.ID, attempts, cause.Error()); err != nil {
		return err
	}
	// Компенсации к непроведённой инструкции не нужны.
	if _, err := s.engine.settlements.CancelDependents(ctx, s.engine.db, instruction.ID); err != nil {
		return err
	}
	matchID := instruction.MatchID
	s.engine.raiseAlert(ctx, models.AlertSettlementFailed, &matchID, nil,
		fmt.Sprintf("%s %s to %s failed after %d attempts: %v",
			instruction.Operation, instruction.Amount.StringFixed(2), instruction.AccountID,
			instruction.Attempts+attempts, cause))
	return fmt.Errorf("%w: %s: %v", ErrSettlementFailed, instruction.IdempotencyKey, cause)
}

// Archive помечает архивными матчи с проведёнными расчётами и закрытым окном спора.
func (s *SettlementService) Archive(ctx context.Context) (int, error) {
	now := s.engine.Now()
	ids, err := s.engine.matches.ListArchivable(ctx, s.engine.db, now.Add(-s.cfg.DisputeWindow), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	archived := 0
	for _, id := range ids {
		if err := s.engine.matches.MarkArchived(ctx, s.engine.db, id, now); err != nil {
			s.logger.WarnContext(ctx, "failed to archive match", slog.String("match_id", id), slog.Any("error", err))
			continue
		}
		archived++
	}
	return archived, nil
}

func (s *SettlementService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	s.logger.Info("settlement worker started", slog.Duration("interval", s.cfg.Interval))
}

func (s *SettlementService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("settlement worker stopped")
}

func (s *SettlementService) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
		if _, err := s.Dispatch(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("settlement dispatch pass failed", slog.Any("error", err))
		}
		if _, err := s.Archive(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("archive pass failed", slog.Any("error", err))
		}
	}
}
