package services

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mikeka317/wager-arbiter/models"
	"github.com/mikeka317/wager-arbiter/repositories"
	"golang.org/x/sync/errgroup"
)

type TimerConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// TimerManager переводит матчи по истечении таймеров ожидания. Таймеры хранятся в базе;
// куча в памяти только подсказывает, когда проснуться раньше очередного тика.
type TimerManager struct {
	engine *Engine
	cfg    TimerConfig
	logger *slog.Logger

	hmu       sync.Mutex
	deadlines deadlineHeap
	wake      chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTimerManager(engine *Engine, cfg TimerConfig) *TimerManager {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	tm := &TimerManager{
		engine: engine,
		cfg:    cfg,
		logger: engine.logger.With(slog.String("component", "timers")),
		wake:   make(chan struct{}, 1),
	}
	engine.OnTimerScheduled(tm.track)
	return tm
}

// Status - чистое чтение состояния таймера для опроса клиентом.
func (tm *TimerManager) Status(ctx context.Context, matchID string) (*models.TimerStatus, error) {
	if _, err := tm.engine.load(ctx, matchID); err != nil {
		return nil, err
	}
	timer, err := tm.engine.timers.GetActive(ctx, tm.engine.db, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrTimerNotFound) {
			return &models.TimerStatus{HasTimer: false}, nil
		}
		return nil, err
	}

	remaining := timer.Deadline.Sub(tm.engine.Now())
	status := &models.TimerStatus{
		HasTimer: true,
		Kind:     timer.Kind,
		Deadline: &timer.Deadline,
	}
	if remaining <= 0 {
		status.Expired = true
	} else {
		status.TimeRemainingMs = remaining.Milliseconds()
	}
	return status, nil
}

// Sweep срабатывает все просроченные таймеры. Возвращает число таймеров, изменивших матч.
func (tm *TimerManager) Sweep(ctx context.Context) (int, error) {
	due, err := tm.engine.timers.ListDue(ctx, tm.engine.db, tm.engine.Now(), tm.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due timers: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	var (
		fired int
		mu    sync.Mutex
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(tm.cfg.Concurrency)
	for _, timer := range due {
		timer := timer
		g.Go(func() error {
			ok, err := tm.Fire(gCtx, timer)
			if err != nil {
				// Ошибка одного матча не должна останавливать остальные.
				tm.logger.ErrorContext(gCtx, "failed to fire timer",
					slog.String("timer_id", timer.ID),
					slog.String("match_id", timer.MatchID),
					slog.Any("error", err))
				return nil
			}
			if ok {
				mu.Lock()
				fired++
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	return fired, err
}

// Fire применяет принудительный переход с версией, записанной при постановке таймера.
// Если матч с тех пор изменился, срабатывание ничего не делает. Повторный вызов безопасен.
func (tm *TimerManager) Fire(ctx context.Context, timer *models.EscalationTimer) (bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		fired := false
		_, err := tm.engine.guard(ctx, timer.MatchID, timer.ScheduledVersion, models.SystemIdentity.UserID, func(mu *mutation) error {
			current := mu.match.Timer
			if !current.Active() || current.ID != timer.ID || mu.match.Status != timer.Kind.WaitingStatus() {
				mu.firedTimerID = timer.ID
				return nil
			}
			mu.firedTimerID = timer.ID
			if err := tm.expire(mu, timer.Kind); err != nil {
				return err
			}
			fired = mu.changed()
			return nil
		})
		if err == nil {
			return fired, nil
		}
		if !errors.Is(err, ErrStaleVersion) {
			if errors.Is(err, ErrMatchNotFound) {
				return false, nil
			}
			return false, err
		}

		// Таймер мог быть переподписан на новую версию (статус не менялся); тогда пробуем снова.
		active, getErr := tm.engine.timers.GetActive(ctx, tm.engine.db, timer.MatchID)
		if getErr != nil {
			if errors.Is(getErr, repositories.ErrTimerNotFound) {
				return false, nil
			}
			return false, getErr
		}
		if active.ID != timer.ID {
			_, markErr := tm.engine.timers.MarkFired(ctx, tm.engine.db, timer.ID, tm.engine.Now())
			return false, markErr
		}
		if active.ScheduledVersion == timer.ScheduledVersion {
			continue
		}
		timer = active
	}
	return false, nil
}

func (tm *TimerManager) expire(mu *mutation, kind models.TimerKind) error {
	match := mu.match
	switch kind {
	case models.TimerScorecardWait:
		if len(match.Scorecards) == 1 {
			winner := match.Scorecards[0].SubmitterID
			mu.setOutcome(models.OutcomeForfeit, &winner)
			return mu.moveTo(models.StatusCompleted, "scorecard wait expired: opponent did not submit")
		}
		mu.setOutcome(models.OutcomeRefund, nil)
		return mu.moveTo(models.StatusCompleted, "scorecard wait expired without scorecards")

	case models.TimerProofWait:
		submitters := match.ProofSubmitters()
		if len(submitters) == 1 {
			winner := submitters[0]
			mu.setOutcome(models.OutcomeForfeit, &winner)
			return mu.moveTo(models.StatusCompleted, "proof wait expired: opponent did not submit proof")
		}
		mu.setOutcome(models.OutcomeRefund, nil)
		return mu.moveTo(models.StatusCompleted, "proof wait expired without sufficient proof")

	case models.TimerNoShowWait:
		if len(match.Scorecards) > 0 {
			return nil
		}
		mu.setOutcome(models.OutcomeRefund, nil)
		return mu.moveTo(models.StatusCompleted, "no scorecards before no-show deadline")
	}
	return fmt.Errorf("unknown timer kind %q", kind)
}

func (tm *TimerManager) track(deadline time.Time) {
	tm.hmu.Lock()
	heap.Push(&tm.deadlines, deadline)
	tm.hmu.Unlock()
	select {
	case tm.wake <- struct{}{}:
	default:
	}
}

// nextDeadline снимает с кучи прошедшие дедлайны и возвращает ближайший будущий.
func (tm *TimerManager) nextDeadline(now time.Time) (time.Time, bool) {
	tm.hmu.Lock()
	defer tm.hmu.Unlock()
	for tm.deadlines.Len() > 0 {
		next := tm.deadlines[0]
		if next.After(now) {
			return next, true
		}
		heap.Pop(&tm.deadlines)
	}
	return time.Time{}, false
}

func (tm *TimerManager) Start(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.cancel != nil {
		return nil
	}

	upcoming, err := tm.engine.timers.ListUpcoming(ctx, tm.engine.db, tm.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to load upcoming timers: %w", err)
	}
	for _, t := range upcoming {
		tm.track(t.Deadline)
	}

	ctx, tm.cancel = context.WithCancel(ctx)
	tm.done = make(chan struct{})
	go tm.run(ctx, tm.done)
	tm.logger.Info("timer worker started", slog.Duration("interval", tm.cfg.Interval), slog.Int("upcoming", len(upcoming)))
	return nil
}

func (tm *TimerManager) Stop() {
	tm.mu.Lock()
	cancel, done := tm.cancel, tm.done
	tm.cancel = nil
	tm.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	tm.logger.Info("timer worker stopped")
}

func (tm *TimerManager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(tm.cfg.Interval)
	defer ticker.Stop()
	alarm := time.NewTimer(time.Hour)
	defer alarm.Stop()

	for {
		now := tm.engine.Now()
		if next, ok := tm.nextDeadline(now); ok {
			alarm.Reset(next.Sub(now))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-alarm.C:
		case <-tm.wake:
			continue
		}

		if _, err := tm.Sweep(ctx); err != nil && ctx.Err() == nil {
			tm.logger.Error("timer sweep failed", slog.Any("error", err))
		}
	}
}

type deadlineHeap []time.Time

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].Before(h[j]) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x interface{}) { *h = append(*h, x.(time.Time)) }
func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
