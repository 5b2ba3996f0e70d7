package services

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mikeka317/wager-arbiter/ledger"
	"github.com/mikeka317/wager-arbiter/models"
	"github.com/mikeka317/wager-arbiter/repositories"
	"github.com/mikeka317/wager-arbiter/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	alice   = models.Identity{UserID: "alice", Role: models.RolePlayer}
	bob     = models.Identity{UserID: "bob", Role: models.RolePlayer}
	mallory = models.Identity{UserID: "mallory", Role: models.RolePlayer}
	admin   = models.Identity{UserID: "admin-1", Role: models.RoleAdmin}

	tenDollars = decimal.RequireFromString("10.00")
)

const feeAccount = "house"

type harnessConfig struct {
	engine      EngineConfig
	arbitration ArbitrationConfig
	settlement  SettlementConfig
}

type harnessOption func(*harnessConfig)

func withNoShowWait(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.engine.NoShowWait = d }
}

func withProofPolicy(policy string) harnessOption {
	return func(c *harnessConfig) { c.arbitration.ProofPolicy = policy }
}

type harness struct {
	clock     *testutil.Clock
	engine    *Engine
	publisher *testutil.RecordingPublisher
	notifier  *testutil.RecordingNotifier
	verifier  *testutil.FakeVerifier
	uploader  *testutil.FakeUploader
	ledger    *ledger.MemoryLedger

	matches     MatchService
	scorecards  ScorecardService
	arbitration ArbitrationService
	disputes    DisputeService
	timers      *TimerManager
	settlement  *SettlementService
	tournaments TournamentService
	operator    *OperatorService
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		engine: EngineConfig{
			ScorecardWait: 5 * time.Minute,
			ProofWait:     10 * time.Minute,
			FeeAccountID:  feeAccount,
			FeeRate:       decimal.RequireFromString("0.05"),
		},
		arbitration: ArbitrationConfig{ProofPolicy: ProofPolicyFirst, Timeout: time.Second, MaxAttempts: 3},
		settlement: SettlementConfig{
			MaxAttempts:     3,
			Lease:           time.Minute,
			BatchSize:       100,
			Interval:        time.Hour,
			DisputeWindow:   24 * time.Hour,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	conn := testutil.NewSQLiteDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		clock:     testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		publisher: &testutil.RecordingPublisher{},
		notifier:  &testutil.RecordingNotifier{},
		verifier:  &testutil.FakeVerifier{},
		uploader:  testutil.NewFakeUploader("https://cdn.test"),
		ledger:    ledger.NewMemoryLedger(),
	}

	timers := repositories.NewSQLTimerRepository()
	disputes := repositories.NewSQLDisputeRepository()
	h.operator = NewOperatorService(repositories.NewSQLAlertRepository(conn), h.notifier, h.clock.Now, logger)
	h.engine = NewEngine(EngineDeps{
		DB:          conn,
		Matches:     repositories.NewSQLMatchRepository(timers, disputes),
		Timers:      timers,
		Disputes:    disputes,
		Settlements: repositories.NewSQLSettlementRepository(),
		Alerts:      h.operator,
		Publisher:   h.publisher,
		Clock:       h.clock.Now,
		Logger:      logger,
	}, cfg.engine)

	h.matches = NewMatchService(h.engine)
	h.scorecards = NewScorecardService(h.engine)
	h.arbitration = NewArbitrationService(h.engine, h.verifier, h.uploader, cfg.arbitration)
	h.disputes = NewDisputeService(h.engine)
	h.timers = NewTimerManager(h.engine, TimerConfig{Interval: time.Hour, BatchSize: 100, Concurrency: 4})
	h.settlement = NewSettlementService(h.engine, h.ledger, cfg.settlement)
	h.tournaments = NewTournamentService(h.engine, repositories.NewSQLTournamentRepository(conn))
	return h
}

func (h *harness) createMatch(t *testing.T) *models.Match {
	t.Helper()
	m, err := h.matches.Create(context.Background(), admin, CreateMatchInput{
		Game:         "fifa24",
		Platform:     "ps5",
		ParticipantA: models.ParticipantRef{ID: "alice", DisplayName: "Alice"},
		ParticipantB: models.ParticipantRef{ID: "bob", DisplayName: "Bob"},
		Stake:        tenDollars,
	})
	require.NoError(t, err)
	return m
}

// start проводит матч через ready и start от имени администратора.
func (h *harness) start(t *testing.T, m *models.Match) *models.Match {
	t.Helper()
	ctx := context.Background()
	var err error
	for _, p := range m.ParticipantIDs() {
		m, err = h.matches.SignalReady(ctx, admin, m.ID, p, m.Version)
		require.NoError(t, err)
	}
	for _, p := range m.ParticipantIDs() {
		m, err = h.matches.SignalStart(ctx, admin, m.ID, p, m.Version)
		require.NoError(t, err)
	}
	require.Equal(t, models.StatusInProgress, m.Status)
	return m
}

func (h *harness) startedMatch(t *testing.T) *models.Match {
	t.Helper()
	return h.start(t, h.createMatch(t))
}

func (h *harness) submit(t *testing.T, who models.Identity, m *models.Match, submitter string, scoreA, scoreB int) *SubmitResult {
	t.Helper()
	res, err := h.scorecards.Submit(context.Background(), who, m.ID,
		ScorecardInput{SubmitterID: submitter, ScoreA: scoreA, ScoreB: scoreB}, m.Version)
	require.NoError(t, err)
	return res
}

// play доводит матч до согласованного результата.
func (h *harness) play(t *testing.T, matchID string, scoreA, scoreB int) *models.Match {
	t.Helper()
	m := h.reload(t, matchID)
	m = h.start(t, m)
	res := h.submit(t, admin, m, m.ParticipantA.ID, scoreA, scoreB)
	res = h.submit(t, admin, res.Match, m.ParticipantB.ID, scoreA, scoreB)
	return res.Match
}

// completedMatch - alice выиграла 5:3 по совпавшим протоколам.
func (h *harness) completedMatch(t *testing.T) *models.Match {
	t.Helper()
	m := h.startedMatch(t)
	res := h.submit(t, alice, m, "alice", 5, 3)
	res = h.submit(t, bob, res.Match, "bob", 5, 3)
	require.Equal(t, models.StatusCompleted, res.Match.Status)
	return res.Match
}

// conflictMatch - протоколы разошлись, матч ждёт доказательств.
func (h *harness) conflictMatch(t *testing.T) *models.Match {
	t.Helper()
	m := h.startedMatch(t)
	res := h.submit(t, alice, m, "alice", 5, 3)
	res = h.submit(t, bob, res.Match, "bob", 3, 5)
	require.True(t, res.Conflict)
	return res.Match
}

func (h *harness) reload(t *testing.T, matchID string) *models.Match {
	t.Helper()
	m, err := h.matches.Get(context.Background(), matchID)
	require.NoError(t, err)
	return m
}

func (h *harness) dispatch(t *testing.T) int {
	t.Helper()
	n, err := h.settlement.Dispatch(context.Background())
	require.NoError(t, err)
	return n
}

func (h *harness) settlements(t *testing.T, matchID string) []*models.SettlementInstruction {
	t.Helper()
	list, err := h.settlement.ListByMatch(context.Background(), matchID)
	require.NoError(t, err)
	return list
}

func (h *harness) alertsOfKind(kind models.AlertKind) []models.OperatorAlert {
	out := make([]models.OperatorAlert, 0)
	for _, a := range h.notifier.Alerts() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func statuses(history []models.Transition) []models.MatchStatus {
	out := make([]models.MatchStatus, len(history))
	for i, tr := range history {
		out[i] = tr.ToStatus
	}
	return out
}
