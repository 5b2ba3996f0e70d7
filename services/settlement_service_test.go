package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mikeka317/wager-arbiter/ledger"
	"github.com/mikeka317/wager-arbiter/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayout(t *testing.T) {
	tests := []struct {
		name       string
		stake      string
		rate       string
		wantWinner string
		wantFee    string
	}{
		{"ten dollar stake", "10.00", "0.05", "19.00", "1.00"},
		{"fee rounds to cents", "0.33", "0.05", "0.63", "0.03"},
		{"half cent rounds up", "0.05", "0.05", "0.09", "0.01"},
		{"no fee", "5.00", "0", "10.00", "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner, fee := Payout(money(tt.stake), money(tt.rate))
			assert.Equal(t, tt.wantWinner, winner.StringFixed(2))
			assert.Equal(t, tt.wantFee, fee.StringFixed(2))
			assert.True(t, winner.Add(fee).Equal(money(tt.stake).Mul(money("2"))))
		})
	}
}

func TestSettlementConcurrentDispatchAppliesOnce(t *testing.T) {
	h := newHarness(t)
	m := h.completedMatch(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := h.settlement.Dispatch(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			applied += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, applied)
	assert.Equal(t, 2, h.ledger.Calls())
	for _, s := range h.settlements(t, m.ID) {
		assert.Equal(t, models.SettlementApplied, s.Status)
		assert.Equal(t, 1, s.Attempts)
		assert.NotNil(t, s.AppliedAt)
	}
	assert.True(t, h.ledger.Balance("alice").Equal(money("19.00")))
}

func TestSettlementRetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	m := h.completedMatch(t)
	h.ledger.FailNext(2, ledger.ErrUnavailable)

	assert.Equal(t, 2, h.dispatch(t))

	attempts := 0
	for _, s := range h.settlements(t, m.ID) {
		assert.Equal(t, models.SettlementApplied, s.Status)
		attempts += s.Attempts
	}
	assert.Equal(t, 4, attempts)
	assert.Empty(t, h.alertsOfKind(models.AlertSettlementFailed))
}

func TestSettlementExhaustedAttemptsFail(t *testing.T) {
	h := newHarness(t)
	m := h.completedMatch(t)
	h.ledger.FailNext(3, ledger.ErrUnavailable)

	assert.Equal(t, 1, h.dispatch(t))

	failed := 0
	for _, s := range h.settlements(t, m.ID) {
		if s.Status == models.SettlementFailed {
			failed++
			assert.Equal(t, 3, s.Attempts)
			require.NotNil(t, s.LastError)
		}
	}
	assert.Equal(t, 1, failed)

	alerts := h.alertsOfKind(models.AlertSettlementFailed)
	require.Len(t, alerts, 1)
	assert.Equal(t, m.ID, *alerts[0].MatchID)

	// Проваленная инструкция больше не отправляется.
	assert.Equal(t, 0, h.dispatch(t))
}

func TestSettlementRejectionIsPermanent(t *testing.T) {
	h := newHarness(t)
	m := h.completedMatch(t)
	h.ledger.FailNext(1, ledger.ErrRejected)

	assert.Equal(t, 1, h.dispatch(t))
	assert.Equal(t, 2, h.ledger.Calls())

	for _, s := range h.settlements(t, m.ID) {
		if s.Status == models.SettlementFailed {
			assert.Equal(t, 1, s.Attempts)
		}
	}
	assert.Len(t, h.alertsOfKind(models.AlertSettlementFailed), 1)
}

func TestSettlementFailedOriginalAlertsOnReversal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.completedMatch(t)
	h.ledger.FailNext(3, ledger.ErrUnavailable)
	require.Equal(t, 1, h.dispatch(t))
	d := h.raiseDispute(t, m)

	_, err := h.disputes.Resolve(ctx, admin, d.ID, ResolveDisputeInput{Decision: models.DecisionRevert}, 0)
	require.NoError(t, err)

	reversals := 0
	for _, s := range h.settlements(t, m.ID) {
		if s.ReversesID != nil {
			reversals++
		}
	}
	// Компенсируется только проведённая инструкция.
	assert.Equal(t, 1, reversals)
	assert.Equal(t, 3, h.dispatch(t))
	assert.True(t, h.ledger.Balance("bob").Equal(money("19.00")))
}

func TestSettlementArchive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.completedMatch(t)

	h.clock.Advance(25 * time.Hour)
	n, err := h.settlement.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "pending settlements block archiving")

	require.Equal(t, 2, h.dispatch(t))
	n, err = h.settlement.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotNil(t, h.reload(t, m.ID).ArchivedAt)

	n, err = h.settlement.Archive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSettlementArchiveWaitsForDisputeWindow(t *testing.T) {
	h := newHarness(t)
	m := h.completedMatch(t)
	require.Equal(t, 2, h.dispatch(t))

	h.clock.Advance(time.Hour)
	n, err := h.settlement.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Nil(t, h.reload(t, m.ID).ArchivedAt)
}

func TestSettlementListByUnknownMatch(t *testing.T) {
	h := newHarness(t)
	_, err := h.settlement.ListByMatch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}
