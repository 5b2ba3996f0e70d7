package services

import (
	"context"
	"testing"

	"github.com/mikeka317/wager-arbiter/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) raiseDispute(t *testing.T, m *models.Match) *models.Dispute {
	t.Helper()
	d, err := h.disputes.Raise(context.Background(), bob, m.ID,
		RaiseDisputeInput{Reason: "score screen was edited", Evidence: []string{"https://cdn.test/b.png"}}, m.Version)
	require.NoError(t, err)
	return d
}

func TestDisputeRaiseRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.completedMatch(t)
	input := RaiseDisputeInput{Reason: "wrong result"}

	_, err := h.disputes.Raise(ctx, alice, m.ID, input, m.Version)
	assert.ErrorIs(t, err, ErrNotLosingParty)

	_, err = h.disputes.Raise(ctx, mallory, m.ID, input, m.Version)
	assert.ErrorIs(t, err, ErrNotLosingParty)

	_, err = h.disputes.Raise(ctx, bob, m.ID, RaiseDisputeInput{Reason: "  "}, m.Version)
	assert.ErrorIs(t, err, ErrValidationFailed)

	started := h.startedMatch(t)
	_, err = h.disputes.Raise(ctx, bob, started.ID, input, started.Version)
	assert.ErrorIs(t, err, ErrInvalidState)

	d := h.raiseDispute(t, m)
	assert.Equal(t, models.DisputePending, d.Status)
	assert.Equal(t, "bob", d.RaisedBy)

	got := h.reload(t, m.ID)
	assert.Equal(t, models.StatusDisputed, got.Status)
	assert.Equal(t, m.Version+1, got.Version)
	require.NotNil(t, got.Dispute)
	assert.Equal(t, d.ID, got.Dispute.ID)

	_, err = h.disputes.Raise(ctx, bob, m.ID, input, got.Version)
	assert.ErrorIs(t, err, ErrDisputeExists)

	fetched, err := h.disputes.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.test/b.png"}, fetched.Evidence)

	_, err = h.disputes.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrDisputeNotFound)
}

func TestDisputeRefundOutcomeCannotBeDisputed(t *testing.T) {
	h := newHarness(t)
	m := h.startedMatch(t)
	res := h.submit(t, alice, m, "alice", 1, 1)
	res = h.submit(t, bob, res.Match, "bob", 1, 1)

	_, err := h.disputes.Raise(context.Background(), bob, m.ID, RaiseDisputeInput{Reason: "draw"}, res.Match.Version)
	assert.ErrorIs(t, err, ErrRefundNotDisputed)
}

func TestDisputeResolveAuthorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.completedMatch(t)
	d := h.raiseDispute(t, m)

	_, err := h.disputes.Resolve(ctx, bob, d.ID, ResolveDisputeInput{Decision: models.DecisionRevert}, 0)
	assert.ErrorIs(t, err, ErrForbiddenOperation)

	_, err = h.disputes.Resolve(ctx, admin, d.ID, ResolveDisputeInput{Decision: "coin_flip"}, 0)
	assert.ErrorIs(t, err, ErrInvalidDecision)

	_, err = h.disputes.Resolve(ctx, admin, "missing", ResolveDisputeInput{Decision: models.DecisionRevert}, 0)
	assert.ErrorIs(t, err, ErrDisputeNotFound)

	_, err = h.disputes.Resolve(ctx, admin, d.ID, ResolveDisputeInput{Decision: models.DecisionRevert}, 1)
	assert.ErrorIs(t, err, ErrStaleVersion)
	assert.Equal(t, models.StatusDisputed, h.reload(t, m.ID).Status)
}

func TestDisputeKeepWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.completedMatch(t)
	require.Equal(t, 2, h.dispatch(t))
	d := h.raiseDispute(t, m)

	got, err := h.disputes.Resolve(ctx, admin, d.ID,
		ResolveDisputeInput{Decision: models.DecisionKeepWinner, AdminNotes: "evidence inconclusive"}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)
	assert.Equal(t, "alice", *got.WinnerID)
	assert.Equal(t, *m.OutcomeVersion, *got.OutcomeVersion)
	assert.Len(t, h.settlements(t, m.ID), 2)
	assert.Equal(t, 0, h.dispatch(t))

	resolved, err := h.disputes.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DisputeResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, models.DecisionKeepWinner, *resolved.Resolution)
	assert.Equal(t, "admin-1", *resolved.ResolvedBy)
	assert.Equal(t, "evidence inconclusive", *resolved.AdminNotes)

	_, err = h.disputes.Resolve(ctx, admin, d.ID, ResolveDisputeInput{Decision: models.DecisionRevert}, 0)
	assert.ErrorIs(t, err, ErrDisputeClosed)

	_, err = h.disputes.Raise(ctx, bob, m.ID, RaiseDisputeInput{Reason: "again"}, got.Version)
	assert.ErrorIs(t, err, ErrDisputeExists)
}

func TestDisputeRevertReversesAppliedPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.completedMatch(t)
	require.Equal(t, 2, h.dispatch(t))
	d := h.raiseDispute(t, m)

	got, err := h.disputes.Resolve(ctx, admin, d.ID, ResolveDisputeInput{Decision: models.DecisionRevert}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, "bob", *got.WinnerID)
	assert.Equal(t, models.OutcomeWin, *got.Outcome)
	assert.Greater(t, *got.OutcomeVersion, *m.OutcomeVersion)

	instructions := h.settlements(t, m.ID)
	require.Len(t, instructions, 6)
	reversals := 0
	for _, s := range instructions {
		if s.ReversesID != nil {
			reversals++
			assert.Equal(t, models.OpDebit, s.Operation)
		}
	}
	assert.Equal(t, 2, reversals)

	assert.Equal(t, 4, h.dispatch(t))
	assert.True(t, h.ledger.Balance("alice").IsZero())
	assert.True(t, h.ledger.Balance("bob").Equal(money("19.00")))
	assert.True(t, h.ledger.Balance(feeAccount).Equal(money("1.00")))

	// Повторная отправка ничего не проводит повторно.
	calls := h.ledger.Calls()
	assert.Equal(t, 0, h.dispatch(t))
	assert.Equal(t, calls, h.ledger.Calls())
	assert.Len(t, h.ledger.Entries(), 6)
}

func TestDisputeRevertCancelsPendingPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.completedMatch(t)
	d := h.raiseDispute(t, m)

	_, err := h.disputes.Resolve(ctx, admin, d.ID, ResolveDisputeInput{Decision: models.DecisionRevert}, 0)
	require.NoError(t, err)

	cancelled := 0
	for _, s := range h.settlements(t, m.ID) {
		if s.Status == models.SettlementCancelled {
			cancelled++
		}
		assert.Nil(t, s.ReversesID)
	}
	assert.Equal(t, 2, cancelled)

	assert.Equal(t, 2, h.dispatch(t))
	assert.True(t, h.ledger.Balance("alice").IsZero())
	assert.True(t, h.ledger.Balance("bob").Equal(money("19.00")))
	assert.Len(t, h.ledger.Entries(), 2)
}

func TestDisputeRefundDecision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := h.completedMatch(t)
	require.Equal(t, 2, h.dispatch(t))
	d := h.raiseDispute(t, m)

	got, err := h.disputes.Resolve(ctx, admin, d.ID, ResolveDisputeInput{Decision: models.DecisionRefund}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRefund, *got.Outcome)
	assert.Nil(t, got.WinnerID)

	assert.Equal(t, 4, h.dispatch(t))
	assert.True(t, h.ledger.Balance("alice").Equal(tenDollars))
	assert.True(t, h.ledger.Balance("bob").Equal(tenDollars))
	assert.True(t, h.ledger.Balance(feeAccount).IsZero())

	// resolved - конечный статус.
	_, err = h.disputes.Raise(ctx, alice, m.ID, RaiseDisputeInput{Reason: "no"}, got.Version)
	assert.ErrorIs(t, err, ErrDisputeExists)
}
