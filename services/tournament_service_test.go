package services

import (
	"context"
	"testing"

	"github.com/mikeka317/wager-arbiter/brackets"
	"github.com/mikeka317/wager-arbiter/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) createTournament(t *testing.T, players ...string) *models.Tournament {
	t.Helper()
	entries := make([]models.ParticipantEntry, len(players))
	for i, p := range players {
		entries[i] = models.ParticipantEntry{ID: p, DisplayName: p}
	}
	tournament, err := h.tournaments.Create(context.Background(), admin, CreateTournamentInput{
		Name:         "Friday cup",
		Game:         "fifa24",
		Platform:     "ps5",
		Stake:        tenDollars,
		Participants: entries,
	})
	require.NoError(t, err)
	return tournament
}

func (h *harness) tournament(t *testing.T, id string) *models.Tournament {
	t.Helper()
	tournament, err := h.tournaments.Get(context.Background(), id)
	require.NoError(t, err)
	return tournament
}

func slotByUID(t *testing.T, tournament *models.Tournament, uid string) models.BracketSlot {
	t.Helper()
	for _, s := range tournament.Slots {
		if s.UID == uid {
			return s
		}
	}
	t.Fatalf("slot %s not found", uid)
	return models.BracketSlot{}
}

func slotMatchID(t *testing.T, tournament *models.Tournament, uid string) string {
	t.Helper()
	slot := slotByUID(t, tournament, uid)
	require.NotNil(t, slot.MatchID, "slot %s has no match", uid)
	return *slot.MatchID
}

func TestTournamentCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	input := CreateTournamentInput{
		Name:         "cup",
		Game:         "fifa24",
		Stake:        tenDollars,
		Participants: []models.ParticipantEntry{{ID: "alice"}, {ID: "bob"}},
	}

	_, err := h.tournaments.Create(ctx, alice, input)
	assert.ErrorIs(t, err, ErrForbiddenOperation)

	one := input
	one.Participants = input.Participants[:1]
	_, err = h.tournaments.Create(ctx, admin, one)
	assert.ErrorIs(t, err, ErrValidationFailed)

	dup := input
	dup.Participants = []models.ParticipantEntry{{ID: "alice"}, {ID: "alice"}}
	_, err = h.tournaments.Create(ctx, admin, dup)
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = h.tournaments.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTournamentNotFound)
}

func TestTournamentFourPlayersProducesChampion(t *testing.T) {
	h := newHarness(t)
	tournament := h.createTournament(t, "alice", "bob", "carol", "dave")

	assert.Equal(t, 2, tournament.Rounds)
	assert.Len(t, tournament.Slots, 3)
	assert.Len(t, tournament.Matches, 2)
	final := slotByUID(t, tournament, "R2M1")
	assert.Nil(t, final.MatchID)

	semi1 := h.play(t, slotMatchID(t, tournament, "R1M1"), 3, 0)
	tournament = h.tournament(t, tournament.ID)
	assert.Nil(t, slotByUID(t, tournament, "R2M1").MatchID, "final waits for the whole round")

	semi2 := h.play(t, slotMatchID(t, tournament, "R1M2"), 0, 2)
	tournament = h.tournament(t, tournament.ID)
	final = slotByUID(t, tournament, "R2M1")
	require.NotNil(t, final.MatchID)
	assert.Equal(t, *semi1.WinnerID, *final.ParticipantA)
	assert.Equal(t, *semi2.WinnerID, *final.ParticipantB)

	finalMatch := h.play(t, *final.MatchID, 1, 0)
	require.NotNil(t, finalMatch.TournamentID)

	tournament = h.tournament(t, tournament.ID)
	assert.Equal(t, models.TournamentCompleted, tournament.Status)
	require.NotNil(t, tournament.ChampionID)
	assert.Equal(t, *semi1.WinnerID, *tournament.ChampionID)
	assert.Len(t, tournament.Matches, 3)
	assert.NotEmpty(t, h.publisher.Events(brackets.TournamentRoom(tournament.ID)))

	// Каждый матч сетки рассчитывается отдельно.
	assert.Equal(t, 6, h.dispatch(t))
}

func TestTournamentByeAdvancesAutomatically(t *testing.T) {
	h := newHarness(t)
	tournament := h.createTournament(t, "alice", "bob", "carol")

	var (
		byeWinner string
		matchUID  string
	)
	for _, s := range tournament.Slots {
		if s.Round != 1 {
			continue
		}
		if s.IsBye {
			require.NotNil(t, s.ByeParticipantID)
			assert.True(t, s.Decided)
			byeWinner = *s.ByeParticipantID
		} else {
			matchUID = s.UID
		}
	}
	require.NotEmpty(t, byeWinner)
	require.NotEmpty(t, matchUID)
	assert.Len(t, tournament.Matches, 1)

	played := h.play(t, slotMatchID(t, tournament, matchUID), 2, 1)

	tournament = h.tournament(t, tournament.ID)
	final := slotByUID(t, tournament, "R2M1")
	require.NotNil(t, final.MatchID)
	finalMatch := h.reload(t, *final.MatchID)
	assert.ElementsMatch(t, []string{byeWinner, *played.WinnerID}, finalMatch.ParticipantIDs())
}

func TestTournamentRefundedFinalHasNoChampion(t *testing.T) {
	h := newHarness(t)
	tournament := h.createTournament(t, "alice", "bob")
	require.Equal(t, 1, tournament.Rounds)

	h.play(t, slotMatchID(t, tournament, "R1M1"), 2, 2)

	tournament = h.tournament(t, tournament.ID)
	assert.Equal(t, models.TournamentCompleted, tournament.Status)
	assert.Nil(t, tournament.ChampionID)
	alerts := h.alertsOfKind(models.AlertTournamentNoChampion)
	require.Len(t, alerts, 1)
	assert.Equal(t, tournament.ID, *alerts[0].TournamentID)
}

func TestTournamentDisputeHoldsRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tournament := h.createTournament(t, "alice", "bob", "carol", "dave")

	semi1 := h.play(t, slotMatchID(t, tournament, "R1M1"), 3, 0)
	dispute, err := h.disputes.Raise(ctx, models.Identity{UserID: semi1.LoserID(), Role: models.RolePlayer},
		semi1.ID, RaiseDisputeInput{Reason: "opponent disconnected"}, semi1.Version)
	require.NoError(t, err)

	h.play(t, slotMatchID(t, tournament, "R1M2"), 3, 0)
	tournament = h.tournament(t, tournament.ID)
	assert.Nil(t, slotByUID(t, tournament, "R2M1").MatchID, "disputed match holds the next round")

	_, err = h.disputes.Resolve(ctx, admin, dispute.ID, ResolveDisputeInput{Decision: models.DecisionKeepWinner}, 0)
	require.NoError(t, err)

	tournament = h.tournament(t, tournament.ID)
	final := slotByUID(t, tournament, "R2M1")
	require.NotNil(t, final.MatchID)
	assert.Equal(t, *semi1.WinnerID, *final.ParticipantA)
}

func TestTournamentRevertAfterAdvanceRaisesAlert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tournament := h.createTournament(t, "alice", "bob", "carol", "dave")

	semi1 := h.play(t, slotMatchID(t, tournament, "R1M1"), 3, 0)
	h.play(t, slotMatchID(t, tournament, "R1M2"), 3, 0)
	tournament = h.tournament(t, tournament.ID)
	require.NotNil(t, slotByUID(t, tournament, "R2M1").MatchID)

	loser := semi1.LoserID()
	dispute, err := h.disputes.Raise(ctx, models.Identity{UserID: loser, Role: models.RolePlayer},
		semi1.ID, RaiseDisputeInput{Reason: "screenshot forged"}, semi1.Version)
	require.NoError(t, err)
	_, err = h.disputes.Resolve(ctx, admin, dispute.ID, ResolveDisputeInput{Decision: models.DecisionRevert}, 0)
	require.NoError(t, err)

	tournament = h.tournament(t, tournament.ID)
	slot := slotByUID(t, tournament, "R1M1")
	require.NotNil(t, slot.WinnerID)
	assert.Equal(t, loser, *slot.WinnerID)

	alerts := h.alertsOfKind(models.AlertBracketOutcomeChanged)
	require.Len(t, alerts, 1)
	assert.Equal(t, semi1.ID, *alerts[0].MatchID)
	assert.Equal(t, tournament.ID, *alerts[0].TournamentID)
}

func TestTournamentReconcileIsIdempotent(t *testing.T) {
	h := newHarness(t)
	tournament := h.createTournament(t, "alice", "bob", "carol", "dave")
	h.play(t, slotMatchID(t, tournament, "R1M1"), 1, 0)
	h.play(t, slotMatchID(t, tournament, "R1M2"), 1, 0)

	before := h.tournament(t, tournament.ID)
	require.NoError(t, h.tournaments.ReconcileActive(context.Background()))
	require.NoError(t, h.tournaments.ReconcileActive(context.Background()))
	after := h.tournament(t, tournament.ID)

	assert.Len(t, after.Matches, len(before.Matches))
	assert.Equal(t, *slotByUID(t, before, "R2M1").MatchID, *slotByUID(t, after, "R2M1").MatchID)
}
