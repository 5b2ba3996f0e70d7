package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/mikeka317/wager-arbiter/brackets"
	"github.com/mikeka317/wager-arbiter/handlers"
	"github.com/mikeka317/wager-arbiter/ledger"
	"github.com/mikeka317/wager-arbiter/middleware"
	"github.com/mikeka317/wager-arbiter/models"
	"github.com/mikeka317/wager-arbiter/repositories"
	"github.com/mikeka317/wager-arbiter/services"
	"github.com/mikeka317/wager-arbiter/testutil"
	"github.com/mikeka317/wager-arbiter/verifier"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jwtSecret = []byte("routes-test-secret")

type apiClient struct {
	t        *testing.T
	server   *httptest.Server
	tokens   map[string]string
	ledger   *ledger.MemoryLedger
	verifier *testutil.FakeVerifier
	settle   *services.SettlementService
	hub      *brackets.Hub
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	conn := testutil.NewSQLiteDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	hub := brackets.NewHub(logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	t.Cleanup(stopHub)
	go hub.Run(hubCtx)

	timers := repositories.NewSQLTimerRepository()
	disputes := repositories.NewSQLDisputeRepository()
	operator := services.NewOperatorService(repositories.NewSQLAlertRepository(conn), &testutil.RecordingNotifier{}, clock.Now, logger)
	engine := services.NewEngine(services.EngineDeps{
		DB:          conn,
		Matches:     repositories.NewSQLMatchRepository(timers, disputes),
		Timers:      timers,
		Disputes:    disputes,
		Settlements: repositories.NewSQLSettlementRepository(),
		Alerts:      operator,
		Publisher:   hub,
		Clock:       clock.Now,
		Logger:      logger,
	}, services.EngineConfig{
		ScorecardWait: 5 * time.Minute,
		ProofWait:     10 * time.Minute,
		FeeAccountID:  "house",
		FeeRate:       decimal.RequireFromString("0.05"),
	})

	mem := ledger.NewMemoryLedger()
	fakeVerifier := &testutil.FakeVerifier{}
	disputeService := services.NewDisputeService(engine)
	timerManager := services.NewTimerManager(engine, services.TimerConfig{Interval: time.Hour})
	settlement := services.NewSettlementService(engine, mem, services.SettlementConfig{
		Interval:        time.Hour,
		DisputeWindow:   24 * time.Hour,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})

	router := chi.NewRouter()
	SetupRoutes(router, Options{JWTSecret: jwtSecret},
		handlers.NewMatchHandler(
			services.NewMatchService(engine),
			services.NewScorecardService(engine),
			services.NewArbitrationService(engine, fakeVerifier, testutil.NewFakeUploader("https://cdn.test"),
				services.ArbitrationConfig{ProofPolicy: services.ProofPolicyFirst, Timeout: time.Second, MaxAttempts: 3}),
			disputeService,
			timerManager,
			settlement,
		),
		handlers.NewDisputeHandler(disputeService),
		handlers.NewTournamentHandler(services.NewTournamentService(engine, repositories.NewSQLTournamentRepository(conn))),
		handlers.NewOperatorHandler(operator),
		handlers.NewWebSocketHandler(hub, logger),
	)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	c := &apiClient{t: t, server: server, tokens: map[string]string{}, ledger: mem, verifier: fakeVerifier, settle: settlement, hub: hub}
	for user, role := range map[string]models.UserRole{
		"alice": models.RolePlayer, "bob": models.RolePlayer, "admin": models.RoleAdmin, "system": models.RoleSystem,
	} {
		token, err := middleware.IssueToken(jwtSecret, user, role, time.Hour)
		require.NoError(t, err)
		c.tokens[user] = token
	}
	return c
}

type apiResponse struct {
	status int
	etag   string
	body   map[string]interface{}
}

func (r apiResponse) version(t *testing.T) int64 {
	t.Helper()
	v, err := strconv.ParseInt(strings.Trim(r.etag, `"`), 10, 64)
	require.NoError(t, err, "etag %q", r.etag)
	return v
}

func (r apiResponse) match() map[string]interface{} {
	m, _ := r.body["match"].(map[string]interface{})
	return m
}

func (c *apiClient) do(method, path, user string, body interface{}, version int64) apiResponse {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+c.tokens[user])
	}
	if version > 0 {
		req.Header.Set("If-Match", strconv.Quote(strconv.FormatInt(version, 10)))
	}

	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	out := apiResponse{status: resp.StatusCode, etag: resp.Header.Get("ETag")}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(c.t, json.Unmarshal(raw, &out.body), string(raw))
	}
	return out
}

// playToCompletion создаёт матч, проводит его через готовность и старт и подаёт совпавшие протоколы 5:3.
func (c *apiClient) playToCompletion() (string, int64) {
	t := c.t
	t.Helper()
	created := c.do(http.MethodPost, "/matches", "admin", map[string]interface{}{
		"game":         "fifa24",
		"participantA": map[string]string{"id": "alice", "displayName": "Alice"},
		"participantB": map[string]string{"id": "bob", "displayName": "Bob"},
		"stake":        "10.00",
	}, 0)
	require.Equal(t, http.StatusCreated, created.status, created.body)
	id := created.match()["id"].(string)
	version := created.version(t)
	assert.Equal(t, int64(1), version)

	for _, step := range []string{"ready", "start"} {
		for _, user := range []string{"alice", "bob"} {
			resp := c.do(http.MethodPost, "/matches/"+id+"/"+step, user, nil, version)
			require.Equal(t, http.StatusOK, resp.status, resp.body)
			version = resp.version(t)
		}
	}

	first := c.do(http.MethodPost, "/matches/"+id+"/scorecard", "alice", map[string]int{"scoreA": 5, "scoreB": 3}, version)
	require.Equal(t, http.StatusOK, first.status, first.body)
	assert.Equal(t, false, first.body["conflict"])
	version = first.version(t)

	second := c.do(http.MethodPost, "/matches/"+id+"/scorecard", "bob", map[string]interface{}{
		"scoreA": 5, "scoreB": 3, "expectedVersion": version,
	}, 0)
	require.Equal(t, http.StatusOK, second.status, second.body)
	assert.Equal(t, string(models.StatusCompleted), second.match()["status"])
	assert.Equal(t, "alice", second.match()["winnerId"])
	return id, second.version(t)
}

func TestHealthAndAuthentication(t *testing.T) {
	api := newAPI(t)

	resp := api.do(http.MethodGet, "/health", "", nil, 0)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "ok", resp.body["status"])

	resp = api.do(http.MethodGet, "/matches/anything", "", nil, 0)
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = api.do(http.MethodGet, "/matches/missing", "alice", nil, 0)
	assert.Equal(t, http.StatusNotFound, resp.status)

	resp = api.do(http.MethodPost, "/matches", "alice", map[string]string{"game": "fifa24"}, 0)
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = api.do(http.MethodGet, "/operator/alerts", "bob", nil, 0)
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = api.do(http.MethodGet, "/operator/alerts", "admin", nil, 0)
	assert.Equal(t, http.StatusOK, resp.status)
}

func TestMatchLifecycleOverHTTP(t *testing.T) {
	api := newAPI(t)
	id, version := api.playToCompletion()

	got := api.do(http.MethodGet, "/matches/"+id, "bob", nil, 0)
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, version, got.version(t))

	timer := api.do(http.MethodGet, "/matches/"+id+"/timer", "alice", nil, 0)
	require.Equal(t, http.StatusOK, timer.status)
	assert.Equal(t, false, timer.body["hasTimer"])

	settlements := api.do(http.MethodGet, "/matches/"+id+"/settlements", "alice", nil, 0)
	require.Equal(t, http.StatusOK, settlements.status)
	assert.Len(t, settlements.body["settlements"], 2)

	_, err := api.settle.Dispatch(context.Background())
	require.NoError(t, err)
	assert.True(t, api.ledger.Balance("alice").Equal(decimal.RequireFromString("19")))
}

func TestArbitrationOverHTTP(t *testing.T) {
	api := newAPI(t)
	created := api.do(http.MethodPost, "/matches", "admin", map[string]interface{}{
		"game":         "fifa24",
		"participantA": map[string]string{"id": "alice"},
		"participantB": map[string]string{"id": "bob"},
		"stake":        "10",
	}, 0)
	require.Equal(t, http.StatusCreated, created.status, created.body)
	id := created.match()["id"].(string)
	version := created.version(t)

	got := api.do(http.MethodGet, "/matches/"+id, "alice", nil, 0)
	require.Equal(t, http.StatusOK, got.status)
	assert.Contains(t, got.body, "latestVerdict")
	assert.Nil(t, got.body["latestVerdict"])

	for _, step := range []string{"ready", "start"} {
		for _, user := range []string{"alice", "bob"} {
			resp := api.do(http.MethodPost, "/matches/"+id+"/"+step, user, nil, version)
			require.Equal(t, http.StatusOK, resp.status, resp.body)
			version = resp.version(t)
		}
	}
	resp := api.do(http.MethodPost, "/matches/"+id+"/scorecard", "alice", map[string]int{"scoreA": 5, "scoreB": 3}, version)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	resp = api.do(http.MethodPost, "/matches/"+id+"/scorecard", "bob", map[string]int{"scoreA": 2, "scoreB": 4}, resp.version(t))
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, true, resp.body["conflict"])

	api.verifier.Respond(&verifier.Verdict{
		WinnerParticipantID: "alice",
		Confidence:          0.9,
		EvidenceQuality:     models.EvidenceHigh,
		Reasoning:           "final score screen shows 5:3",
	}, nil)
	resp = api.do(http.MethodPost, "/matches/"+id+"/proof", "alice", map[string]interface{}{
		"submitterId": "alice", "evidenceRefs": []string{"https://cdn.test/a.png"},
	}, resp.version(t))
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, string(models.StatusCompleted), resp.match()["status"])

	got = api.do(http.MethodGet, "/matches/"+id, "bob", nil, 0)
	require.Equal(t, http.StatusOK, got.status)
	latest, ok := got.body["latestVerdict"].(map[string]interface{})
	require.True(t, ok, got.body)
	assert.Equal(t, "alice", latest["winnerParticipantId"])
	assert.Equal(t, 0.9, latest["confidence"])
}

func TestVersionHandling(t *testing.T) {
	api := newAPI(t)
	created := api.do(http.MethodPost, "/matches", "system", map[string]interface{}{
		"game":         "fifa24",
		"participantA": map[string]string{"id": "alice"},
		"participantB": map[string]string{"id": "bob"},
		"stake":        "5",
	}, 0)
	require.Equal(t, http.StatusCreated, created.status, created.body)
	id := created.match()["id"].(string)

	resp := api.do(http.MethodPost, "/matches/"+id+"/ready", "alice", nil, 0)
	assert.Equal(t, http.StatusBadRequest, resp.status, "version is required")

	resp = api.do(http.MethodPost, "/matches/"+id+"/ready", "alice", nil, 7)
	assert.Equal(t, http.StatusConflict, resp.status)

	resp = api.do(http.MethodPost, "/matches/"+id+"/ready", "alice", map[string]interface{}{"participantId": "bob"}, 1)
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = api.do(http.MethodPost, "/matches/"+id+"/scorecard", "alice", map[string]int{"scoreA": 1, "scoreB": 0}, 1)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status, "scorecards are not accepted before start")

	resp = api.do(http.MethodPost, "/matches/"+id+"/ready", "alice", map[string]interface{}{"unknown": true}, 1)
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestDisputeOverHTTP(t *testing.T) {
	api := newAPI(t)
	id, version := api.playToCompletion()

	resp := api.do(http.MethodPost, "/matches/"+id+"/dispute", "alice", map[string]string{"reason": "I won anyway"}, version)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status, "only the loser can dispute")

	raised := api.do(http.MethodPost, "/matches/"+id+"/dispute", "bob", map[string]interface{}{
		"reason": "score screen was edited", "evidence": []string{"https://cdn.test/b.png"},
	}, version)
	require.Equal(t, http.StatusCreated, raised.status, raised.body)
	dispute := raised.body["dispute"].(map[string]interface{})
	disputeID := dispute["id"].(string)

	again := api.do(http.MethodPost, "/matches/"+id+"/dispute", "bob", map[string]string{"reason": "again"}, version+1)
	assert.Equal(t, http.StatusConflict, again.status)

	resp = api.do(http.MethodPost, "/disputes/"+disputeID+"/resolve", "bob", map[string]string{"decision": "revert"}, 0)
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = api.do(http.MethodPost, "/disputes/"+disputeID+"/resolve", "admin", map[string]string{"decision": "maybe"}, 0)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status)

	resolved := api.do(http.MethodPost, "/disputes/"+disputeID+"/resolve", "admin", map[string]string{
		"decision": "revert", "adminNotes": "edited screenshot",
	}, 0)
	require.Equal(t, http.StatusOK, resolved.status, resolved.body)
	assert.Equal(t, "bob", resolved.match()["winnerId"])
	assert.Equal(t, string(models.StatusResolved), resolved.match()["status"])

	closed := api.do(http.MethodPost, "/disputes/"+disputeID+"/resolve", "admin", map[string]string{"decision": "refund"}, 0)
	assert.Equal(t, http.StatusConflict, closed.status)

	fetched := api.do(http.MethodGet, "/disputes/"+disputeID, "alice", nil, 0)
	require.Equal(t, http.StatusOK, fetched.status)
	assert.Equal(t, string(models.DisputeResolved), fetched.body["dispute"].(map[string]interface{})["status"])
}

func TestTournamentOverHTTP(t *testing.T) {
	api := newAPI(t)
	created := api.do(http.MethodPost, "/tournaments", "admin", map[string]interface{}{
		"name":  "Friday cup",
		"game":  "fifa24",
		"stake": "10",
		"participants": []map[string]string{
			{"id": "alice"}, {"id": "bob"}, {"id": "carol"}, {"id": "dave"},
		},
	}, 0)
	require.Equal(t, http.StatusCreated, created.status, created.body)
	tournament := created.body["tournament"].(map[string]interface{})

	got := api.do(http.MethodGet, "/tournaments/"+tournament["id"].(string), "alice", nil, 0)
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, "Friday cup", got.body["tournament"].(map[string]interface{})["name"])

	resp := api.do(http.MethodPost, "/tournaments", "admin", map[string]interface{}{
		"name": "Solo", "game": "fifa24", "stake": "10", "participants": []map[string]string{{"id": "alice"}},
	}, 0)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status)
}

func TestMatchRoomReceivesUpdates(t *testing.T) {
	api := newAPI(t)
	created := api.do(http.MethodPost, "/matches", "admin", map[string]interface{}{
		"game":         "fifa24",
		"participantA": map[string]string{"id": "alice"},
		"participantB": map[string]string{"id": "bob"},
		"stake":        "10",
	}, 0)
	require.Equal(t, http.StatusCreated, created.status, created.body)
	id := created.match()["id"].(string)

	wsURL := "ws" + strings.TrimPrefix(api.server.URL, "http") + "/ws/matches/" + id + "?token=" + api.tokens["bob"]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return api.hub.RoomSize(brackets.MatchRoom(id)) == 1 },
		time.Second, 10*time.Millisecond)

	resp := api.do(http.MethodPost, "/matches/"+id+"/ready", "alice", nil, created.version(t))
	require.Equal(t, http.StatusOK, resp.status, resp.body)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string                 `json:"type"`
		Payload map[string]interface{} `json:"payload"`
		RoomID  string                 `json:"room_id"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, services.EventMatchUpdated, msg.Type)
	assert.Equal(t, brackets.MatchRoom(id), msg.RoomID)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(api.server.URL, "http")+"/ws/matches/"+id, nil)
	assert.Error(t, err, "websocket requires a token")
}
