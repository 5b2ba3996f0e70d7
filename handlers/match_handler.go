package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mikeka317/wager-arbiter/models"
	"github.com/mikeka317/wager-arbiter/services"
)

const maxEvidenceUpload = 10 << 20 // 10MB

// TimerReader - чтение состояния таймера для опроса клиентом.
type TimerReader interface {
	Status(ctx context.Context, matchID string) (*models.TimerStatus, error)
}

// SettlementReader отдаёт расчётные инструкции матча.
type SettlementReader interface {
	ListByMatch(ctx context.Context, matchID string) ([]*models.SettlementInstruction, error)
}

type MatchHandler struct {
	matchService       services.MatchService
	scorecardService   services.ScorecardService
	arbitrationService services.ArbitrationService
	disputeService     services.DisputeService
	timers             TimerReader
	settlements        SettlementReader
}

func NewMatchHandler(
	ms services.MatchService,
	ss services.ScorecardService,
	as services.ArbitrationService,
	ds services.DisputeService,
	timers TimerReader,
	settlements SettlementReader,
) *MatchHandler {
	return &MatchHandler{
		matchService:       ms,
		scorecardService:   ss,
		arbitrationService: as,
		disputeService:     ds,
		timers:             timers,
		settlements:        settlements,
	}
}

type signalRequest struct {
	ParticipantID   string `json:"participantId"`
	ExpectedVersion *int64 `json:"expectedVersion"`
}

type scorecardRequest struct {
	services.ScorecardInput
	ExpectedVersion *int64 `json:"expectedVersion"`
}

type proofRequest struct {
	services.ProofInput
	ExpectedVersion *int64 `json:"expectedVersion"`
}

type disputeRequest struct {
	services.RaiseDisputeInput
	ExpectedVersion *int64 `json:"expectedVersion"`
}

// Create godoc
// @Summary Создать дуэль со ставкой
// @Tags matches
// @Accept json
// @Produce json
// @Param input body services.CreateMatchInput true "Участники и ставка"
// @Success 201 {object} map[string]interface{} "Матч создан"
// @Failure 403 {object} map[string]string "Только администратор"
// @Failure 422 {object} map[string]string "Ошибка валидации"
// @Security BearerAuth
// @Router /matches [post]
func (h *MatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	var input services.CreateMatchInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	match, err := h.matchService.Create(r.Context(), identity, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeMatch(w, r, http.StatusCreated, match, nil)
}

// Get godoc
// @Summary Получить матч
// @Tags matches
// @Produce json
// @Param matchID path string true "Match ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /matches/{matchID} [get]
func (h *MatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	match, err := h.matchService.Get(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	// Последний вердикт отдельно, чтобы клиенту не искать его в истории.
	writeMatch(w, r, http.StatusOK, match, jsonResponse{"latestVerdict": match.LatestVerdict()})
}

// Ready godoc
// @Summary Участник готов к матчу
// @Tags matches
// @Accept json
// @Produce json
// @Param matchID path string true "Match ID"
// @Param If-Match header string false "Ожидаемая версия матча"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]string "Версия устарела"
// @Security BearerAuth
// @Router /matches/{matchID}/ready [post]
func (h *MatchHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.signal(w, r, h.matchService.SignalReady)
}

// Start godoc
// @Summary Участник начал матч
// @Tags matches
// @Accept json
// @Produce json
// @Param matchID path string true "Match ID"
// @Param If-Match header string false "Ожидаемая версия матча"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]string "Версия устарела"
// @Security BearerAuth
// @Router /matches/{matchID}/start [post]
func (h *MatchHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.signal(w, r, h.matchService.SignalStart)
}

type signalFunc func(ctx context.Context, identity models.Identity, matchID, participantID string, expectedVersion int64) (*models.Match, error)

func (h *MatchHandler) signal(w http.ResponseWriter, r *http.Request, fn signalFunc) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var req signalRequest
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &req); err != nil {
			badRequestResponse(w, r, err)
			return
		}
	}
	version, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	participantID := req.ParticipantID
	if participantID == "" {
		participantID = identity.UserID
	}
	match, err := fn(r.Context(), identity, matchID, participantID, version)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeMatch(w, r, http.StatusOK, match, nil)
}

// SubmitScorecard godoc
// @Summary Подать протокол счёта
// @Description Совпавшие протоколы завершают матч; расхождение переводит матч в ожидание доказательств (conflict=true).
// @Tags matches
// @Accept json
// @Produce json
// @Param matchID path string true "Match ID"
// @Param If-Match header string false "Ожидаемая версия матча"
// @Param input body services.ScorecardInput true "Счёт"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]string "Версия устарела"
// @Failure 422 {object} map[string]string "Повторный протокол или неверный статус"
// @Security BearerAuth
// @Router /matches/{matchID}/scorecard [post]
func (h *MatchHandler) SubmitScorecard(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var req scorecardRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	version, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if req.SubmitterID == "" {
		req.SubmitterID = identity.UserID
	}
	result, err := h.scorecardService.Submit(r.Context(), identity, matchID, req.ScorecardInput, version)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeMatch(w, r, http.StatusOK, result.Match, jsonResponse{"conflict": result.Conflict})
}

// SubmitProof godoc
// @Summary Подать доказательство результата
// @Tags matches
// @Accept json
// @Produce json
// @Param matchID path string true "Match ID"
// @Param If-Match header string false "Ожидаемая версия матча"
// @Param input body services.ProofInput true "Ссылки на доказательства"
// @Success 200 {object} map[string]interface{}
// @Failure 502 {object} map[string]string "ИИ-арбитр недоступен, матч ждёт в ai_verification"
// @Security BearerAuth
// @Router /matches/{matchID}/proof [post]
func (h *MatchHandler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var req proofRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	version, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if req.SubmitterID == "" {
		req.SubmitterID = identity.UserID
	}
	match, err := h.arbitrationService.SubmitProof(r.Context(), identity, matchID, req.ProofInput, version)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeMatch(w, r, http.StatusOK, match, nil)
}

// UploadProof godoc
// @Summary Загрузить снимок экрана как доказательство
// @Tags matches
// @Accept multipart/form-data
// @Produce json
// @Param matchID path string true "Match ID"
// @Param file formData file true "Изображение"
// @Param submitterId formData string false "Участник (по умолчанию текущий пользователь)"
// @Success 201 {object} map[string]string "evidenceRef"
// @Failure 503 {object} map[string]string "Хранилище не настроено"
// @Security BearerAuth
// @Router /matches/{matchID}/proof/upload [post]
func (h *MatchHandler) UploadProof(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEvidenceUpload)
	if err := r.ParseMultipartForm(maxEvidenceUpload); err != nil {
		badRequestResponse(w, r, errors.New("invalid multipart form or file too large"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequestResponse(w, r, errors.New("file field is required"))
		return
	}
	defer file.Close()

	submitterID := strings.TrimSpace(r.FormValue("submitterId"))
	if submitterID == "" {
		submitterID = identity.UserID
	}
	ref, err := h.arbitrationService.UploadEvidence(r.Context(), identity, matchID, submitterID,
		header.Header.Get("Content-Type"), file)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusCreated, jsonResponse{"evidenceRef": ref}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Timer godoc
// @Summary Состояние таймера ожидания
// @Description Только чтение; переходы по таймеру выполняет сервер.
// @Tags matches
// @Produce json
// @Param matchID path string true "Match ID"
// @Success 200 {object} models.TimerStatus
// @Security BearerAuth
// @Router /matches/{matchID}/timer [get]
func (h *MatchHandler) Timer(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	status, err := h.timers.Status(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, status, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// RaiseDispute godoc
// @Summary Оспорить результат (только проигравший)
// @Tags disputes
// @Accept json
// @Produce json
// @Param matchID path string true "Match ID"
// @Param If-Match header string false "Ожидаемая версия матча"
// @Param input body services.RaiseDisputeInput true "Причина и доказательства"
// @Success 201 {object} map[string]interface{}
// @Failure 409 {object} map[string]string "Спор уже есть"
// @Security BearerAuth
// @Router /matches/{matchID}/dispute [post]
func (h *MatchHandler) RaiseDispute(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var req disputeRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	version, err := expectedVersion(r, req.ExpectedVersion)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	dispute, err := h.disputeService.Raise(r.Context(), identity, matchID, req.RaiseDisputeInput, version)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusCreated, jsonResponse{"dispute": dispute}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// RetryArbitration godoc
// @Summary Повторить вызов ИИ-арбитра
// @Tags matches
// @Produce json
// @Param matchID path string true "Match ID"
// @Success 200 {object} map[string]interface{}
// @Failure 502 {object} map[string]string
// @Security BearerAuth
// @Router /matches/{matchID}/arbitration/retry [post]
func (h *MatchHandler) RetryArbitration(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	match, err := h.arbitrationService.RetryArbitration(r.Context(), identity, matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeMatch(w, r, http.StatusOK, match, nil)
}

// Settlements godoc
// @Summary Расчётные инструкции матча
// @Tags matches
// @Produce json
// @Param matchID path string true "Match ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /matches/{matchID}/settlements [get]
func (h *MatchHandler) Settlements(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	list, err := h.settlements.ListByMatch(r.Context(), matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"settlements": list}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
