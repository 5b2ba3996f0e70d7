package handlers

import (
	"net/http"

	"github.com/mikeka317/wager-arbiter/services"
)

type DisputeHandler struct {
	disputeService services.DisputeService
}

func NewDisputeHandler(ds services.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputeService: ds}
}

type resolveRequest struct {
	services.ResolveDisputeInput
	ExpectedVersion *int64 `json:"expectedVersion"`
}

// Get godoc
// @Summary Получить спор
// @Tags disputes
// @Produce json
// @Param disputeID path string true "Dispute ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /disputes/{disputeID} [get]
func (h *DisputeHandler) Get(w http.ResponseWriter, r *http.Request) {
	disputeID, err := getIDFromURL(r, "disputeID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	dispute, err := h.disputeService.Get(r.Context(), disputeID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"dispute": dispute}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Resolve godoc
// @Summary Решение администратора по спору
// @Description decision: keep_winner, revert или refund. Версия матча необязательна.
// @Tags disputes
// @Accept json
// @Produce json
// @Param disputeID path string true "Dispute ID"
// @Param If-Match header string false "Ожидаемая версия матча"
// @Param input body services.ResolveDisputeInput true "Решение"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]string "Спор уже закрыт или версия устарела"
// @Security BearerAuth
// @Router /disputes/{disputeID}/resolve [post]
func (h *DisputeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	disputeID, err := getIDFromURL(r, "disputeID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var req resolveRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var version int64
	if r.Header.Get("If-Match") != "" || req.ExpectedVersion != nil {
		if version, err = expectedVersion(r, req.ExpectedVersion); err != nil {
			badRequestResponse(w, r, err)
			return
		}
	}

	match, err := h.disputeService.Resolve(r.Context(), identity, disputeID, req.ResolveDisputeInput, version)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	writeMatch(w, r, http.StatusOK, match, nil)
}
