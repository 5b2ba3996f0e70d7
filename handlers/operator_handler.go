package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/mikeka317/wager-arbiter/models"
)

// AlertQueue - очередь оповещений операторов.
type AlertQueue interface {
	List(ctx context.Context, identity models.Identity, openOnly bool, limit int) ([]*models.OperatorAlert, error)
	Acknowledge(ctx context.Context, identity models.Identity, alertID string) (*models.OperatorAlert, error)
}

type OperatorHandler struct {
	alerts AlertQueue
}

func NewOperatorHandler(alerts AlertQueue) *OperatorHandler {
	return &OperatorHandler{alerts: alerts}
}

// ListAlerts godoc
// @Summary Очередь оповещений операторов
// @Tags operator
// @Produce json
// @Param all query bool false "Включая подтверждённые"
// @Param limit query int false "Максимум записей" default(50)
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]string
// @Security BearerAuth
// @Router /operator/alerts [get]
func (h *OperatorHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	openOnly := query.Get("all") != "true"
	limit := 50
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequestResponse(w, r, errors.New("invalid limit query parameter"))
			return
		}
		limit = n
	}

	alerts, err := h.alerts.List(r.Context(), identity, openOnly, limit)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"alerts": alerts}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// AcknowledgeAlert godoc
// @Summary Подтвердить оповещение
// @Tags operator
// @Produce json
// @Param alertID path string true "Alert ID"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]string "Уже подтверждено"
// @Security BearerAuth
// @Router /operator/alerts/{alertID}/ack [post]
func (h *OperatorHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	alertID, err := getIDFromURL(r, "alertID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	alert, err := h.alerts.Acknowledge(r.Context(), identity, alertID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"alert": alert}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Health godoc
// @Summary Проверка живости
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func Health(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, jsonResponse{"status": "ok"}, nil)
}
