package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/pkg/response"
)

type intentService interface {
	List(ctx context.Context, filter models.IntentFilter) ([]models.Intent, error)
	Retry(ctx context.Context, id string) (*models.Intent, error)
}

// IntentHandler exposes side-effect remediation.
type IntentHandler struct {
	service intentService
}

// NewIntentHandler constructs the handler.
func NewIntentHandler(service intentService) *IntentHandler {
	return &IntentHandler{service: service}
}

// List godoc
// @Summary List workflow intents
// @Tags Intents
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param requestId query string false "Originating request"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Router /intents [get]
func (h *IntentHandler) List(c *gin.Context) {
	filter := models.IntentFilter{
		RequestID: strings.TrimSpace(c.Query("requestId")),
		Limit:     queryInt(c, "limit", 100),
	}
	for _, status := range queryList(c, "status") {
		filter.Status = append(filter.Status, models.IntentStatus(strings.ToUpper(status)))
	}
	intents, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, intents, nil, map[string]interface{}{"count": len(intents)})
}

// Retry godoc
// @Summary Re-execute a failed intent
// @Tags Intents
// @Produce json
// @Param id path string true "Intent ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /intents/{id}/retry [post]
func (h *IntentHandler) Retry(c *gin.Context) {
	intent, err := h.service.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, intent, nil)
}
