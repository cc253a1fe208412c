package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/internal/service"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
	"github.com/noah-isme/academy-portal-api/pkg/response"
)

type requestService interface {
	Create(ctx context.Context, input service.CreateRequestInput, actor *models.JWTClaims) (*models.Request, error)
	Get(ctx context.Context, id string) (*models.Request, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
	Transition(ctx context.Context, id string, input service.TransitionInput, actor *models.JWTClaims) (*models.Request, error)
	Delete(ctx context.Context, id string, actor *models.JWTClaims) error
}

// RequestHandler exposes intake requests and their lifecycle.
type RequestHandler struct {
	service requestService
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(service requestService) *RequestHandler {
	return &RequestHandler{service: service}
}

// Create godoc
// @Summary Submit an intake request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body service.CreateRequestInput true "Request"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	var input service.CreateRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}
	input.Type = models.RequestType(strings.ToUpper(strings.TrimSpace(string(input.Type))))
	req, err := h.service.Create(c.Request.Context(), input, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}

// List godoc
// @Summary List requests
// @Tags Requests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param type query string false "Request type"
// @Param adminId query string false "Assigned admin"
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(c, "pageSize", 50)
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	filter := models.RequestFilter{
		Type:            models.RequestType(strings.ToUpper(strings.TrimSpace(c.Query("type")))),
		AssignedAdminID: strings.TrimSpace(c.Query("adminId")),
		Limit:           pageSize,
		Offset:          (page - 1) * pageSize,
	}
	for _, status := range queryList(c, "status") {
		filter.Status = append(filter.Status, models.RequestStatus(strings.ToUpper(status)))
	}
	requests, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil, map[string]interface{}{"page": page, "page_size": pageSize, "count": len(requests)})
}

// Get godoc
// @Summary Get a request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	req, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Transition godoc
// @Summary Apply a lifecycle event
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.TransitionInput true "Event"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id} [patch]
func (h *RequestHandler) Transition(c *gin.Context) {
	var input service.TransitionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	req, err := h.service.Transition(c.Request.Context(), c.Param("id"), input, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Delete godoc
// @Summary Delete a request
// @Tags Requests
// @Param id path string true "Request ID"
// @Success 204
// @Router /requests/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
