package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/internal/service"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
	"github.com/noah-isme/academy-portal-api/pkg/response"
)

type archiveService interface {
	Archive(ctx context.Context, req service.ArchiveRequest, actor *models.JWTClaims) (*models.ArchiveSummary, error)
	DownloadBundle(ctx context.Context, token string) (*service.ArchiveDownload, error)
}

// ArchiveHandler exposes bulk archival and bundle downloads.
type ArchiveHandler struct {
	service archiveService
}

// NewArchiveHandler constructs the handler.
func NewArchiveHandler(service archiveService) *ArchiveHandler {
	return &ArchiveHandler{service: service}
}

// Archive godoc
// @Summary Export then remove appointments
// @Description Each id is processed independently; 207 signals that at least one item failed.
// @Tags Archives
// @Accept json
// @Produce json
// @Param payload body service.ArchiveRequest true "Appointment ids"
// @Success 200 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Router /archives [post]
func (h *ArchiveHandler) Archive(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "archive service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "appointment_ids is required"))
		return
	}
	summary, err := h.service.Archive(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if len(summary.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	response.JSON(c, status, summary, nil)
}

// DownloadBundle godoc
// @Summary Download an archive bundle via signed token
// @Tags Archives
// @Produce application/zip
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /archives/bundles/download [get]
func (h *ArchiveHandler) DownloadBundle(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "archive service not configured"))
		return
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.DownloadBundle(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.SizeBytes, result.MimeType, result.File, nil)
}
