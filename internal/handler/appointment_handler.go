package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/internal/service"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
	"github.com/noah-isme/academy-portal-api/pkg/response"
)

type appointmentService interface {
	Book(ctx context.Context, req service.BookAppointmentRequest, actor *models.JWTClaims) (*models.Appointment, error)
	Cancel(ctx context.Context, id string, notify bool, actor *models.JWTClaims) error
	Get(ctx context.Context, id string) (*models.Appointment, error)
	ForDate(ctx context.Context, date string) ([]models.Appointment, error)
	ForWeek(ctx context.Context, weekStart string) (map[string][]models.Appointment, error)
	List(ctx context.Context, query service.AppointmentQuery) ([]models.Appointment, error)
	AvailableSlots(ctx context.Context, date string) ([]string, error)
}

// AppointmentHandler exposes the appointment calendar.
type AppointmentHandler struct {
	service appointmentService
}

// NewAppointmentHandler constructs the handler.
func NewAppointmentHandler(service appointmentService) *AppointmentHandler {
	return &AppointmentHandler{service: service}
}

// Book godoc
// @Summary Book an appointment slot
// @Tags Appointments
// @Accept json
// @Produce json
// @Param payload body service.BookAppointmentRequest true "Appointment"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /appointments [post]
func (h *AppointmentHandler) Book(c *gin.Context) {
	var req service.BookAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid appointment payload"))
		return
	}
	appt, err := h.service.Book(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, appt)
}

// Cancel godoc
// @Summary Cancel an appointment
// @Tags Appointments
// @Param id path string true "Appointment ID"
// @Param notify query bool false "Notify the person"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /appointments/{id} [delete]
func (h *AppointmentHandler) Cancel(c *gin.Context) {
	notify := false
	if raw := strings.TrimSpace(c.Query("notify")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "notify must be a boolean"))
			return
		}
		notify = parsed
	}
	if err := h.service.Cancel(c.Request.Context(), c.Param("id"), notify, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Get godoc
// @Summary Get an appointment
// @Tags Appointments
// @Produce json
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Router /appointments/{id} [get]
func (h *AppointmentHandler) Get(c *gin.Context) {
	appt, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appt, nil)
}

// List godoc
// @Summary List appointments in a date range
// @Tags Appointments
// @Produce json
// @Param from query string false "First day (YYYY-MM-DD)"
// @Param to query string false "Last day (YYYY-MM-DD)"
// @Param adminId query string false "Admin filter"
// @Param type query string false "Type filter"
// @Success 200 {object} response.Envelope
// @Router /appointments [get]
func (h *AppointmentHandler) List(c *gin.Context) {
	query := service.AppointmentQuery{
		From:    c.Query("from"),
		To:      c.Query("to"),
		AdminID: strings.TrimSpace(c.Query("adminId")),
		Type:    models.AppointmentType(strings.ToUpper(strings.TrimSpace(c.Query("type")))),
	}
	appts, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appts, nil, map[string]interface{}{"count": len(appts)})
}

// Day godoc
// @Summary Appointments of one day sorted by time
// @Tags Appointments
// @Produce json
// @Param date path string true "Day (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /appointments/day/{date} [get]
func (h *AppointmentHandler) Day(c *gin.Context) {
	appts, err := h.service.ForDate(c.Request.Context(), c.Param("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appts, nil)
}

// Week godoc
// @Summary Appointments of seven days keyed by date
// @Tags Appointments
// @Produce json
// @Param date path string true "Week start (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /appointments/week/{date} [get]
func (h *AppointmentHandler) Week(c *gin.Context) {
	week, err := h.service.ForWeek(c.Request.Context(), c.Param("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, week, nil)
}

// Slots godoc
// @Summary Free slots of a day
// @Tags Appointments
// @Produce json
// @Param date query string true "Day (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /appointments/slots [get]
func (h *AppointmentHandler) Slots(c *gin.Context) {
	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date is required"))
		return
	}
	available, err := h.service.AvailableSlots(c.Request.Context(), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"date": date, "available": available}, nil)
}
