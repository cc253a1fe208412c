package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-portal-api/internal/middleware"
	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/internal/service"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func withAdmin(c *gin.Context) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "7", Role: models.RoleAdmin})
}

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type appointmentServiceStub struct {
	booked    service.BookAppointmentRequest
	bookErr   error
	cancelled string
	notify    bool
	cancelErr error
	appts     []models.Appointment
	query     service.AppointmentQuery
	available []string
}

func (s *appointmentServiceStub) Book(ctx context.Context, req service.BookAppointmentRequest, actor *models.JWTClaims) (*models.Appointment, error) {
	if s.bookErr != nil {
		return nil, s.bookErr
	}
	s.booked = req
	return &models.Appointment{ID: "a-1", Date: req.Date, Time: req.Time, Type: req.Type, PersonName: req.PersonName, AdminID: req.AdminID}, nil
}

func (s *appointmentServiceStub) Cancel(ctx context.Context, id string, notify bool, actor *models.JWTClaims) error {
	s.cancelled = id
	s.notify = notify
	return s.cancelErr
}

func (s *appointmentServiceStub) Get(ctx context.Context, id string) (*models.Appointment, error) {
	for i := range s.appts {
		if s.appts[i].ID == id {
			return &s.appts[i], nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
}

func (s *appointmentServiceStub) ForDate(ctx context.Context, date string) ([]models.Appointment, error) {
	return s.appts, nil
}

func (s *appointmentServiceStub) ForWeek(ctx context.Context, weekStart string) (map[string][]models.Appointment, error) {
	return map[string][]models.Appointment{weekStart: s.appts}, nil
}

func (s *appointmentServiceStub) List(ctx context.Context, query service.AppointmentQuery) ([]models.Appointment, error) {
	s.query = query
	return s.appts, nil
}

func (s *appointmentServiceStub) AvailableSlots(ctx context.Context, date string) ([]string, error) {
	return s.available, nil
}

func TestAppointmentHandlerBook(t *testing.T) {
	svc := &appointmentServiceStub{}
	h := NewAppointmentHandler(svc)

	body, _ := json.Marshal(service.BookAppointmentRequest{Date: "2024-06-10", Time: "10:00", Type: "INSPECTION", PersonName: "Jo", AdminID: "7"})
	c, w := newGinContext(http.MethodPost, "/appointments", body)
	withAdmin(c)
	h.Book(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "10:00", svc.booked.Time)
}

func TestAppointmentHandlerBookConflictCarriesAlternatives(t *testing.T) {
	conflict := appErrors.Clone(appErrors.ErrSlotConflict, "slot already booked").
		WithDetails(&models.SlotConflictError{Date: "2024-06-10", Time: "10:00", Alternatives: []string{"10:30"}})
	h := NewAppointmentHandler(&appointmentServiceStub{bookErr: conflict})

	body, _ := json.Marshal(service.BookAppointmentRequest{Date: "2024-06-10", Time: "10:00", Type: "INSPECTION", PersonName: "Jo", AdminID: "7"})
	c, w := newGinContext(http.MethodPost, "/appointments", body)
	withAdmin(c)
	h.Book(c)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "10:30")
	assert.Equal(t, "SLOT_CONFLICT", decode(t, w).Error.Code)
}

func TestAppointmentHandlerBookRejectsMalformedJSON(t *testing.T) {
	h := NewAppointmentHandler(&appointmentServiceStub{})
	c, w := newGinContext(http.MethodPost, "/appointments", []byte("{"))
	h.Book(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAppointmentHandlerCancelNotifyFlag(t *testing.T) {
	svc := &appointmentServiceStub{}
	h := NewAppointmentHandler(svc)

	c, w := newGinContext(http.MethodDelete, "/appointments/a-1?notify=true", nil)
	c.Params = gin.Params{{Key: "id", Value: "a-1"}}
	withAdmin(c)
	h.Cancel(c)
	// gin's test context does not flush headers for bodiless responses.
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "a-1", svc.cancelled)
	assert.True(t, svc.notify)

	c, w = newGinContext(http.MethodDelete, "/appointments/a-1?notify=maybe", nil)
	c.Params = gin.Params{{Key: "id", Value: "a-1"}}
	h.Cancel(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAppointmentHandlerListPassesFilters(t *testing.T) {
	svc := &appointmentServiceStub{appts: []models.Appointment{{ID: "a-1"}, {ID: "a-2"}}}
	h := NewAppointmentHandler(svc)

	c, w := newGinContext(http.MethodGet, "/appointments?from=2024-06-10&to=2024-06-16&adminId=7&type=inspection", nil)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2024-06-10", svc.query.From)
	assert.Equal(t, "2024-06-16", svc.query.To)
	assert.Equal(t, "7", svc.query.AdminID)
	assert.Equal(t, models.AppointmentType("INSPECTION"), svc.query.Type)
	assert.EqualValues(t, 2, decode(t, w).Meta["count"])
}

func TestAppointmentHandlerSlotsRequiresDate(t *testing.T) {
	h := NewAppointmentHandler(&appointmentServiceStub{available: []string{"09:00"}})

	c, w := newGinContext(http.MethodGet, "/appointments/slots", nil)
	h.Slots(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodGet, "/appointments/slots?date=2024-06-10", nil)
	h.Slots(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "09:00")
}

type requestServiceStub struct {
	created    service.CreateRequestInput
	actor      *models.JWTClaims
	filter     models.RequestFilter
	transition service.TransitionInput
	err        error
}

func (s *requestServiceStub) Create(ctx context.Context, input service.CreateRequestInput, actor *models.JWTClaims) (*models.Request, error) {
	s.created = input
	s.actor = actor
	return &models.Request{ID: "r-1", Type: input.Type, Status: models.RequestStatusNew}, s.err
}

func (s *requestServiceStub) Get(ctx context.Context, id string) (*models.Request, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
}

func (s *requestServiceStub) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	s.filter = filter
	return []models.Request{{ID: "r-1"}}, nil
}

func (s *requestServiceStub) Transition(ctx context.Context, id string, input service.TransitionInput, actor *models.JWTClaims) (*models.Request, error) {
	s.transition = input
	if s.err != nil {
		return nil, s.err
	}
	return &models.Request{ID: id, Status: models.RequestStatusAssigned}, nil
}

func (s *requestServiceStub) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	return s.err
}

func TestRequestHandlerCreateAnonymous(t *testing.T) {
	svc := &requestServiceStub{}
	h := NewRequestHandler(svc)

	c, w := newGinContext(http.MethodPost, "/requests", []byte(`{"type":"inspection","payload":{"person_name":"Jo"}}`))
	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.RequestType("INSPECTION"), svc.created.Type)
	assert.Nil(t, svc.actor)
}

func TestRequestHandlerListPaging(t *testing.T) {
	svc := &requestServiceStub{}
	h := NewRequestHandler(svc)

	c, w := newGinContext(http.MethodGet, "/requests?status=new,assigned&page=3&pageSize=10", nil)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.RequestStatus{models.RequestStatusNew, models.RequestStatusAssigned}, svc.filter.Status)
	assert.Equal(t, 10, svc.filter.Limit)
	assert.Equal(t, 20, svc.filter.Offset)
}

func TestRequestHandlerTransitionGuardViolation(t *testing.T) {
	svc := &requestServiceStub{err: appErrors.Clone(appErrors.ErrGuardViolation, "complete not allowed from COMPLETED")}
	h := NewRequestHandler(svc)

	c, w := newGinContext(http.MethodPatch, "/requests/r-1", []byte(`{"event":"complete"}`))
	c.Params = gin.Params{{Key: "id", Value: "r-1"}}
	withAdmin(c)
	h.Transition(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.EventComplete, svc.transition.Event)
	assert.Equal(t, "GUARD_VIOLATION", decode(t, w).Error.Code)
}

func TestRequestHandlerGetNotFound(t *testing.T) {
	h := NewRequestHandler(&requestServiceStub{})
	c, w := newGinContext(http.MethodGet, "/requests/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type intentServiceStub struct {
	filter   models.IntentFilter
	retryErr error
}

func (s *intentServiceStub) List(ctx context.Context, filter models.IntentFilter) ([]models.Intent, error) {
	s.filter = filter
	return []models.Intent{{ID: "i-1", Status: models.IntentStatusFailed}}, nil
}

func (s *intentServiceStub) Retry(ctx context.Context, id string) (*models.Intent, error) {
	if s.retryErr != nil {
		return nil, s.retryErr
	}
	return &models.Intent{ID: id, Status: models.IntentStatusSucceeded}, nil
}

func TestIntentHandlerListByStatus(t *testing.T) {
	svc := &intentServiceStub{}
	h := NewIntentHandler(svc)

	c, w := newGinContext(http.MethodGet, "/intents?status=failed", nil)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.IntentStatus{models.IntentStatusFailed}, svc.filter.Status)
	assert.Equal(t, 100, svc.filter.Limit)
}

func TestIntentHandlerRetry(t *testing.T) {
	h := NewIntentHandler(&intentServiceStub{})
	c, w := newGinContext(http.MethodPost, "/intents/i-1/retry", nil)
	c.Params = gin.Params{{Key: "id", Value: "i-1"}}
	h.Retry(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "SUCCEEDED")

	h = NewIntentHandler(&intentServiceStub{retryErr: appErrors.Clone(appErrors.ErrCollaborator, "smtp down")})
	c, w = newGinContext(http.MethodPost, "/intents/i-1/retry", nil)
	c.Params = gin.Params{{Key: "id", Value: "i-1"}}
	h.Retry(c)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

type archiveServiceStub struct {
	summary  *models.ArchiveSummary
	download *service.ArchiveDownload
	err      error
}

func (s *archiveServiceStub) Archive(ctx context.Context, req service.ArchiveRequest, actor *models.JWTClaims) (*models.ArchiveSummary, error) {
	return s.summary, s.err
}

func (s *archiveServiceStub) DownloadBundle(ctx context.Context, token string) (*service.ArchiveDownload, error) {
	return s.download, s.err
}

func TestArchiveHandlerStatusReflectsFailures(t *testing.T) {
	body := []byte(`{"appointment_ids":["a-1","a-2"]}`)

	h := NewArchiveHandler(&archiveServiceStub{summary: &models.ArchiveSummary{Succeeded: []string{"a-1", "a-2"}}})
	c, w := newGinContext(http.MethodPost, "/archives", body)
	withAdmin(c)
	h.Archive(c)
	assert.Equal(t, http.StatusOK, w.Code)

	h = NewArchiveHandler(&archiveServiceStub{summary: &models.ArchiveSummary{
		Succeeded: []string{"a-1"},
		Failed:    []models.ArchiveFailure{{ID: "a-2", Reason: models.ArchiveFailureNotFound}},
	}})
	c, w = newGinContext(http.MethodPost, "/archives", body)
	withAdmin(c)
	h.Archive(c)
	assert.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestArchiveHandlerRequiresActor(t *testing.T) {
	h := NewArchiveHandler(&archiveServiceStub{})
	c, w := newGinContext(http.MethodPost, "/archives", []byte(`{"appointment_ids":["a-1"]}`))
	h.Archive(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestArchiveHandlerDownloadStreamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(path, []byte("zip-bytes"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	h := NewArchiveHandler(&archiveServiceStub{download: &service.ArchiveDownload{
		File: file, Filename: "bundle.zip", MimeType: "application/zip", SizeBytes: 9,
	}})
	c, w := newGinContext(http.MethodGet, "/archives/bundles/download?token=abc", nil)
	h.DownloadBundle(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "bundle.zip")
	data, _ := io.ReadAll(w.Body)
	assert.Equal(t, "zip-bytes", string(data))
}

func TestArchiveHandlerDownloadNeedsToken(t *testing.T) {
	h := NewArchiveHandler(&archiveServiceStub{})
	c, w := newGinContext(http.MethodGet, "/archives/bundles/download", nil)
	h.DownloadBundle(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type pingStub struct{ err error }

func (p pingStub) PingContext(ctx context.Context) error { return p.err }

func TestMetricsHandlerReadyReportsFailingDependency(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]Pinger{"postgres": pingStub{}})
	c, w := newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	h = NewMetricsHandler(nil, map[string]Pinger{"postgres": pingStub{}, "redis": pingStub{err: errors.New("dial tcp: refused")}})
	c, w = newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "refused")
}
