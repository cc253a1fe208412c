package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type requestRepository interface {
	Create(ctx context.Context, req *models.Request) error
	FindByID(ctx context.Context, id string) (*models.Request, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error)
	ApplyTransition(ctx context.Context, next *models.Request, from models.RequestStatus, intents []models.Intent) error
	MarkSent(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) (bool, error)
	DeleteRejectedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CreateRequestInput is a submitted intake form.
type CreateRequestInput struct {
	Type    models.RequestType `json:"type" validate:"required"`
	Payload json.RawMessage    `json:"payload" validate:"required"`
}

// TransitionInput names a lifecycle event and its arguments.
type TransitionInput struct {
	Event models.RequestEvent   `json:"event" validate:"required"`
	Args  models.TransitionArgs `json:"args"`
}

// RequestStore owns requests and runs their lifecycle transitions.
type RequestStore struct {
	repo      requestRepository
	admins    adminChecker
	sink      IntentSink
	locks     *keyedLock
	validator *validator.Validate
	metrics   *MetricsService
	audit     auditRecorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewRequestStore constructs the store.
func NewRequestStore(repo requestRepository, admins adminChecker, sink IntentSink, audit auditRepository, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *RequestStore {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestStore{
		repo:      repo,
		admins:    admins,
		sink:      sink,
		locks:     newKeyedLock(),
		validator: validate,
		metrics:   metrics,
		audit:     auditRecorder{repo: audit, source: "request-store", logger: logger},
		logger:    logger,
		now:       time.Now,
	}
}

// Create stores a new request in status NEW.
func (s *RequestStore) Create(ctx context.Context, input CreateRequestInput, actor *models.JWTClaims) (*models.Request, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}
	if !input.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown request type %q", input.Type))
	}
	var form map[string]interface{}
	if err := json.Unmarshal(input.Payload, &form); err != nil || form == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payload must be a JSON object")
	}

	now := s.now().UTC()
	req := &models.Request{
		ID:           uuid.NewString(),
		Type:         input.Type,
		Payload:      input.Payload,
		Status:       models.RequestStatusNew,
		PersonName:   personNameFromForm(form),
		ContactEmail: optionalString(stringField(form, "email", "contactEmail", "contact_email")),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}
	s.audit.emit(ctx, actor, models.AuditActionRequestCreate, "request", req.ID, nil, map[string]string{"type": string(req.Type)})
	return req, nil
}

// Get returns a request by id.
func (s *RequestStore) Get(ctx context.Context, id string) (*models.Request, error) {
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return req, nil
}

// List returns requests matching filter.
func (s *RequestStore) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	for _, status := range filter.Status {
		if !status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", status))
		}
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown request type %q", filter.Type))
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return requests, nil
}

// Transition applies a lifecycle event. The state change and its intents are committed together,
// and transitions on the same request never overlap.
func (s *RequestStore) Transition(ctx context.Context, id string, input TransitionInput, actor *models.JWTClaims) (*models.Request, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}

	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "request is busy")
	}
	defer release()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Event == models.EventAssign {
		if err := s.checkAdmin(ctx, input.Args.AdminID); err != nil {
			s.metrics.RecordTransition(string(input.Event), "rejected")
			return nil, err
		}
	}

	next, intents, err := ApplyTransition(*current, input.Event, input.Args, s.now())
	if err != nil {
		s.metrics.RecordTransition(string(input.Event), "rejected")
		return nil, err
	}

	if err := s.repo.ApplyTransition(ctx, &next, current.Status, intents); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Row vanished or moved on outside this process.
			return nil, guardViolation(*current, input.Event, "request changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist transition")
	}

	s.metrics.RecordTransition(string(input.Event), "applied")
	s.audit.emit(ctx, actor, models.AuditActionRequestTransition, "request", next.ID,
		map[string]string{"status": string(current.Status)},
		map[string]string{"status": string(next.Status), "event": string(input.Event)})
	if len(intents) > 0 && s.sink != nil {
		s.sink.Submit(ctx, intents...)
	}
	return &next, nil
}

// MarkSent records the federation handoff of an accident report.
func (s *RequestStore) MarkSent(ctx context.Context, id string, at time.Time) error {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	return s.repo.MarkSent(ctx, id, at)
}

// Delete removes a request. Deleting an unknown id succeeds without effect.
func (s *RequestStore) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "request is busy")
	}
	defer release()

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete request")
	}
	if deleted {
		s.audit.emit(ctx, actor, models.AuditActionRequestDelete, "request", id, nil, nil)
	}
	return nil
}

// PurgeRejected deletes rejected requests whose rejection is older than retention.
func (s *RequestStore) PurgeRejected(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-retention)
	n, err := s.repo.DeleteRejectedBefore(ctx, cutoff)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge rejected requests")
	}
	return n, nil
}

func (s *RequestStore) checkAdmin(ctx context.Context, adminID string) error {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "adminId is required")
	}
	active, err := s.admins.IsActive(ctx, adminID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve admin")
	}
	if !active {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("admin %s is unknown or inactive", adminID))
	}
	return nil
}

func personNameFromForm(form map[string]interface{}) string {
	if name := stringField(form, "personName", "person_name", "fullName", "name"); name != "" {
		return name
	}
	first := stringField(form, "firstName", "first_name")
	last := stringField(form, "lastName", "last_name")
	return strings.TrimSpace(first + " " + last)
}

func stringField(form map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := form[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
