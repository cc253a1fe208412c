package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	"github.com/noah-isme/academy-portal-api/internal/repository"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
	"github.com/noah-isme/academy-portal-api/pkg/slots"
)

type appointmentRepository interface {
	Create(ctx context.Context, appt *models.Appointment) error
	FindByID(ctx context.Context, id string) (*models.Appointment, error)
	FindBySourceRequest(ctx context.Context, requestID string) (*models.Appointment, error)
	List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, error)
	Delete(ctx context.Context, id string, intents []models.Intent) error
}

type adminChecker interface {
	IsActive(ctx context.Context, id string) (bool, error)
}

// IntentSink receives intents after they are committed to the outbox.
type IntentSink interface {
	Submit(ctx context.Context, intents ...models.Intent)
}

// BookAppointmentRequest describes a slot booking.
type BookAppointmentRequest struct {
	Date            string                 `json:"date" validate:"required,datetime=2006-01-02"`
	Time            string                 `json:"time" validate:"required,datetime=15:04"`
	Type            models.AppointmentType `json:"type" validate:"required"`
	PersonName      string                 `json:"person_name" validate:"required,max=200"`
	ContactEmail    string                 `json:"contact_email" validate:"omitempty,email"`
	AdminID         string                 `json:"admin_id" validate:"required"`
	Notes           string                 `json:"notes" validate:"omitempty,max=2000"`
	SourceRequestID string                 `json:"-"`
}

// AppointmentQuery selects appointments over an inclusive date range.
type AppointmentQuery struct {
	From    string
	To      string
	AdminID string
	Type    models.AppointmentType
}

// SchedulerOptions configures the appointment scheduler.
type SchedulerOptions struct {
	AutoBookHorizonDays int
	Now                 func() time.Time
}

// AppointmentScheduler books and cancels appointments against the slot index. Postgres stays the source of
// truth: other processes (the operator CLI) may book too, so availability and conflicts resync the affected
// date from the repository.
type AppointmentScheduler struct {
	repo      appointmentRepository
	index     *slots.Index
	inflight  sync.Map
	admins    adminChecker
	sink      IntentSink
	validator *validator.Validate
	metrics   *MetricsService
	audit     auditRecorder
	logger    *zap.Logger
	horizon   int
	now       func() time.Time
}

// NewAppointmentScheduler constructs the scheduler.
func NewAppointmentScheduler(repo appointmentRepository, index *slots.Index, admins adminChecker, audit auditRepository, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, opts SchedulerOptions) *AppointmentScheduler {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.AutoBookHorizonDays <= 0 {
		opts.AutoBookHorizonDays = 14
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &AppointmentScheduler{
		repo:      repo,
		index:     index,
		admins:    admins,
		validator: validate,
		metrics:   metrics,
		audit:     auditRecorder{repo: audit, source: "appointment-scheduler", logger: logger},
		logger:    logger,
		horizon:   opts.AutoBookHorizonDays,
		now:       opts.Now,
	}
}

// SetIntentSink wires the dispatcher that receives cancellation notices.
func (s *AppointmentScheduler) SetIntentSink(sink IntentSink) {
	s.sink = sink
}

// Grid exposes the business-hours grid.
func (s *AppointmentScheduler) Grid() slots.Grid {
	return s.index.Grid()
}

// Warm loads every stored appointment into the slot index.
func (s *AppointmentScheduler) Warm(ctx context.Context) error {
	appts, err := s.repo.List(ctx, models.AppointmentFilter{})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointments")
	}
	entries := make(map[slots.Key]string, len(appts))
	for _, appt := range appts {
		entries[slots.Key{Date: appt.Date, Time: appt.Time}] = appt.ID
	}
	s.index.Replace(entries)
	s.metrics.SetReservedSlots(s.index.Len())
	s.logger.Info("slot index warmed", zap.Int("appointments", len(entries)))
	return nil
}

// Book validates and commits a new appointment, failing with SLOT_CONFLICT when the slot is held.
func (s *AppointmentScheduler) Book(ctx context.Context, req BookAppointmentRequest, actor *models.JWTClaims) (*models.Appointment, error) {
	req.PersonName = strings.TrimSpace(req.PersonName)
	req.AdminID = strings.TrimSpace(req.AdminID)
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordBooking("invalid")
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid appointment payload")
	}
	if !req.Type.Valid() {
		s.metrics.RecordBooking("invalid")
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown appointment type %q", req.Type))
	}
	if !s.index.Grid().Contains(req.Time) {
		s.metrics.RecordBooking("invalid")
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time %s is not a business-hours slot", req.Time))
	}

	active, err := s.admins.IsActive(ctx, req.AdminID)
	if err != nil {
		s.metrics.RecordBooking("error")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve admin")
	}
	if !active {
		s.metrics.RecordBooking("invalid")
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("admin %s is unknown or inactive", req.AdminID))
	}

	appt := models.Appointment{
		ID:              uuid.NewString(),
		Date:            req.Date,
		Time:            req.Time,
		Type:            req.Type,
		PersonName:      req.PersonName,
		ContactEmail:    optionalString(req.ContactEmail),
		AdminID:         req.AdminID,
		Notes:           optionalString(req.Notes),
		SourceRequestID: optionalString(req.SourceRequestID),
		CreatedAt:       s.now().UTC(),
	}

	s.inflight.Store(appt.ID, struct{}{})
	defer s.inflight.Delete(appt.ID)
	if err := s.index.Reserve(appt.Date, appt.Time, appt.ID); err != nil {
		s.metrics.RecordBooking("conflict")
		var conflict *slots.ConflictError
		if errors.As(err, &conflict) {
			return nil, s.slotConflict(ctx, appt.Date, appt.Time, conflict.Holder)
		}
		return nil, s.slotConflict(ctx, appt.Date, appt.Time, "")
	}

	if err := s.repo.Create(ctx, &appt); err != nil {
		s.index.ReleaseHeldBy(appt.Date, appt.Time, appt.ID)
		if errors.Is(err, repository.ErrSlotTaken) {
			s.metrics.RecordBooking("conflict")
			return nil, s.slotConflict(ctx, appt.Date, appt.Time, "")
		}
		s.metrics.RecordBooking("error")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create appointment")
	}

	s.metrics.RecordBooking("booked")
	s.metrics.SetReservedSlots(s.index.Len())
	s.audit.emit(ctx, actor, models.AuditActionAppointmentBook, "appointment", appt.ID, nil, appt)
	return &appt, nil
}

// Cancel removes an appointment and frees its slot. Unknown ids yield NOT_FOUND.
func (s *AppointmentScheduler) Cancel(ctx context.Context, id string, notify bool, actor *models.JWTClaims) error {
	appt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointment")
	}

	var intents []models.Intent
	if notify {
		intents = append(intents, cancellationIntent(*appt, s.now().UTC()))
	}

	if err := s.repo.Delete(ctx, id, intents); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete appointment")
	}
	s.index.ReleaseHeldBy(appt.Date, appt.Time, appt.ID)

	s.metrics.RecordCancellation()
	s.metrics.SetReservedSlots(s.index.Len())
	s.audit.emit(ctx, actor, models.AuditActionAppointmentCancel, "appointment", appt.ID, appt, map[string]bool{"notify": notify})
	if len(intents) > 0 && s.sink != nil {
		s.sink.Submit(ctx, intents...)
	}
	return nil
}

// Get returns a single appointment.
func (s *AppointmentScheduler) Get(ctx context.Context, id string) (*models.Appointment, error) {
	appt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "appointment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointment")
	}
	return appt, nil
}

// ForDate returns the appointments of one day sorted by time.
func (s *AppointmentScheduler) ForDate(ctx context.Context, date string) ([]models.Appointment, error) {
	if _, err := slots.ParseDate(date); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date")
	}
	appts, err := s.repo.List(ctx, models.AppointmentFilter{From: date, To: date})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list appointments")
	}
	sortByTime(appts)
	return appts, nil
}

// ForWeek returns the seven days starting at weekStart, each mapped to its sorted appointments.
func (s *AppointmentScheduler) ForWeek(ctx context.Context, weekStart string) (map[string][]models.Appointment, error) {
	dates, err := slots.WeekDates(weekStart)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid week start")
	}
	appts, err := s.repo.List(ctx, models.AppointmentFilter{From: dates[0], To: dates[len(dates)-1]})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list appointments")
	}
	week := make(map[string][]models.Appointment, len(dates))
	for _, date := range dates {
		week[date] = []models.Appointment{}
	}
	for _, appt := range appts {
		if _, ok := week[appt.Date]; ok {
			week[appt.Date] = append(week[appt.Date], appt)
		}
	}
	for date := range week {
		sortByTime(week[date])
	}
	return week, nil
}

// List returns appointments within [From, To] narrowed by the optional admin and type filters.
func (s *AppointmentScheduler) List(ctx context.Context, query AppointmentQuery) ([]models.Appointment, error) {
	from, to := strings.TrimSpace(query.From), strings.TrimSpace(query.To)
	for _, raw := range []string{from, to} {
		if raw == "" {
			continue
		}
		if _, err := slots.ParseDate(raw); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date range")
		}
	}
	if from != "" && to != "" && from > to {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}
	if query.Type != "" && !query.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown appointment type %q", query.Type))
	}

	appts, err := s.repo.List(ctx, models.AppointmentFilter{From: from, To: to})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list appointments")
	}
	if query.AdminID != "" {
		appts = ForAdmin(appts, query.AdminID)
	}
	if query.Type != "" {
		appts = FilterByType(appts, query.Type)
	}
	return appts, nil
}

// AvailableSlots lists the free business-hours slots of date in ascending order, after refreshing that
// date from the repository.
func (s *AppointmentScheduler) AvailableSlots(ctx context.Context, date string) ([]string, error) {
	if _, err := slots.ParseDate(date); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid date")
	}
	if err := s.syncDate(ctx, date); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load appointments")
	}
	return s.index.AvailableSlotsFor(date), nil
}

// syncDate reloads the holders of date from the repository into the index.
func (s *AppointmentScheduler) syncDate(ctx context.Context, date string) error {
	appts, err := s.repo.List(ctx, models.AppointmentFilter{From: date, To: date})
	if err != nil {
		return err
	}
	stored := make(map[string]string, len(appts))
	for _, appt := range appts {
		if appt.Date == date {
			stored[appt.Time] = appt.ID
		}
	}
	s.index.SyncDate(date, stored, func(id string) bool {
		_, writing := s.inflight.Load(id)
		return writing
	})
	s.metrics.SetReservedSlots(s.index.Len())
	return nil
}

// AutoBook books the first free weekday slot after today for a completed registration.
// A request that already owns an appointment gets that appointment back.
func (s *AppointmentScheduler) AutoBook(ctx context.Context, requestID string, payload models.IntentPayload) (*models.Appointment, error) {
	existing, err := s.repo.FindBySourceRequest(ctx, requestID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up auto-booked appointment")
	}

	apptType := models.AppointmentType(payload.RequestType)
	if !apptType.Valid() {
		apptType = models.AppointmentTypeOther
	}
	personName := payload.PersonName
	if strings.TrimSpace(personName) == "" {
		personName = "request " + requestID
	}

	day := s.now().UTC().Truncate(24 * time.Hour)
	for i := 1; i <= s.horizon; i++ {
		candidate := day.AddDate(0, 0, i)
		if wd := candidate.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		date := candidate.Format(slots.DateLayout)
		free, err := s.AvailableSlots(ctx, date)
		if err != nil {
			return nil, err
		}
		for _, label := range free {
			appt, err := s.Book(ctx, BookAppointmentRequest{
				Date:            date,
				Time:            label,
				Type:            apptType,
				PersonName:      personName,
				ContactEmail:    payload.ContactEmail,
				AdminID:         payload.AdminID,
				Notes:           fmt.Sprintf("auto-booked from request %s", requestID),
				SourceRequestID: requestID,
			}, nil)
			if err == nil {
				return appt, nil
			}
			if appErrors.FromError(err).Code != appErrors.ErrSlotConflict.Code {
				return nil, err
			}
		}
	}
	return nil, appErrors.Clone(appErrors.ErrSlotConflict, fmt.Sprintf("no free slot in the next %d days", s.horizon))
}

func (s *AppointmentScheduler) slotConflict(ctx context.Context, date, label, holder string) error {
	if err := s.syncDate(ctx, date); err != nil {
		s.logger.Warn("slot index resync failed", zap.String("date", date), zap.Error(err))
	}
	if holder == "" {
		holder, _ = s.index.Holder(date, label)
	}
	domainErr := &models.SlotConflictError{
		Date:         date,
		Time:         label,
		ExistingID:   holder,
		Alternatives: s.index.AvailableSlotsFor(date),
	}
	return appErrors.WrapAs(appErrors.ErrSlotConflict, domainErr, fmt.Sprintf("slot %s %s is already booked", date, label)).WithDetails(domainErr)
}

// ForAdmin keeps the appointments handled by adminID.
func ForAdmin(appts []models.Appointment, adminID string) []models.Appointment {
	out := make([]models.Appointment, 0, len(appts))
	for _, appt := range appts {
		if appt.AdminID == adminID {
			out = append(out, appt)
		}
	}
	return out
}

// FilterByType keeps the appointments of the given type.
func FilterByType(appts []models.Appointment, apptType models.AppointmentType) []models.Appointment {
	out := make([]models.Appointment, 0, len(appts))
	for _, appt := range appts {
		if appt.Type == apptType {
			out = append(out, appt)
		}
	}
	return out
}

func sortByTime(appts []models.Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date < appts[j].Date
		}
		return appts[i].Time < appts[j].Time
	})
}

func cancellationIntent(appt models.Appointment, now time.Time) models.Intent {
	payload := models.IntentPayload{
		RequestType: models.RequestType(appt.Type),
		PersonName:  appt.PersonName,
		AdminID:     appt.AdminID,
		Date:        appt.Date,
		Time:        appt.Time,
	}
	if appt.ContactEmail != nil {
		payload.ContactEmail = *appt.ContactEmail
	}
	raw, _ := json.Marshal(payload)
	apptID := appt.ID
	return models.Intent{
		Kind:          models.IntentNotifyCancellation,
		AppointmentID: &apptID,
		RequestID:     appt.SourceRequestID,
		Payload:       raw,
		Status:        models.IntentStatusPending,
		CreatedAt:     now,
	}
}

func optionalString(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}
