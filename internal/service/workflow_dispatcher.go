package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
	"github.com/noah-isme/academy-portal-api/pkg/jobs"
)

// errIntentSkipped marks an intent that had nothing to deliver.
var errIntentSkipped = errors.New("nothing to dispatch")

type intentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Intent, error)
	List(ctx context.Context, filter models.IntentFilter) ([]models.Intent, error)
	Claim(ctx context.Context, id string, from ...models.IntentStatus) (bool, error)
	Finish(ctx context.Context, id string, status models.IntentStatus, lastError *string, at time.Time) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	FailInterrupted(ctx context.Context, message string, at time.Time) (int64, error)
}

type appointmentBooker interface {
	AutoBook(ctx context.Context, requestID string, payload models.IntentPayload) (*models.Appointment, error)
}

type requestDocumentWriter interface {
	StoreRequestDocument(ctx context.Context, requestID string, payload models.IntentPayload) (models.ArtifactHandle, error)
}

type sentMarker interface {
	MarkSent(ctx context.Context, id string, at time.Time) error
}

type intentQueue interface {
	Enqueue(job jobs.Job) error
}

// WorkflowDispatcherConfig carries recipients and limits for intent execution.
type WorkflowDispatcherConfig struct {
	FederationEmail     string
	MembersEmail        string
	CollaboratorTimeout time.Duration
}

// WorkflowDispatcher executes outbox intents against external collaborators and records the outcome.
// Collaborator failures never roll back the transition that emitted the intent; they leave the intent FAILED
// for manual retry.
type WorkflowDispatcher struct {
	intents   intentRepository
	queue     intentQueue
	booker    appointmentBooker
	notifier  NotificationDispatcher
	documents requestDocumentWriter
	requests  sentMarker
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       WorkflowDispatcherConfig
	now       func() time.Time
}

// NewWorkflowDispatcher constructs the dispatcher. Call SetQueue before Submit is used.
func NewWorkflowDispatcher(intents intentRepository, booker appointmentBooker, notifier NotificationDispatcher, documents requestDocumentWriter, requests sentMarker, metrics *MetricsService, logger *zap.Logger, cfg WorkflowDispatcherConfig) *WorkflowDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 10 * time.Second
	}
	return &WorkflowDispatcher{
		intents:   intents,
		booker:    booker,
		notifier:  notifier,
		documents: documents,
		requests:  requests,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetQueue attaches the worker queue that runs HandleJob.
func (d *WorkflowDispatcher) SetQueue(queue intentQueue) {
	d.queue = queue
}

// SetRequests attaches the request store once it exists; the store itself needs the dispatcher as its sink.
func (d *WorkflowDispatcher) SetRequests(requests sentMarker) {
	d.requests = requests
}

// Submit schedules committed intents for asynchronous dispatch. Intents that cannot be queued stay PENDING
// and are picked up by ReplayPending.
func (d *WorkflowDispatcher) Submit(ctx context.Context, intents ...models.Intent) {
	for _, intent := range intents {
		if d.queue == nil {
			d.logger.Warn("intent queue not configured", zap.String("intent_id", intent.ID))
			return
		}
		if err := d.queue.Enqueue(jobs.Job{ID: intent.ID, Type: string(intent.Kind)}); err != nil {
			d.logger.Warn("failed to enqueue intent", zap.String("intent_id", intent.ID), zap.String("kind", string(intent.Kind)), zap.Error(err))
		}
	}
}

// HandleJob is the queue handler: it claims a PENDING intent and executes it once.
func (d *WorkflowDispatcher) HandleJob(ctx context.Context, job jobs.Job) error {
	claimed, err := d.intents.Claim(ctx, job.ID, models.IntentStatusPending)
	if err != nil {
		return fmt.Errorf("claim intent %s: %w", job.ID, err)
	}
	if !claimed {
		return nil
	}
	_, err = d.run(ctx, job.ID)
	return err
}

// Retry re-executes a FAILED intent synchronously. Only the side effect is repeated.
func (d *WorkflowDispatcher) Retry(ctx context.Context, id string) (*models.Intent, error) {
	intent, err := d.intents.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "intent not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load intent")
	}
	if intent.Status != models.IntentStatusFailed {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("intent is %s; only FAILED intents can be retried", intent.Status))
	}
	claimed, err := d.intents.Claim(ctx, id, models.IntentStatusFailed)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim intent")
	}
	if !claimed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "intent is already being retried")
	}

	result, err := d.run(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record intent outcome")
	}
	if result.Status == models.IntentStatusFailed {
		return result, appErrors.WrapAs(appErrors.ErrCollaborator, errors.New(derefString(result.LastError)), "intent dispatch failed again")
	}
	return result, nil
}

// List returns intents for remediation views.
func (d *WorkflowDispatcher) List(ctx context.Context, filter models.IntentFilter) ([]models.Intent, error) {
	intents, err := d.intents.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list intents")
	}
	return intents, nil
}

// RecoverInterrupted marks intents left DISPATCHING by a crashed process as FAILED.
// They are not replayed automatically because the collaborator may already have acted.
func (d *WorkflowDispatcher) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := d.intents.FailInterrupted(ctx, "dispatch interrupted by shutdown; verify before retrying", d.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Warn("interrupted intents marked failed", zap.Int64("count", n))
	}
	return n, nil
}

// ReplayPending queues every intent still PENDING, e.g. after a restart.
func (d *WorkflowDispatcher) ReplayPending(ctx context.Context) (int, error) {
	pending, err := d.intents.List(ctx, models.IntentFilter{Status: []models.IntentStatus{models.IntentStatusPending}, Limit: 500})
	if err != nil {
		return 0, err
	}
	d.Submit(ctx, pending...)
	return len(pending), nil
}

// run executes a claimed intent and records its final status. The returned error concerns bookkeeping only.
func (d *WorkflowDispatcher) run(ctx context.Context, id string) (*models.Intent, error) {
	intent, err := d.intents.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load intent %s: %w", id, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, d.cfg.CollaboratorTimeout)
	execErr := d.execute(execCtx, *intent)
	cancel()

	status := models.IntentStatusSucceeded
	var lastError *string
	switch {
	case errors.Is(execErr, errIntentSkipped):
		status = models.IntentStatusSkipped
		msg := execErr.Error()
		lastError = &msg
	case execErr != nil:
		status = models.IntentStatusFailed
		msg := execErr.Error()
		lastError = &msg
		d.logger.Warn("intent dispatch failed",
			zap.String("intent_id", intent.ID),
			zap.String("kind", string(intent.Kind)),
			zap.Error(execErr),
		)
	}

	finishedAt := d.now().UTC()
	if err := d.intents.Finish(ctx, intent.ID, status, lastError, finishedAt); err != nil {
		d.logger.Error("failed to record intent outcome", zap.String("intent_id", intent.ID), zap.Error(err))
		return nil, err
	}
	d.metrics.RecordIntent(string(intent.Kind), string(status))

	intent.Status = status
	intent.LastError = lastError
	intent.DispatchedAt = &finishedAt
	return intent, nil
}

func (d *WorkflowDispatcher) execute(ctx context.Context, intent models.Intent) error {
	var payload models.IntentPayload
	if len(intent.Payload) > 0 {
		if err := json.Unmarshal(intent.Payload, &payload); err != nil {
			return fmt.Errorf("decode intent payload: %w", err)
		}
	}
	requestID := derefString(intent.RequestID)

	switch intent.Kind {
	case models.IntentCreateAppointment:
		appt, err := d.booker.AutoBook(ctx, requestID, payload)
		if err != nil {
			return err
		}
		if payload.ContactEmail == "" {
			return nil
		}
		return d.notify(ctx, NoticeBooked, payload.ContactEmail, noticeData(payload, map[string]string{"date": appt.Date, "time": appt.Time}))

	case models.IntentNotifyMembers:
		if d.cfg.MembersEmail == "" {
			return fmt.Errorf("%w: members address not configured", errIntentSkipped)
		}
		return d.notify(ctx, NoticeSelectionTest, d.cfg.MembersEmail, noticeData(payload, nil))

	case models.IntentStoreDocument:
		_, err := d.documents.StoreRequestDocument(ctx, requestID, payload)
		return err

	case models.IntentMoveToPendingHealing:
		if payload.ContactEmail == "" {
			return fmt.Errorf("%w: request has no contact email", errIntentSkipped)
		}
		return d.notify(ctx, NoticePendingHealing, payload.ContactEmail, noticeData(payload, nil))

	case models.IntentNotifyFederation:
		return d.handOffToFederation(ctx, intent, requestID, payload)

	case models.IntentNotifyCancellation:
		if payload.ContactEmail == "" {
			return fmt.Errorf("%w: appointment has no contact email", errIntentSkipped)
		}
		return d.notify(ctx, NoticeCancellation, payload.ContactEmail, noticeData(payload, nil))
	}
	return fmt.Errorf("unknown intent kind %q", intent.Kind)
}

// handOffToFederation mails the dossier at most once per intent. A retry after a failed sentAt update only
// repeats the bookkeeping, using the recorded delivery time.
func (d *WorkflowDispatcher) handOffToFederation(ctx context.Context, intent models.Intent, requestID string, payload models.IntentPayload) error {
	deliveredAt := intent.DeliveredAt
	if deliveredAt == nil {
		if d.cfg.FederationEmail == "" {
			return errors.New("federation address not configured")
		}
		if err := d.notify(ctx, NoticeFederation, d.cfg.FederationEmail, noticeData(payload, nil)); err != nil {
			return err
		}
		at := d.now().UTC()
		deliveredAt = &at
		if err := d.intents.MarkDelivered(context.WithoutCancel(ctx), intent.ID, at); err != nil {
			d.logger.Error("failed to record federation delivery", zap.String("intent_id", intent.ID), zap.Error(err))
		}
	}
	if err := d.requests.MarkSent(ctx, requestID, *deliveredAt); err != nil {
		return fmt.Errorf("federation mail delivered but sentAt not recorded: %w", err)
	}
	return nil
}

func (d *WorkflowDispatcher) notify(ctx context.Context, kind NotificationKind, recipient string, data map[string]string) error {
	if d.notifier == nil {
		return errors.New("notifier not configured")
	}
	return d.notifier.Send(ctx, kind, recipient, data)
}

func noticeData(payload models.IntentPayload, extra map[string]string) map[string]string {
	data := map[string]string{
		"person":        payload.PersonName,
		"type":          string(payload.RequestType),
		"date":          payload.Date,
		"time":          payload.Time,
		"document":      payload.Document,
		"accident_only": strconv.FormatBool(payload.AccidentOnly),
		"form":          string(payload.Form),
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}
