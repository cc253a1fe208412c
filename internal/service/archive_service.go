package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
	"github.com/noah-isme/academy-portal-api/pkg/export"
)

const maxArchiveBatch = 500

type archiveScheduler interface {
	Get(ctx context.Context, id string) (*models.Appointment, error)
	Cancel(ctx context.Context, id string, notify bool, actor *models.JWTClaims) error
}

type archiveFileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type archiveSignedURLSigner interface {
	Generate(id, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (id, relPath string, expiresAt time.Time, err error)
}

type manifestRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ArchiveRequest selects the appointments to archive.
type ArchiveRequest struct {
	AppointmentIDs []string `json:"appointment_ids" validate:"required,min=1"`
}

// ArchiveDownload bundles file reader metadata for streaming.
type ArchiveDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// ArchiveServiceConfig holds concurrency and URL settings.
type ArchiveServiceConfig struct {
	Concurrency         int
	CollaboratorTimeout time.Duration
	APIPrefix           string
}

// ArchiveService exports appointments to documents and removes them from the schedule once exported.
// Every item is tracked on its own; one failure never rolls back another.
type ArchiveService struct {
	scheduler archiveScheduler
	generator DocumentGenerator
	storage   archiveFileStorage
	signer    archiveSignedURLSigner
	manifest  manifestRenderer
	metrics   *MetricsService
	audit     auditRecorder
	logger    *zap.Logger
	cfg       ArchiveServiceConfig
	now       func() time.Time
}

// NewArchiveService constructs the service with defaults.
func NewArchiveService(scheduler archiveScheduler, generator DocumentGenerator, storage archiveFileStorage, signer archiveSignedURLSigner, audit auditRepository, metrics *MetricsService, logger *zap.Logger, cfg ArchiveServiceConfig) *ArchiveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 30 * time.Second
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &ArchiveService{
		scheduler: scheduler,
		generator: generator,
		storage:   storage,
		signer:    signer,
		manifest:  export.NewCSVExporter(),
		metrics:   metrics,
		audit:     auditRecorder{repo: audit, source: "archive-service", logger: logger},
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

type archiveOutcome struct {
	appt     *models.Appointment
	artifact *models.ArtifactHandle
	failure  *models.ArchiveFailure
}

// Archive exports then cancels each appointment. Succeeded and Failed keep the order of ids.
func (s *ArchiveService) Archive(ctx context.Context, req ArchiveRequest, actor *models.JWTClaims) (*models.ArchiveSummary, error) {
	ids := uniqueIDs(req.AppointmentIDs)
	if len(ids) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "appointment_ids must contain at least one id")
	}
	if len(ids) > maxArchiveBatch {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d appointments can be archived at once", maxArchiveBatch))
	}

	outcomes := make([]archiveOutcome, len(ids))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			outcomes[i] = s.archiveOne(ctx, id, actor)
			return nil
		})
	}
	_ = g.Wait()

	summary := &models.ArchiveSummary{Succeeded: []string{}, Failed: []models.ArchiveFailure{}}
	for i, outcome := range outcomes {
		if outcome.failure != nil {
			summary.Failed = append(summary.Failed, *outcome.failure)
			s.metrics.RecordArchiveItem(strings.ToLower(string(outcome.failure.Reason)))
			continue
		}
		summary.Succeeded = append(summary.Succeeded, ids[i])
		s.metrics.RecordArchiveItem("archived")
	}

	bundle, err := s.bundle(outcomes)
	switch {
	case err != nil:
		msg := err.Error()
		summary.BundleError = &msg
		s.logger.Error("failed to build archive bundle", zap.Error(err))
	case bundle != nil:
		summary.Bundle = bundle
	}

	s.audit.emit(ctx, actor, models.AuditActionAppointmentArchive, "appointment", "", map[string][]string{"requested": ids}, summary)
	s.logger.Info("archive run finished",
		zap.Int("requested", len(ids)),
		zap.Int("succeeded", len(summary.Succeeded)),
		zap.Int("failed", len(summary.Failed)),
	)
	return summary, nil
}

func (s *ArchiveService) archiveOne(ctx context.Context, id string, actor *models.JWTClaims) archiveOutcome {
	appt, err := s.scheduler.Get(ctx, id)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return failedOutcome(id, models.ArchiveFailureNotFound, "appointment not found", nil)
		}
		s.logger.Warn("archive lookup failed", zap.String("appointment_id", id), zap.Error(err))
		return failedOutcome(id, models.ArchiveFailureLookupFailed, err.Error(), nil)
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
	artifact, err := s.generator.Generate(genCtx, *appt)
	cancel()
	if err != nil {
		s.logger.Warn("artifact generation failed", zap.String("appointment_id", id), zap.Error(err))
		return failedOutcome(id, models.ArchiveFailureGenerationFailed, err.Error(), nil)
	}

	if err := s.scheduler.Cancel(ctx, id, false, actor); err != nil && !errors.Is(err, appErrors.ErrNotFound) {
		// The artifact stays on disk so the export is not lost; the appointment must be removed by hand.
		s.logger.Error("archived appointment could not be removed",
			zap.String("appointment_id", id),
			zap.String("artifact", artifact.Path),
			zap.Error(err),
		)
		outcome := failedOutcome(id, models.ArchiveFailureOrphanExport, err.Error(), &artifact.Path)
		outcome.appt = appt
		outcome.artifact = &artifact
		return outcome
	}
	return archiveOutcome{appt: appt, artifact: &artifact}
}

func failedOutcome(id string, reason models.ArchiveFailureReason, message string, artifact *string) archiveOutcome {
	return archiveOutcome{failure: &models.ArchiveFailure{ID: id, Reason: reason, Message: message, Artifact: artifact}}
}

// bundle zips every generated artifact, orphan exports included, with a manifest.
func (s *ArchiveService) bundle(outcomes []archiveOutcome) (*models.ArchiveBundle, error) {
	rows := make([]map[string]string, 0, len(outcomes))
	entries := make([]export.BundleEntry, 0, len(outcomes)+1)
	modified := s.now().UTC()
	for _, outcome := range outcomes {
		if outcome.artifact == nil {
			continue
		}
		state := "archived"
		if outcome.failure != nil {
			state = string(outcome.failure.Reason)
		}
		rows = append(rows, map[string]string{
			"appointment_id": outcome.appt.ID,
			"date":           outcome.appt.Date,
			"time":           outcome.appt.Time,
			"type":           string(outcome.appt.Type),
			"person_name":    outcome.appt.PersonName,
			"admin_id":       outcome.appt.AdminID,
			"artifact":       outcome.artifact.Filename,
			"state":          state,
		})
		artifactPath := outcome.artifact.Path
		entries = append(entries, export.BundleEntry{
			Name:     outcome.artifact.Filename,
			Modified: modified,
			Open:     func() (io.ReadCloser, error) { return s.storage.Open(artifactPath) },
		})
	}
	if len(entries) == 0 {
		return nil, nil
	}

	manifest, err := s.manifest.Render(export.Dataset{
		Headers: []string{"appointment_id", "date", "time", "type", "person_name", "admin_id", "artifact", "state"},
		Rows:    rows,
	})
	if err != nil {
		return nil, fmt.Errorf("render manifest: %w", err)
	}
	items := len(entries)
	entries = append([]export.BundleEntry{{
		Name:     "manifest.csv",
		Modified: modified,
		Open:     func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(manifest)), nil },
	}}, entries...)

	bundleID := uuid.NewString()
	relPath := bundlePath(bundleID)
	pr, pw := io.Pipe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pw.CloseWithError(export.WriteZip(pw, entries))
	}()
	stored, err := s.storage.SaveStream(relPath, pr)
	pr.Close() //nolint:errcheck
	wg.Wait()
	if err != nil {
		return nil, fmt.Errorf("store bundle: %w", err)
	}

	bundle := &models.ArchiveBundle{Path: stored, Items: items}
	if s.signer == nil {
		return bundle, nil
	}
	token, expiresAt, err := s.signer.Generate(bundleID, stored)
	if err != nil {
		return nil, fmt.Errorf("sign bundle url: %w", err)
	}
	bundle.DownloadURL = fmt.Sprintf("%s/archives/bundles/download?token=%s", strings.TrimRight(s.cfg.APIPrefix, "/"), url.QueryEscape(token))
	bundle.ExpiresAt = expiresAt
	return bundle, nil
}

// DownloadBundle validates a signed token and opens the bundle it references.
func (s *ArchiveService) DownloadBundle(ctx context.Context, token string) (*ArchiveDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	bundleID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if relPath != bundlePath(bundleID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "bundle no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open bundle")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read bundle metadata")
	}
	return &ArchiveDownload{
		File:      file,
		Filename:  path.Base(relPath),
		MimeType:  "application/zip",
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

func bundlePath(bundleID string) string {
	return path.Join("bundles", "archive-"+bundleID+".zip")
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
