package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
	"github.com/noah-isme/academy-portal-api/pkg/storage"
)

type generatorStub struct {
	storage *storage.LocalStorage
	failFor map[string]bool

	mu    sync.Mutex
	calls []string
}

func (g *generatorStub) Generate(ctx context.Context, appt models.Appointment) (models.ArtifactHandle, error) {
	g.mu.Lock()
	g.calls = append(g.calls, appt.ID)
	g.mu.Unlock()
	if g.failFor[appt.ID] {
		return models.ArtifactHandle{}, errors.New("renderer unavailable")
	}
	filename := fmt.Sprintf("appointment-%s.pdf", appt.ID)
	stored, err := g.storage.Save("artifacts/"+filename, []byte("%PDF "+appt.ID))
	if err != nil {
		return models.ArtifactHandle{}, err
	}
	return models.ArtifactHandle{Path: stored, Filename: filename, SizeBytes: 5}, nil
}

type archiveFixture struct {
	service   *ArchiveService
	scheduler *AppointmentScheduler
	repo      *memAppointmentRepo
	generator *generatorStub
	ids       []string
}

func newArchiveFixture(t *testing.T, count int) *archiveFixture {
	t.Helper()
	repo := newMemAppointmentRepo()
	scheduler, _, _ := newTestScheduler(t, repo)
	labels := scheduler.Grid().Labels()
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		appt, err := scheduler.Book(context.Background(), bookingFor("2024-06-11", labels[i]), nil)
		require.NoError(t, err)
		ids = append(ids, appt.ID)
	}

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	generator := &generatorStub{storage: store, failFor: map[string]bool{}}
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	svc := NewArchiveService(scheduler, generator, store, signer, nil, NewMetricsService(), nil, ArchiveServiceConfig{Concurrency: 2})
	return &archiveFixture{service: svc, scheduler: scheduler, repo: repo, generator: generator, ids: ids}
}

func TestArchiveTracksEachItemIndependently(t *testing.T) {
	fx := newArchiveFixture(t, 5)
	broken := fx.ids[2]
	fx.generator.failFor[broken] = true

	summary, err := fx.service.Archive(context.Background(), ArchiveRequest{AppointmentIDs: fx.ids}, nil)
	require.NoError(t, err)

	expected := append(append([]string{}, fx.ids[:2]...), fx.ids[3:]...)
	require.Equal(t, expected, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	require.Equal(t, broken, summary.Failed[0].ID)
	require.Equal(t, models.ArchiveFailureGenerationFailed, summary.Failed[0].Reason)
	require.Nil(t, summary.Failed[0].Artifact)

	available, err := fx.scheduler.AvailableSlots(context.Background(), "2024-06-11")
	require.NoError(t, err)
	labels := fx.scheduler.Grid().Labels()
	for i := range fx.ids {
		if i == 2 {
			require.NotContains(t, available, labels[i])
			continue
		}
		require.Contains(t, available, labels[i])
	}
	_, err = fx.scheduler.Get(context.Background(), broken)
	require.NoError(t, err)

	require.NotNil(t, summary.Bundle)
	require.Equal(t, 4, summary.Bundle.Items)
	require.Nil(t, summary.BundleError)
}

func TestArchiveReportsOrphanExportWhenDeleteFails(t *testing.T) {
	fx := newArchiveFixture(t, 2)
	stuck := fx.ids[0]
	fx.repo.deleteErr[stuck] = errors.New("connection reset")

	summary, err := fx.service.Archive(context.Background(), ArchiveRequest{AppointmentIDs: fx.ids}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{fx.ids[1]}, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	require.Equal(t, models.ArchiveFailureOrphanExport, summary.Failed[0].Reason)
	require.NotNil(t, summary.Failed[0].Artifact)

	_, err = fx.scheduler.Get(context.Background(), stuck)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Bundle.Items)
}

func TestArchiveReportsUnknownIDs(t *testing.T) {
	fx := newArchiveFixture(t, 1)

	summary, err := fx.service.Archive(context.Background(), ArchiveRequest{AppointmentIDs: []string{"missing", fx.ids[0], "missing"}}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{fx.ids[0]}, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	require.Equal(t, models.ArchiveFailureNotFound, summary.Failed[0].Reason)
	require.Equal(t, []string{fx.ids[0]}, fx.generator.calls)
}

func TestArchiveSeparatesLookupFailureFromGeneration(t *testing.T) {
	fx := newArchiveFixture(t, 2)
	unreadable := fx.ids[0]
	fx.repo.findErr[unreadable] = errors.New("too many connections")

	summary, err := fx.service.Archive(context.Background(), ArchiveRequest{AppointmentIDs: fx.ids}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{fx.ids[1]}, summary.Succeeded)
	require.Len(t, summary.Failed, 1)
	require.Equal(t, models.ArchiveFailureLookupFailed, summary.Failed[0].Reason)
	require.Nil(t, summary.Failed[0].Artifact)
	require.Equal(t, []string{fx.ids[1]}, fx.generator.calls)
}

func TestArchiveRejectsEmptySelection(t *testing.T) {
	fx := newArchiveFixture(t, 0)
	_, err := fx.service.Archive(context.Background(), ArchiveRequest{AppointmentIDs: []string{" "}}, nil)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestArchiveWithoutArtifactsHasNoBundle(t *testing.T) {
	fx := newArchiveFixture(t, 1)
	fx.generator.failFor[fx.ids[0]] = true

	summary, err := fx.service.Archive(context.Background(), ArchiveRequest{AppointmentIDs: fx.ids}, nil)
	require.NoError(t, err)
	require.Empty(t, summary.Succeeded)
	require.Nil(t, summary.Bundle)
	require.Nil(t, summary.BundleError)
}

func TestDownloadBundleServesSignedZip(t *testing.T) {
	fx := newArchiveFixture(t, 2)
	summary, err := fx.service.Archive(context.Background(), ArchiveRequest{AppointmentIDs: fx.ids}, nil)
	require.NoError(t, err)
	require.NotNil(t, summary.Bundle)

	parsed, err := url.Parse(summary.Bundle.DownloadURL)
	require.NoError(t, err)
	require.Equal(t, "/api/v1/archives/bundles/download", parsed.Path)

	download, err := fx.service.DownloadBundle(context.Background(), parsed.Query().Get("token"))
	require.NoError(t, err)
	defer download.File.Close()
	require.Equal(t, "application/zip", download.MimeType)

	reader, err := zip.NewReader(download.File, download.SizeBytes)
	require.NoError(t, err)
	names := make([]string, 0, len(reader.File))
	for _, f := range reader.File {
		names = append(names, f.Name)
	}
	require.Equal(t, sortedCopy([]string{
		"appointment-" + fx.ids[0] + ".pdf",
		"appointment-" + fx.ids[1] + ".pdf",
		"manifest.csv",
	}), sortedCopy(names))

	manifest, err := reader.Open("manifest.csv")
	require.NoError(t, err)
	body, err := io.ReadAll(manifest)
	require.NoError(t, err)
	require.Contains(t, string(body), "appointment_id,date,time,type,person_name,admin_id,artifact,state")

	_, err = fx.service.DownloadBundle(context.Background(), "tampered.token.value.sig")
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
