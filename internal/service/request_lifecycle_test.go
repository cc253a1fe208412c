package service

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

var lifecycleNow = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

func newTestRequest(reqType models.RequestType) models.Request {
	email := "jane@example.com"
	return models.Request{
		ID:           "req-1",
		Type:         reqType,
		Payload:      json.RawMessage(`{"firstName":"Jane"}`),
		Status:       models.RequestStatusNew,
		PersonName:   "Jane Doe",
		ContactEmail: &email,
		CreatedAt:    lifecycleNow.Add(-time.Hour),
		UpdatedAt:    lifecycleNow.Add(-time.Hour),
	}
}

func mustTransition(t *testing.T, req models.Request, event models.RequestEvent, args models.TransitionArgs) (models.Request, []models.Intent) {
	t.Helper()
	next, intents, err := ApplyTransition(req, event, args, lifecycleNow)
	require.NoError(t, err)
	require.NoError(t, next.CheckInvariants())
	return next, intents
}

func requireGuardViolation(t *testing.T, err error) *models.GuardViolationError {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, appErrors.ErrGuardViolation.Code, appErrors.FromError(err).Code)
	var domainErr *models.GuardViolationError
	require.True(t, errors.As(err, &domainErr))
	return domainErr
}

func TestRegistrationAssignThenCompleteEmitsCreateAppointment(t *testing.T) {
	req := newTestRequest(models.RequestTypeRegistration)
	req, intents := mustTransition(t, req, models.EventAssign, models.TransitionArgs{AdminID: "7"})
	require.Empty(t, intents)
	require.Equal(t, models.RequestStatusAssigned, req.Status)
	require.Equal(t, "7", *req.AssignedAdminID)

	req, intents = mustTransition(t, req, models.EventComplete, models.TransitionArgs{})
	require.Equal(t, models.RequestStatusCompleted, req.Status)
	require.Len(t, intents, 1)
	require.Equal(t, models.IntentCreateAppointment, intents[0].Kind)
	require.Equal(t, models.IntentStatusPending, intents[0].Status)
	require.Equal(t, "req-1", *intents[0].RequestID)

	var payload models.IntentPayload
	require.NoError(t, json.Unmarshal(intents[0].Payload, &payload))
	require.Equal(t, "7", payload.AdminID)
	require.Equal(t, "jane@example.com", payload.ContactEmail)

	_, again, err := ApplyTransition(req, models.EventComplete, models.TransitionArgs{}, lifecycleNow)
	domainErr := requireGuardViolation(t, err)
	require.Equal(t, models.RequestStatusCompleted, domainErr.From)
	require.Empty(t, again)
}

func TestCompletionIntentPerType(t *testing.T) {
	cases := map[models.RequestType]models.IntentKind{
		models.RequestTypeSelectionTest:        models.IntentNotifyMembers,
		models.RequestTypeResponsibilityWaiver: models.IntentStoreDocument,
		models.RequestTypeAccidentReport:       models.IntentMoveToPendingHealing,
	}
	for reqType, kind := range cases {
		req := newTestRequest(reqType)
		req, _ = mustTransition(t, req, models.EventAssign, models.TransitionArgs{AdminID: "1"})
		_, intents := mustTransition(t, req, models.EventAccept, models.TransitionArgs{})
		require.Len(t, intents, 1, string(reqType))
		require.Equal(t, kind, intents[0].Kind, string(reqType))
	}
}

func TestCompleteAndRejectRequireAssignment(t *testing.T) {
	for _, event := range []models.RequestEvent{models.EventComplete, models.EventAccept, models.EventReject} {
		req := newTestRequest(models.RequestTypeRegistration)
		next, intents, err := ApplyTransition(req, event, models.TransitionArgs{}, lifecycleNow)
		domainErr := requireGuardViolation(t, err)
		require.Equal(t, reasonAssignmentRequired, domainErr.Reason)
		require.Equal(t, models.RequestStatusNew, next.Status)
		require.Nil(t, next.RejectedAt)
		require.Empty(t, intents)
	}
}

func TestRejectSetsRejectedAt(t *testing.T) {
	req := newTestRequest(models.RequestTypeSelectionTest)
	req, _ = mustTransition(t, req, models.EventAssign, models.TransitionArgs{AdminID: "1"})
	req, _ = mustTransition(t, req, models.EventSetInProgress, models.TransitionArgs{})
	req, intents := mustTransition(t, req, models.EventReject, models.TransitionArgs{})
	require.Empty(t, intents)
	require.Equal(t, models.RequestStatusRejected, req.Status)
	require.NotNil(t, req.RejectedAt)
	require.True(t, req.RejectedAt.Equal(lifecycleNow))

	_, _, err := ApplyTransition(req, models.EventReject, models.TransitionArgs{}, lifecycleNow)
	requireGuardViolation(t, err)
	_, _, err = ApplyTransition(req, models.EventComplete, models.TransitionArgs{}, lifecycleNow)
	requireGuardViolation(t, err)
}

func TestRejectCompletedIsGuarded(t *testing.T) {
	req := newTestRequest(models.RequestTypeSelectionTest)
	req, _ = mustTransition(t, req, models.EventAssign, models.TransitionArgs{AdminID: "1"})
	req, _ = mustTransition(t, req, models.EventComplete, models.TransitionArgs{})
	_, _, err := ApplyTransition(req, models.EventReject, models.TransitionArgs{}, lifecycleNow)
	requireGuardViolation(t, err)
}

func TestRevertChangesOnlyStatus(t *testing.T) {
	req := newTestRequest(models.RequestTypeResponsibilityWaiver)
	req, _ = mustTransition(t, req, models.EventAssign, models.TransitionArgs{AdminID: "1"})
	completed, _ := mustTransition(t, req, models.EventComplete, models.TransitionArgs{})

	reverted, intents, err := ApplyTransition(completed, models.EventRevertToInProgress, models.TransitionArgs{}, lifecycleNow.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, intents)
	require.Equal(t, models.RequestStatusInProgress, reverted.Status)

	reverted.Status = completed.Status
	require.Equal(t, completed, reverted)

	_, _, err = ApplyTransition(req, models.EventRevertToInProgress, models.TransitionArgs{}, lifecycleNow)
	requireGuardViolation(t, err)
}

func TestSetInProgressOnlyFromNewOrAssigned(t *testing.T) {
	req := newTestRequest(models.RequestTypeRegistration)
	req, _ = mustTransition(t, req, models.EventSetInProgress, models.TransitionArgs{})
	require.Equal(t, models.RequestStatusInProgress, req.Status)

	_, _, err := ApplyTransition(req, models.EventSetInProgress, models.TransitionArgs{}, lifecycleNow)
	requireGuardViolation(t, err)
}

func TestAssignValidation(t *testing.T) {
	req := newTestRequest(models.RequestTypeRegistration)
	_, _, err := ApplyTransition(req, models.EventAssign, models.TransitionArgs{AdminID: "  "}, lifecycleNow)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	req, _ = mustTransition(t, req, models.EventAssign, models.TransitionArgs{AdminID: "1"})
	_, _, err = ApplyTransition(req, models.EventAssign, models.TransitionArgs{AdminID: "2"}, lifecycleNow)
	requireGuardViolation(t, err)
}

func TestUnknownEventIsValidationError(t *testing.T) {
	req := newTestRequest(models.RequestTypeRegistration)
	_, _, err := ApplyTransition(req, models.RequestEvent("archive"), models.TransitionArgs{}, lifecycleNow)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAccidentReportHealingFlow(t *testing.T) {
	req := newTestRequest(models.RequestTypeAccidentReport)
	req, _ = mustTransition(t, req, models.EventAssign, models.TransitionArgs{AdminID: "1"})

	_, _, err := ApplyTransition(req, models.EventSendToFederation, models.TransitionArgs{}, lifecycleNow)
	requireGuardViolation(t, err)

	req, intents := mustTransition(t, req, models.EventAccept, models.TransitionArgs{})
	require.Equal(t, models.RequestStatusInProgress, req.Status)
	require.True(t, req.PendingHealing)
	require.Equal(t, models.IntentMoveToPendingHealing, intents[0].Kind)

	_, _, err = ApplyTransition(req, models.EventAccept, models.TransitionArgs{}, lifecycleNow)
	requireGuardViolation(t, err)

	_, _, err = ApplyTransition(req, models.EventSendToFederation, models.TransitionArgs{}, lifecycleNow)
	domainErr := requireGuardViolation(t, err)
	require.Contains(t, domainErr.Reason, "healing certificate")

	req, intents = mustTransition(t, req, models.EventAttachHealingCertificate, models.TransitionArgs{HealingCertificate: "certs/jane.pdf"})
	require.Empty(t, intents)
	require.Equal(t, "certs/jane.pdf", *req.HealingCertificate)

	req, intents = mustTransition(t, req, models.EventSendToFederation, models.TransitionArgs{})
	require.Equal(t, models.RequestStatusCompleted, req.Status)
	require.False(t, req.PendingHealing)
	require.Nil(t, req.SentAt)
	require.Len(t, intents, 1)
	require.Equal(t, models.IntentNotifyFederation, intents[0].Kind)

	var payload models.IntentPayload
	require.NoError(t, json.Unmarshal(intents[0].Payload, &payload))
	require.Equal(t, "certs/jane.pdf", payload.Document)
}

func TestAccidentOnlyDossierSkipsCertificate(t *testing.T) {
	req := newTestRequest(models.RequestTypeAccidentReport)
	req, _ = mustTransition(t, req, models.EventAssign, models.TransitionArgs{AdminID: "1"})
	req, _ = mustTransition(t, req, models.EventAccept, models.TransitionArgs{})
	req, intents := mustTransition(t, req, models.EventSendToFederation, models.TransitionArgs{AccidentOnly: true})
	require.Equal(t, models.RequestStatusCompleted, req.Status)
	require.True(t, req.AccidentOnly)
	require.Len(t, intents, 1)
}

func TestHealingEventsRejectOtherTypes(t *testing.T) {
	req := newTestRequest(models.RequestTypeRegistration)
	req.Status = models.RequestStatusInProgress
	_, _, err := ApplyTransition(req, models.EventAttachHealingCertificate, models.TransitionArgs{HealingCertificate: "x"}, lifecycleNow)
	requireGuardViolation(t, err)
}
