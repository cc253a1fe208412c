package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

const reasonAssignmentRequired = "assignment required before accept/reject"

// completionIntents maps request types to the side effect emitted on accept/complete.
var completionIntents = map[models.RequestType]models.IntentKind{
	models.RequestTypeRegistration:         models.IntentCreateAppointment,
	models.RequestTypeSelectionTest:        models.IntentNotifyMembers,
	models.RequestTypeResponsibilityWaiver: models.IntentStoreDocument,
	models.RequestTypeAccidentReport:       models.IntentMoveToPendingHealing,
}

// ApplyTransition runs event against req and returns the next request state with the intents it emits.
// It performs no I/O; admin activity for assign is checked by the caller beforehand.
func ApplyTransition(req models.Request, event models.RequestEvent, args models.TransitionArgs, now time.Time) (models.Request, []models.Intent, error) {
	next := req
	now = now.UTC()

	switch event {
	case models.EventAssign:
		if req.Status != models.RequestStatusNew {
			return req, nil, guardViolation(req, event, "only new requests can be assigned")
		}
		adminID := strings.TrimSpace(args.AdminID)
		if adminID == "" {
			return req, nil, appErrors.Clone(appErrors.ErrValidation, "adminId is required")
		}
		next.AssignedAdminID = &adminID
		next.Status = models.RequestStatusAssigned
		next.UpdatedAt = now
		return next, nil, nil

	case models.EventSetInProgress:
		if req.Status != models.RequestStatusNew && req.Status != models.RequestStatusAssigned {
			return req, nil, guardViolation(req, event, "request is not new or assigned")
		}
		next.Status = models.RequestStatusInProgress
		next.UpdatedAt = now
		return next, nil, nil

	case models.EventAccept, models.EventComplete:
		switch {
		case req.Status == models.RequestStatusRejected:
			return req, nil, guardViolation(req, event, "request was rejected")
		case req.Status == models.RequestStatusCompleted:
			return req, nil, guardViolation(req, event, "request is already completed")
		case req.PendingHealing:
			return req, nil, guardViolation(req, event, "accident report is awaiting federation hand-off")
		case req.AssignedAdminID == nil:
			return req, nil, guardViolation(req, event, reasonAssignmentRequired)
		}
		kind, ok := completionIntents[req.Type]
		if !ok {
			return req, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown request type %q", req.Type))
		}
		if req.Type == models.RequestTypeAccidentReport {
			next.Status = models.RequestStatusInProgress
			next.PendingHealing = true
		} else {
			next.Status = models.RequestStatusCompleted
		}
		next.UpdatedAt = now
		return next, []models.Intent{newIntent(kind, next, now)}, nil

	case models.EventReject:
		switch {
		case req.Status == models.RequestStatusCompleted:
			return req, nil, guardViolation(req, event, "request is already completed")
		case req.Status == models.RequestStatusRejected:
			return req, nil, guardViolation(req, event, "request is already rejected")
		case req.AssignedAdminID == nil:
			return req, nil, guardViolation(req, event, reasonAssignmentRequired)
		}
		next.Status = models.RequestStatusRejected
		next.PendingHealing = false
		next.RejectedAt = &now
		next.UpdatedAt = now
		return next, nil, nil

	case models.EventRevertToInProgress:
		if req.Status != models.RequestStatusCompleted {
			return req, nil, guardViolation(req, event, "only completed requests can be reverted")
		}
		// Revert touches the status alone.
		next.Status = models.RequestStatusInProgress
		return next, nil, nil

	case models.EventAttachHealingCertificate:
		if err := requirePendingHealing(req, event); err != nil {
			return req, nil, err
		}
		ref := strings.TrimSpace(args.HealingCertificate)
		if ref == "" {
			return req, nil, appErrors.Clone(appErrors.ErrValidation, "healingCertificate is required")
		}
		next.HealingCertificate = &ref
		next.UpdatedAt = now
		return next, nil, nil

	case models.EventSendToFederation:
		if err := requirePendingHealing(req, event); err != nil {
			return req, nil, err
		}
		if req.HealingCertificate == nil && !args.AccidentOnly {
			return req, nil, guardViolation(req, event, "healing certificate or accident-only dossier required")
		}
		next.Status = models.RequestStatusCompleted
		next.PendingHealing = false
		next.AccidentOnly = args.AccidentOnly
		next.UpdatedAt = now
		return next, []models.Intent{newIntent(models.IntentNotifyFederation, next, now)}, nil
	}

	return req, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown event %q", event))
}

func requirePendingHealing(req models.Request, event models.RequestEvent) error {
	if req.Type != models.RequestTypeAccidentReport {
		return guardViolation(req, event, "only accident reports go through the healing flow")
	}
	if req.Status != models.RequestStatusInProgress || !req.PendingHealing {
		return guardViolation(req, event, "accident report is not pending healing")
	}
	return nil
}

func guardViolation(req models.Request, event models.RequestEvent, reason string) error {
	domainErr := &models.GuardViolationError{RequestID: req.ID, Event: event, From: req.Status, Reason: reason}
	return appErrors.WrapAs(appErrors.ErrGuardViolation, domainErr, reason).WithDetails(domainErr)
}

func newIntent(kind models.IntentKind, req models.Request, now time.Time) models.Intent {
	payload := models.IntentPayload{
		RequestType:  req.Type,
		PersonName:   req.PersonName,
		AccidentOnly: req.AccidentOnly,
		Form:         req.Payload,
	}
	if req.ContactEmail != nil {
		payload.ContactEmail = *req.ContactEmail
	}
	if req.AssignedAdminID != nil {
		payload.AdminID = *req.AssignedAdminID
	}
	if req.HealingCertificate != nil {
		payload.Document = *req.HealingCertificate
	}
	raw, _ := json.Marshal(payload)
	requestID := req.ID
	return models.Intent{
		Kind:      kind,
		RequestID: &requestID,
		Payload:   raw,
		Status:    models.IntentStatusPending,
		CreatedAt: now,
	}
}
