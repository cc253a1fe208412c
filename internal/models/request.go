package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RequestType enumerates the intake forms that become requests.
type RequestType string

const (
	RequestTypeRegistration         RequestType = "REGISTRATION"
	RequestTypeSelectionTest        RequestType = "SELECTION_TEST"
	RequestTypeAccidentReport       RequestType = "ACCIDENT_REPORT"
	RequestTypeResponsibilityWaiver RequestType = "RESPONSIBILITY_WAIVER"
)

// Valid reports whether t is one of the known request types.
func (t RequestType) Valid() bool {
	switch t {
	case RequestTypeRegistration, RequestTypeSelectionTest, RequestTypeAccidentReport, RequestTypeResponsibilityWaiver:
		return true
	}
	return false
}

// RequestStatus captures the lifecycle state of a request.
type RequestStatus string

const (
	RequestStatusNew        RequestStatus = "NEW"
	RequestStatusAssigned   RequestStatus = "ASSIGNED"
	RequestStatusInProgress RequestStatus = "IN_PROGRESS"
	RequestStatusCompleted  RequestStatus = "COMPLETED"
	RequestStatusRejected   RequestStatus = "REJECTED"
)

// Valid reports whether s is one of the lifecycle states.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusNew, RequestStatusAssigned, RequestStatusInProgress, RequestStatusCompleted, RequestStatusRejected:
		return true
	}
	return false
}

// RequestEvent names a lifecycle transition.
type RequestEvent string

const (
	EventAssign                   RequestEvent = "assign"
	EventSetInProgress            RequestEvent = "setInProgress"
	EventComplete                 RequestEvent = "complete"
	EventAccept                   RequestEvent = "accept"
	EventReject                   RequestEvent = "reject"
	EventRevertToInProgress       RequestEvent = "revertToInProgress"
	EventAttachHealingCertificate RequestEvent = "attachHealingCertificate"
	EventSendToFederation         RequestEvent = "sendToFederation"
)

// Request is a submitted form moving through the approval workflow.
type Request struct {
	ID                 string          `db:"id" json:"id"`
	Type               RequestType     `db:"type" json:"type"`
	Payload            json.RawMessage `db:"payload" json:"payload"`
	Status             RequestStatus   `db:"status" json:"status"`
	AssignedAdminID    *string         `db:"assigned_admin_id" json:"assigned_admin_id,omitempty"`
	PersonName         string          `db:"person_name" json:"person_name"`
	ContactEmail       *string         `db:"contact_email" json:"contact_email,omitempty"`
	PendingHealing     bool            `db:"pending_healing" json:"pending_healing"`
	HealingCertificate *string         `db:"healing_certificate" json:"healing_certificate,omitempty"`
	AccidentOnly       bool            `db:"accident_only" json:"accident_only"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
	RejectedAt         *time.Time      `db:"rejected_at" json:"rejected_at,omitempty"`
	SentAt             *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
}

// CheckInvariants verifies the timestamp invariants tied to status and type.
func (r *Request) CheckInvariants() error {
	if (r.Status == RequestStatusRejected) != (r.RejectedAt != nil) {
		return fmt.Errorf("request %s: rejectedAt must be set iff status is %s", r.ID, RequestStatusRejected)
	}
	if r.SentAt != nil && r.Type != RequestTypeAccidentReport {
		return fmt.Errorf("request %s: sentAt only applies to %s", r.ID, RequestTypeAccidentReport)
	}
	return nil
}

// TransitionArgs carries optional event arguments.
type TransitionArgs struct {
	AdminID            string `json:"admin_id,omitempty"`
	HealingCertificate string `json:"healing_certificate,omitempty"`
	AccidentOnly       bool   `json:"accident_only,omitempty"`
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	Status          []RequestStatus
	Type            RequestType
	AssignedAdminID string
	Limit           int
	Offset          int
}

// GuardViolationError reports a transition rejected by the lifecycle table.
type GuardViolationError struct {
	RequestID string        `json:"request_id"`
	Event     RequestEvent  `json:"event"`
	From      RequestStatus `json:"from"`
	Reason    string        `json:"reason"`
}

// Error implements the error interface.
func (e *GuardViolationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("cannot %s request %s from %s: %s", e.Event, e.RequestID, e.From, e.Reason)
}
