package models

import (
	"encoding/json"
	"time"
)

// IntentKind names a side effect emitted by a transition.
type IntentKind string

const (
	IntentCreateAppointment    IntentKind = "CREATE_APPOINTMENT"
	IntentNotifyMembers        IntentKind = "NOTIFY_MEMBERS"
	IntentStoreDocument        IntentKind = "STORE_DOCUMENT"
	IntentMoveToPendingHealing IntentKind = "MOVE_TO_PENDING_HEALING"
	IntentNotifyFederation     IntentKind = "NOTIFY_FEDERATION"
	IntentNotifyCancellation   IntentKind = "NOTIFY_CANCELLATION"
)

// IntentStatus tracks dispatch progress of an intent.
type IntentStatus string

const (
	IntentStatusPending     IntentStatus = "PENDING"
	IntentStatusDispatching IntentStatus = "DISPATCHING"
	IntentStatusSucceeded   IntentStatus = "SUCCEEDED"
	IntentStatusSkipped     IntentStatus = "SKIPPED"
	IntentStatusFailed      IntentStatus = "FAILED"
)

// Intent is a side-effect instruction persisted alongside the state change that produced it.
type Intent struct {
	ID            string          `db:"id" json:"id"`
	Kind          IntentKind      `db:"kind" json:"kind"`
	RequestID     *string         `db:"request_id" json:"request_id,omitempty"`
	AppointmentID *string         `db:"appointment_id" json:"appointment_id,omitempty"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Status        IntentStatus    `db:"status" json:"status"`
	Attempts      int             `db:"attempts" json:"attempts"`
	LastError     *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	DispatchedAt  *time.Time      `db:"dispatched_at" json:"dispatched_at,omitempty"`
	// DeliveredAt is set once the external message went out; a retry never sends it again.
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
}

// IntentPayload is the data every intent handler may need. Fields are filled per kind.
type IntentPayload struct {
	RequestType  RequestType     `json:"request_type,omitempty"`
	PersonName   string          `json:"person_name,omitempty"`
	ContactEmail string          `json:"contact_email,omitempty"`
	AdminID      string          `json:"admin_id,omitempty"`
	Date         string          `json:"date,omitempty"`
	Time         string          `json:"time,omitempty"`
	Document     string          `json:"document,omitempty"`
	AccidentOnly bool            `json:"accident_only,omitempty"`
	Form         json.RawMessage `json:"form,omitempty"`
}

// IntentFilter narrows intent listings.
type IntentFilter struct {
	Status    []IntentStatus
	RequestID string
	Limit     int
}
