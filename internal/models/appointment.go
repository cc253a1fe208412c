package models

import "time"

// AppointmentType shares the request type space plus OTHER.
type AppointmentType string

const (
	AppointmentTypeRegistration         AppointmentType = AppointmentType(RequestTypeRegistration)
	AppointmentTypeSelectionTest        AppointmentType = AppointmentType(RequestTypeSelectionTest)
	AppointmentTypeAccidentReport       AppointmentType = AppointmentType(RequestTypeAccidentReport)
	AppointmentTypeResponsibilityWaiver AppointmentType = AppointmentType(RequestTypeResponsibilityWaiver)
	AppointmentTypeOther                AppointmentType = "OTHER"
)

// Valid reports whether t is a known appointment type.
func (t AppointmentType) Valid() bool {
	return t == AppointmentTypeOther || RequestType(t).Valid()
}

// Appointment is one booked secretariat slot.
type Appointment struct {
	ID              string          `db:"id" json:"id"`
	Date            string          `db:"date" json:"date"`
	Time            string          `db:"time" json:"time"`
	Type            AppointmentType `db:"type" json:"type"`
	PersonName      string          `db:"person_name" json:"person_name"`
	ContactEmail    *string         `db:"contact_email" json:"contact_email,omitempty"`
	AdminID         string          `db:"admin_id" json:"admin_id"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	SourceRequestID *string         `db:"source_request_id" json:"source_request_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// AppointmentFilter narrows range queries. From and To are inclusive YYYY-MM-DD dates.
type AppointmentFilter struct {
	From    string
	To      string
	AdminID string
	Type    AppointmentType
}

// SlotConflictError describes a booking collision and the free alternatives of that day.
type SlotConflictError struct {
	Date         string   `json:"date"`
	Time         string   `json:"time"`
	ExistingID   string   `json:"existing_id,omitempty"`
	Alternatives []string `json:"alternatives"`
}

// Error implements the error interface.
func (e *SlotConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return "slot " + e.Date + " " + e.Time + " is already booked"
}
