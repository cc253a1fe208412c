package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

// ErrSlotTaken is returned when the (date, time) uniqueness constraint rejects an insert.
var ErrSlotTaken = errors.New("appointment slot already taken")

const uniqueViolation = "23505"

const appointmentColumns = `id, to_char(date, 'YYYY-MM-DD') AS date, time, type, person_name, contact_email, admin_id, notes, source_request_id, created_at`

// AppointmentRepository persists secretariat appointments.
type AppointmentRepository struct {
	db *sqlx.DB
}

// NewAppointmentRepository constructs the repository.
func NewAppointmentRepository(db *sqlx.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

// Create inserts a new appointment. A clash on (date, time) yields ErrSlotTaken.
func (r *AppointmentRepository) Create(ctx context.Context, appt *models.Appointment) error {
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO appointments
	(id, date, time, type, person_name, contact_email, admin_id, notes, source_request_id, created_at)
	VALUES (:id, :date, :time, :type, :person_name, :contact_email, :admin_id, :notes, :source_request_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, appt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrSlotTaken
		}
		return fmt.Errorf("create appointment: %w", err)
	}
	return nil
}

// FindByID loads an appointment by id.
func (r *AppointmentRepository) FindByID(ctx context.Context, id string) (*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	var appt models.Appointment
	if err := r.db.GetContext(ctx, &appt, query, id); err != nil {
		return nil, err
	}
	return &appt, nil
}

// FindBySourceRequest returns the appointment auto-booked for a request, if any.
func (r *AppointmentRepository) FindBySourceRequest(ctx context.Context, requestID string) (*models.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE source_request_id = $1 LIMIT 1`
	var appt models.Appointment
	if err := r.db.GetContext(ctx, &appt, query, requestID); err != nil {
		return nil, err
	}
	return &appt, nil
}

// List returns appointments ordered by date then time.
func (r *AppointmentRepository) List(ctx context.Context, filter models.AppointmentFilter) ([]models.Appointment, error) {
	var conditions []string
	var args []interface{}

	if filter.From != "" {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)))
	}
	if filter.To != "" {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)))
	}
	if filter.AdminID != "" {
		args = append(args, filter.AdminID)
		conditions = append(conditions, fmt.Sprintf("admin_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY date ASC, time ASC"

	var appts []models.Appointment
	if err := r.db.SelectContext(ctx, &appts, query, args...); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// Delete removes an appointment and records any follow-up intents in the same transaction.
// It returns sql.ErrNoRows when the appointment does not exist.
func (r *AppointmentRepository) Delete(ctx context.Context, id string, intents []models.Intent) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete appointment tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete appointment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if err = insertIntents(ctx, tx, intents); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete appointment tx: %w", err)
	}
	return nil
}
