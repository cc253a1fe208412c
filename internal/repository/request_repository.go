package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

const requestColumns = `id, type, payload, status, assigned_admin_id, person_name, contact_email, pending_healing,
       healing_certificate, accident_only, created_at, updated_at, rejected_at, sent_at`

// RequestRepository persists requests together with the intent outbox.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request row.
func (r *RequestRepository) Create(ctx context.Context, req *models.Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusNew
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}
	const query = `INSERT INTO requests
	(id, type, payload, status, assigned_admin_id, person_name, contact_email, pending_healing, healing_certificate, accident_only, created_at, updated_at, rejected_at, sent_at)
	VALUES (:id, :type, :payload, :status, :assigned_admin_id, :person_name, :contact_email, :pending_healing, :healing_certificate, :accident_only, :created_at, :updated_at, :rejected_at, :sent_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// FindByID fetches a request by identifier.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	var req models.Request
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the filter, newest first.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + requestColumns + ` FROM requests`)

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.AssignedAdminID != "" {
		args = append(args, filter.AssignedAdminID)
		conditions = append(conditions, fmt.Sprintf("assigned_admin_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// ApplyTransition stores the next request state and its intents atomically.
// The update only applies while the row is still in status from; otherwise sql.ErrNoRows is returned.
func (r *RequestRepository) ApplyTransition(ctx context.Context, next *models.Request, from models.RequestStatus, intents []models.Intent) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `UPDATE requests SET status = $1, assigned_admin_id = $2, pending_healing = $3, healing_certificate = $4,
	accident_only = $5, updated_at = $6, rejected_at = $7, sent_at = $8
	WHERE id = $9 AND status = $10`
	res, err := tx.ExecContext(ctx, query,
		next.Status, next.AssignedAdminID, next.PendingHealing, next.HealingCertificate,
		next.AccidentOnly, next.UpdatedAt, next.RejectedAt, next.SentAt,
		next.ID, from)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update request rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if err = insertIntents(ctx, tx, intents); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transition tx: %w", err)
	}
	return nil
}

// MarkSent records the federation hand-off timestamp.
func (r *RequestRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE requests SET sent_at = $1 WHERE id = $2 AND type = $3`
	if _, err := r.db.ExecContext(ctx, query, at, id, models.RequestTypeAccidentReport); err != nil {
		return fmt.Errorf("mark request sent: %w", err)
	}
	return nil
}

// Delete removes a request. Missing rows are reported through the boolean, not an error.
func (r *RequestRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM requests WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete request rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteRejectedBefore purges rejected requests older than cutoff and returns how many were removed.
func (r *RequestRepository) DeleteRejectedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM requests WHERE status = $1 AND rejected_at < $2`
	res, err := r.db.ExecContext(ctx, query, models.RequestStatusRejected, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete rejected requests: %w", err)
	}
	return res.RowsAffected()
}
