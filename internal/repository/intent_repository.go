package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

const intentColumns = `id, kind, request_id, appointment_id, payload, status, attempts, last_error, created_at, dispatched_at, delivered_at`

// IntentRepository tracks dispatch state of outbox intents.
type IntentRepository struct {
	db *sqlx.DB
}

// NewIntentRepository constructs the repository.
func NewIntentRepository(db *sqlx.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

// FindByID loads an intent by id.
func (r *IntentRepository) FindByID(ctx context.Context, id string) (*models.Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM intents WHERE id = $1`
	var intent models.Intent
	if err := r.db.GetContext(ctx, &intent, query, id); err != nil {
		return nil, err
	}
	return &intent, nil
}

// List returns intents matching the filter, oldest first.
func (r *IntentRepository) List(ctx context.Context, filter models.IntentFilter) ([]models.Intent, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + intentColumns + ` FROM intents`)

	conditions := make([]string, 0, 2)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.RequestID != "" {
		args = append(args, filter.RequestID)
		conditions = append(conditions, fmt.Sprintf("request_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at ASC")

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d", limit))

	var intents []models.Intent
	if err := r.db.SelectContext(ctx, &intents, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	return intents, nil
}

// Claim moves an intent to DISPATCHING when it is currently in one of the given statuses.
// The boolean is false when another worker got there first or the status did not match.
func (r *IntentRepository) Claim(ctx context.Context, id string, from ...models.IntentStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []interface{}{models.IntentStatusDispatching, id}
	placeholders := make([]string, len(from))
	for i, status := range from {
		args = append(args, status)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	query := fmt.Sprintf(`UPDATE intents SET status = $1, attempts = attempts + 1 WHERE id = $2 AND status IN (%s)`, strings.Join(placeholders, ","))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("claim intent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim intent rows: %w", err)
	}
	return affected > 0, nil
}

// Finish records the terminal outcome of a dispatch attempt.
func (r *IntentRepository) Finish(ctx context.Context, id string, status models.IntentStatus, lastError *string, at time.Time) error {
	const query = `UPDATE intents SET status = $1, last_error = $2, dispatched_at = $3 WHERE id = $4`
	if _, err := r.db.ExecContext(ctx, query, status, lastError, at, id); err != nil {
		return fmt.Errorf("finish intent: %w", err)
	}
	return nil
}

// MarkDelivered records that the intent's external message was sent. It only sets the first delivery time.
func (r *IntentRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE intents SET delivered_at = $1 WHERE id = $2 AND delivered_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("mark intent delivered: %w", err)
	}
	return nil
}

// FailInterrupted marks intents stuck in DISPATCHING as FAILED so they surface for manual retry.
func (r *IntentRepository) FailInterrupted(ctx context.Context, message string, at time.Time) (int64, error) {
	const query = `UPDATE intents SET status = $1, last_error = $2, dispatched_at = $3 WHERE status = $4`
	res, err := r.db.ExecContext(ctx, query, models.IntentStatusFailed, message, at, models.IntentStatusDispatching)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted intents: %w", err)
	}
	return res.RowsAffected()
}
