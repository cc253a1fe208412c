package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

const insertIntentQuery = `INSERT INTO intents
	(id, kind, request_id, appointment_id, payload, status, attempts, last_error, created_at, dispatched_at)
	VALUES (:id, :kind, :request_id, :appointment_id, :payload, :status, :attempts, :last_error, :created_at, :dispatched_at)`

// insertIntents writes intents inside the caller's transaction, filling ids and defaults in place.
func insertIntents(ctx context.Context, tx *sqlx.Tx, intents []models.Intent) error {
	for i := range intents {
		intent := &intents[i]
		if intent.ID == "" {
			intent.ID = uuid.NewString()
		}
		if intent.Status == "" {
			intent.Status = models.IntentStatusPending
		}
		if intent.CreatedAt.IsZero() {
			intent.CreatedAt = time.Now().UTC()
		}
		if len(intent.Payload) == 0 {
			intent.Payload = []byte(`{}`)
		}
		if _, err := tx.NamedExecContext(ctx, insertIntentQuery, intent); err != nil {
			return fmt.Errorf("insert intent %s: %w", intent.Kind, err)
		}
	}
	return nil
}
