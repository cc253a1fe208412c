package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

type auditRepository interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// auditRecorder writes best-effort audit rows; failures are logged only.
type auditRecorder struct {
	repo   auditRepository
	source string
	logger *zap.Logger
}

func (a auditRecorder) emit(ctx context.Context, actor *models.JWTClaims, action, resource, resourceID string, oldValues, newValues interface{}) {
	if a.repo == nil {
		return
	}
	entry := &models.AuditLog{
		Action:    action,
		Resource:  resource,
		IPAddress: "system",
		UserAgent: a.source,
	}
	if actor != nil && actor.UserID != "" {
		userID := actor.UserID
		entry.UserID = &userID
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := a.repo.CreateAuditLog(ctx, entry); err != nil {
		a.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}
