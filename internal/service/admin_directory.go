package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type adminRepository interface {
	FindByID(ctx context.Context, id string) (*models.Admin, error)
	ListActive(ctx context.Context) ([]models.Admin, error)
}

type adminCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// AdminDirectory resolves administrators referenced by requests and appointments.
type AdminDirectory struct {
	repo   adminRepository
	cache  adminCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewAdminDirectory constructs the directory. cache may be nil.
func NewAdminDirectory(repo adminRepository, cache adminCache, ttl time.Duration, logger *zap.Logger) *AdminDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminDirectory{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

func adminCacheKey(id string) string {
	return fmt.Sprintf("admins:%s", id)
}

// Get returns the admin or a NOT_FOUND error.
func (d *AdminDirectory) Get(ctx context.Context, id string) (*models.Admin, error) {
	if d.cache != nil {
		var cached models.Admin
		if hit, err := d.cache.Get(ctx, adminCacheKey(id), &cached); err == nil && hit {
			return &cached, nil
		}
	}

	return d.load(ctx, id)
}

// load reads the admin from the repository and refreshes the cache entry.
func (d *AdminDirectory) load(ctx context.Context, id string) (*models.Admin, error) {
	admin, err := d.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "admin not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load admin")
	}

	if d.cache != nil {
		_ = d.cache.Set(ctx, adminCacheKey(id), admin, d.ttl)
	}
	return admin, nil
}

// IsActive reports whether id resolves to an active admin. Unknown ids are inactive.
// It always reads the repository so a deactivation applies to the next assignment or booking.
func (d *AdminDirectory) IsActive(ctx context.Context, id string) (bool, error) {
	admin, err := d.load(ctx, id)
	if err != nil {
		if appErrors.FromError(err).Code == appErrors.ErrNotFound.Code {
			return false, nil
		}
		return false, err
	}
	return admin.Active, nil
}

// ListActive returns every active admin.
func (d *AdminDirectory) ListActive(ctx context.Context) ([]models.Admin, error) {
	admins, err := d.repo.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list admins")
	}
	return admins, nil
}

// InvalidateCache drops every cached admin so status changes are visible immediately.
func (d *AdminDirectory) InvalidateCache(ctx context.Context) error {
	if d.cache == nil {
		return nil
	}
	return d.cache.Invalidate(ctx, "admins:*")
}
