package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academy-portal-api/internal/models"
	appErrors "github.com/noah-isme/academy-portal-api/pkg/errors"
)

type adminRepoStub struct {
	admins map[string]models.Admin
	finds  int
	err    error
}

func (r *adminRepoStub) FindByID(ctx context.Context, id string) (*models.Admin, error) {
	r.finds++
	if r.err != nil {
		return nil, r.err
	}
	admin, ok := r.admins[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &admin, nil
}

func (r *adminRepoStub) ListActive(ctx context.Context) ([]models.Admin, error) {
	out := []models.Admin{}
	for _, admin := range r.admins {
		if admin.Active {
			out = append(out, admin)
		}
	}
	return out, nil
}

type memCacheRepo struct {
	entries map[string][]byte
}

func (m *memCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	for key := range m.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.entries, key)
		}
	}
	return nil
}

func newTestAdminDirectory() (*AdminDirectory, *adminRepoStub, *memCacheRepo) {
	repo := &adminRepoStub{admins: map[string]models.Admin{
		"7": {ID: "7", FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Active: true},
		"8": {ID: "8", FirstName: "Old", LastName: "Timer", Email: "old@example.com", Active: false},
	}}
	cacheRepo := &memCacheRepo{entries: map[string][]byte{}}
	cache := NewCacheService(cacheRepo, NewMetricsService(), time.Minute, nil, true)
	return NewAdminDirectory(repo, cache, time.Minute, nil), repo, cacheRepo
}

func TestAdminDirectoryCachesLookups(t *testing.T) {
	dir, repo, cacheRepo := newTestAdminDirectory()

	admin, err := dir.Get(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", admin.FullName())
	_, err = dir.Get(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, 1, repo.finds)
	require.Contains(t, cacheRepo.entries, CacheKeyPrefix+"admins:7")

	require.NoError(t, dir.InvalidateCache(context.Background()))
	require.Empty(t, cacheRepo.entries)
	_, err = dir.Get(context.Background(), "7")
	require.NoError(t, err)
	require.Equal(t, 2, repo.finds)
}

func TestAdminDirectoryIsActive(t *testing.T) {
	dir, repo, _ := newTestAdminDirectory()

	active, err := dir.IsActive(context.Background(), "7")
	require.NoError(t, err)
	require.True(t, active)

	active, err = dir.IsActive(context.Background(), "8")
	require.NoError(t, err)
	require.False(t, active)

	active, err = dir.IsActive(context.Background(), "404")
	require.NoError(t, err)
	require.False(t, active)

	repo.err = errors.New("connection refused")
	_, err = dir.IsActive(context.Background(), "9")
	require.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestAdminDirectoryWithoutCache(t *testing.T) {
	repo := &adminRepoStub{admins: map[string]models.Admin{"7": {ID: "7", Active: true}}}
	dir := NewAdminDirectory(repo, nil, 0, nil)

	_, err := dir.Get(context.Background(), "7")
	require.NoError(t, err)
	require.NoError(t, dir.InvalidateCache(context.Background()))

	admins, err := dir.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, admins, 1)
}

type brokenCacheRepo struct{}

func (brokenCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	return errors.New("redis: connection pool timeout")
}

func (brokenCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return errors.New("redis: connection pool timeout")
}

func (brokenCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	return nil
}

func TestAdminDirectoryFallsBackWhenCacheIsDown(t *testing.T) {
	repo := &adminRepoStub{admins: map[string]models.Admin{"7": {ID: "7", Active: true}}}
	cache := NewCacheService(brokenCacheRepo{}, NewMetricsService(), time.Minute, nil, true)
	dir := NewAdminDirectory(repo, cache, time.Minute, nil)

	active, err := dir.IsActive(context.Background(), "7")
	require.NoError(t, err)
	require.True(t, active)
	require.Equal(t, 1, repo.finds)
}

func TestAdminDirectoryIsActiveIgnoresStaleCache(t *testing.T) {
	dir, repo, _ := newTestAdminDirectory()

	cached, err := dir.Get(context.Background(), "7")
	require.NoError(t, err)
	require.True(t, cached.Active)

	deactivated := repo.admins["7"]
	deactivated.Active = false
	repo.admins["7"] = deactivated

	active, err := dir.IsActive(context.Background(), "7")
	require.NoError(t, err)
	require.False(t, active)

	refreshed, err := dir.Get(context.Background(), "7")
	require.NoError(t, err)
	require.False(t, refreshed.Active)
}
