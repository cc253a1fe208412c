package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academy-portal-api/internal/models"
)

// AdminRepository reads academy administrators.
type AdminRepository struct {
	db *sqlx.DB
}

// NewAdminRepository constructs the repository.
func NewAdminRepository(db *sqlx.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

// FindByID returns an admin by id.
func (r *AdminRepository) FindByID(ctx context.Context, id string) (*models.Admin, error) {
	const query = `SELECT id, first_name, last_name, email, active FROM admins WHERE id = $1`
	var admin models.Admin
	if err := r.db.GetContext(ctx, &admin, query, id); err != nil {
		return nil, err
	}
	return &admin, nil
}

// ListActive returns active admins ordered by name.
func (r *AdminRepository) ListActive(ctx context.Context) ([]models.Admin, error) {
	const query = `SELECT id, first_name, last_name, email, active FROM admins WHERE active = TRUE ORDER BY last_name, first_name`
	var admins []models.Admin
	if err := r.db.SelectContext(ctx, &admins, query); err != nil {
		return nil, fmt.Errorf("list active admins: %w", err)
	}
	return admins, nil
}
