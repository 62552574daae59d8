package repository

import (
	"context"

	"gorm.io/gorm"

	"cmsapi/internal/model"
)

// RoleRepository is the role/permission half of the credential store.
type RoleRepository interface {
	FindBySlug(ctx context.Context, slug string) (*model.Role, error)
	FindAllWithPermissions(ctx context.Context) ([]model.Role, error)
}

type roleRepository struct {
	db *gorm.DB
}

// NewRoleRepository creates a new role repository.
func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

// FindBySlug finds a role and its permissions by slug.
func (r *roleRepository) FindBySlug(ctx context.Context, slug string) (*model.Role, error) {
	var role model.Role
	if err := r.db.WithContext(ctx).Preload("Permissions").
		Where("slug = ?", slug).First(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

// FindAllWithPermissions lists every role with nested permissions.
func (r *roleRepository) FindAllWithPermissions(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	if err := r.db.WithContext(ctx).Preload("Permissions").Order("id").Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}
