package repository

import (
	"context"

	"gorm.io/gorm"

	"cmsapi/internal/model"
)

// SettingRepository defines persistence operations on the settings table.
type SettingRepository interface {
	FindAll(ctx context.Context) ([]model.Setting, error)
	FindByKey(ctx context.Context, key string) (*model.Setting, error)
	UpdateValue(ctx context.Context, key, value string) error
}

type settingRepository struct {
	db *gorm.DB
}

// NewSettingRepository creates a new settings repository.
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepository{db: db}
}

// FindAll returns every settings row.
func (r *settingRepository) FindAll(ctx context.Context) ([]model.Setting, error) {
	var rows []model.Setting
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindByKey finds a single row by its dotted key.
func (r *settingRepository) FindByKey(ctx context.Context, key string) (*model.Setting, error) {
	var row model.Setting
	// struct condition so gorm quotes the reserved `key` column
	if err := r.db.WithContext(ctx).Where(&model.Setting{Key: key}).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// UpdateValue replaces the raw value of a row the caller has already found.
// MySQL counts changed rows, so rewriting the current value affects zero rows and is not an error.
func (r *settingRepository) UpdateValue(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).Model(&model.Setting{}).
		Where(&model.Setting{Key: key}).
		Update("value", value).Error
}
