package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cmsapi/internal/model"
)

// NewMySQL returns a connected GORM DB instance.
func NewMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	return db, nil
}

// Models lists every table owned by this service, parents first.
func Models() []interface{} {
	return []interface{}{
		&model.File{},
		&model.Permission{},
		&model.Role{},
		&model.User{},
		&model.Setting{},
	}
}

// Migrate creates or updates the schema, including the many2many join tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Reset drops every table. Join tables go first.
func Reset(db *gorm.DB) error {
	tables := []interface{}{"user_roles", "role_permissions"}
	models := Models()
	for i := len(models) - 1; i >= 0; i-- {
		tables = append(tables, models[i])
	}
	for _, table := range tables {
		if err := db.Migrator().DropTable(table); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}
	return nil
}
