package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"cmsapi/internal/auth"
	"cmsapi/internal/model"
)

// RoleSeed describes a role and the permission slugs it grants.
type RoleSeed struct {
	Slug        string
	Name        string
	Permissions []string
}

// AdminSeed is the bootstrap administrator. An empty Email skips it.
type AdminSeed struct {
	Email    string
	Password string
	Name     string
}

// SeedResult counts what Seed created.
type SeedResult struct {
	Permissions  int
	Roles        int
	Settings     int
	AdminCreated bool
}

// DefaultPermissions are the permission slugs the API checks.
var DefaultPermissions = []string{
	"settings:read", "settings:update",
	"acl:read", "acl:reload",
	"articles:read", "articles:create", "articles:update", "articles:delete",
	"users:read", "users:create", "users:update", "users:delete",
}

// DefaultRoles are seeded with exactly these permissions.
var DefaultRoles = []RoleSeed{
	{Slug: "administrator", Name: "Administrator", Permissions: DefaultPermissions},
	{Slug: "editor", Name: "Editor", Permissions: []string{
		"settings:read", "acl:read",
		"articles:read", "articles:create", "articles:update", "articles:delete",
	}},
	{Slug: "user", Name: "User", Permissions: []string{"articles:read"}},
}

// DefaultSettings are inserted when missing; existing values are left alone.
var DefaultSettings = []model.Setting{
	{Key: "pagination.order", Type: model.SettingTypeString, Description: "Default sort order", Value: "desc"},
	{Key: "pagination.pagesize", Type: model.SettingTypeNumber, Description: "Default page size", Value: "10"},
	{Key: "upload_path.root", Type: model.SettingTypeString, Description: "Upload root directory", Value: "uploads"},
	{Key: "upload_path.content", Type: model.SettingTypeString, Description: "Content uploads", Value: "uploads/content"},
	{Key: "upload_path.profile", Type: model.SettingTypeString, Description: "Profile pictures", Value: "uploads/profile"},
	{Key: "upload_content_type.image", Type: model.SettingTypeArray, Description: "Accepted image types", Value: `["image/jpeg","image/png","image/webp"]`},
	{Key: "upload_content_type.document", Type: model.SettingTypeArray, Description: "Accepted document types", Value: `["application/pdf"]`},
	{Key: "filesize.2_mb", Type: model.SettingTypeJSON, Category: model.SettingCategoryFileSize, Description: "Image size limit", Value: `{"bytes":"2097152","label":"2 MB"}`},
	{Key: "filesize.10_mb", Type: model.SettingTypeJSON, Category: model.SettingCategoryFileSize, Description: "Document size limit", Value: `{"bytes":"10485760","label":"10 MB"}`},
	{Key: "rate_limit.public.max", Type: model.SettingTypeNumber, Description: "Public requests per window", Value: "100"},
	{Key: "rate_limit.public.window", Type: model.SettingTypeNumber, Description: "Public window in minutes", Value: "15"},
	{Key: "rate_limit.private.max", Type: model.SettingTypeNumber, Description: "Authenticated requests per window", Value: "1000"},
	{Key: "rate_limit.private.window", Type: model.SettingTypeNumber, Description: "Authenticated window in minutes", Value: "15"},
	{Key: "upload_required.default", Type: model.SettingTypeBoolean, Description: "Require a file on article creation", Value: "false"},
}

// Seed inserts the default permissions, roles, settings and admin in one transaction. It is safe to rerun.
func Seed(ctx context.Context, db *gorm.DB, admin AdminSeed) (SeedResult, error) {
	var res SeedResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		perms := make(map[string]model.Permission, len(DefaultPermissions))
		for _, slug := range DefaultPermissions {
			p := model.Permission{}
			q := tx.Where(model.Permission{Slug: slug}).Attrs(model.Permission{Name: permissionName(slug)}).FirstOrCreate(&p)
			if q.Error != nil {
				return fmt.Errorf("seed permission %s: %w", slug, q.Error)
			}
			res.Permissions += int(q.RowsAffected)
			perms[slug] = p
		}

		roles := make(map[string]model.Role, len(DefaultRoles))
		for _, rs := range DefaultRoles {
			role := model.Role{}
			q := tx.Where(model.Role{Slug: rs.Slug}).Attrs(model.Role{Name: rs.Name}).FirstOrCreate(&role)
			if q.Error != nil {
				return fmt.Errorf("seed role %s: %w", rs.Slug, q.Error)
			}
			res.Roles += int(q.RowsAffected)

			granted := make([]model.Permission, 0, len(rs.Permissions))
			for _, slug := range rs.Permissions {
				granted = append(granted, perms[slug])
			}
			if err := tx.Model(&role).Association("Permissions").Replace(granted); err != nil {
				return fmt.Errorf("grant permissions to %s: %w", rs.Slug, err)
			}
			roles[rs.Slug] = role
		}

		for _, s := range DefaultSettings {
			row := model.Setting{}
			q := tx.Where(model.Setting{Key: s.Key}).Attrs(s).FirstOrCreate(&row)
			if q.Error != nil {
				return fmt.Errorf("seed setting %s: %w", s.Key, q.Error)
			}
			res.Settings += int(q.RowsAffected)
		}

		if strings.TrimSpace(admin.Email) == "" {
			return nil
		}
		created, err := seedAdmin(tx, admin, roles["administrator"])
		res.AdminCreated = created
		return err
	})
	return res, err
}

func seedAdmin(tx *gorm.DB, admin AdminSeed, role model.Role) (bool, error) {
	email := strings.ToLower(strings.TrimSpace(admin.Email))
	var existing model.User
	err := tx.Where(model.User{Email: email}).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("find admin: %w", err)
	}
	if len(admin.Password) < 6 {
		return false, errors.New("admin password must be at least 6 characters")
	}

	hash, err := auth.HashPassword(admin.Password)
	if err != nil {
		return false, err
	}
	name := admin.Name
	if name == "" {
		name = "Administrator"
	}
	user := model.User{Email: email, PasswordHash: hash, Name: name, Roles: []model.Role{role}}
	if err := tx.Create(&user).Error; err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}

// permissionName turns "articles:read" into "Articles read".
func permissionName(slug string) string {
	resource, action, _ := strings.Cut(slug, ":")
	if resource == "" {
		return slug
	}
	return strings.ToUpper(resource[:1]) + resource[1:] + " " + action
}
