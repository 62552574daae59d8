package model

import "time"

// Role groups permissions. Slug is the only identifier the ACL uses; Name is display only.
type Role struct {
	ID          uint         `json:"id" gorm:"primaryKey"`
	Name        string       `json:"name" gorm:"size:255;not null"`
	Slug        string       `json:"slug" gorm:"uniqueIndex;size:191;not null"`
	Permissions []Permission `json:"permissions,omitempty" gorm:"many2many:role_permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PermissionSlugs returns the slugs of the role's loaded permissions.
func (r *Role) PermissionSlugs() []string {
	slugs := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		slugs = append(slugs, p.Slug)
	}
	return slugs
}

// Permission is a named capability such as "settings:read".
// Permissions reach users only through roles.
type Permission struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	Slug      string    `json:"slug" gorm:"uniqueIndex;size:191;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
