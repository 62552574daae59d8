package model

import "time"

// User represents an authenticated user of the CMS.
type User struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Email        string    `json:"email" gorm:"uniqueIndex;size:191;not null"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"` // Never expose in JSON
	Name         string    `json:"name" gorm:"size:255"`
	Lastname     string    `json:"lastname" gorm:"size:255"`
	AvatarID     *uint     `json:"avatar_id,omitempty" gorm:"index"`
	Avatar       *File     `json:"avatar,omitempty" gorm:"foreignKey:AvatarID"`
	Roles        []Role    `json:"roles,omitempty" gorm:"many2many:user_roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoleSlugs returns the slugs of the user's loaded roles.
func (u *User) RoleSlugs() []string {
	if u == nil || len(u.Roles) == 0 {
		return []string{}
	}
	slugs := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		slugs = append(slugs, r.Slug)
	}
	return slugs
}
