package model

import "time"

// File is an uploaded asset. The auth core only references it as a user avatar.
type File struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	Path      string    `json:"path" gorm:"size:512;not null"`
	MimeType  string    `json:"mime_type" gorm:"size:127"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}
