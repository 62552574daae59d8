package model

import "time"

// Setting types understood by the settings cache.
const (
	SettingTypeString  = "string"
	SettingTypeNumber  = "number"
	SettingTypeBoolean = "boolean"
	SettingTypeJSON    = "json"
	SettingTypeArray   = "array"

	// SettingCategoryFileSize rows hold {"bytes": ..., "label": ...} regardless of Type.
	SettingCategoryFileSize = "filesize"
)

// Setting is one row of the runtime configuration table. Key is dot separated, e.g. "upload_path.content".
type Setting struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Key         string    `json:"key" gorm:"uniqueIndex;size:191;not null"`
	Type        string    `json:"type" gorm:"size:32;not null;default:'string'"`
	Category    string    `json:"category" gorm:"size:64;index"`
	Description string    `json:"description" gorm:"size:255"`
	Value       string    `json:"value" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
