package models

import "time"

// AuthKey is one signal key-store entry of the linked-device session.
// Type and ID together address the key; Value holds its opaque JSON encoding.
type AuthKey struct {
	Type      string `gorm:"primaryKey;size:64"`
	ID        string `gorm:"primaryKey;size:191"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName pins the table name independent of gorm's pluralization rules.
func (AuthKey) TableName() string { return "auth_keys" }
