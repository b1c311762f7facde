package model

import "time"

// Blob is one opaque value persisted under a string key.
type Blob struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
