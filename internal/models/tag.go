package models

import "time"

// DefaultTagColor is used when a tag is created without a color.
const DefaultTagColor = "#6b7280"

// Tag represents a label that can be applied to issues.
type Tag struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Color     string    `json:"color" db:"color"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
