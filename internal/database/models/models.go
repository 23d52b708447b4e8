// Package models contains the database model definitions.
package models

import (
	"time"
)

// Device is the directory record of a node that announced itself.
// Table: devices
type Device struct {
	ID      string `gorm:"column:id;primaryKey"`
	Address string `gorm:"column:address;uniqueIndex"`
	// Slot is the registry index the node held when last seen.
	Slot       int       `gorm:"column:slot"`
	Identifier string    `gorm:"column:identifier"`
	Mapping    string    `gorm:"column:mapping"`
	FirstSeen  time.Time `gorm:"column:first_seen"`
	LastSeen   time.Time `gorm:"column:last_seen"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Device) TableName() string { return "devices" }

// Setting represents a system setting.
// Table: settings
type Setting struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Key       string    `gorm:"column:key;uniqueIndex"`
	Value     string    `gorm:"column:value"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Setting) TableName() string { return "settings" }
