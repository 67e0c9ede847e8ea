package model

import "time"

// Feature is a named toggleable capability. Key is the immutable public
// identity; DefaultEnabled is the verdict when no override matches.
// Version counts every change to the feature or its overrides and is what
// the change feed publishes.
type Feature struct {
	ID             uint64    `gorm:"primaryKey" json:"id"`
	Key            string    `gorm:"size:128;not null;uniqueIndex:ux_features_key" json:"key"`
	DefaultEnabled bool      `gorm:"not null;default:false" json:"default_enabled"`
	Description    string    `gorm:"size:512" json:"description"`
	Version        int       `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Overrides are owned by the feature and die with it. The FK cascade is
	// the schema-level backstop; FeatureRepository.Delete removes them in the
	// same transaction regardless of whether the driver honours the clause.
	Overrides []FeatureOverride `gorm:"foreignKey:FeatureID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (Feature) TableName() string { return "features" }

// FeatureOverride pins the verdict for one concrete target of one feature.
// At most one row may exist per (feature, target type, identifier); the
// composite unique index is authoritative under concurrent writes.
//
// CreatedAt orders competing group overrides (newest wins) and must never
// advance once the row exists; verdict changes go through UpdateEnabled,
// which touches only the enabled column. ID breaks exact-timestamp ties.
type FeatureOverride struct {
	ID               uint64    `gorm:"primaryKey" json:"id"`
	FeatureID        uint64    `gorm:"not null;uniqueIndex:ux_override_target,priority:1;index" json:"feature_id"`
	TargetType       string    `gorm:"size:16;not null;uniqueIndex:ux_override_target,priority:2" json:"target_type"`
	TargetIdentifier string    `gorm:"size:255;not null;uniqueIndex:ux_override_target,priority:3" json:"target_identifier"`
	Enabled          bool      `gorm:"not null" json:"enabled"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

func (FeatureOverride) TableName() string { return "feature_overrides" }
