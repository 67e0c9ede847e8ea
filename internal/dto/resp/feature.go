package resp

import (
	"time"

	v1 "togglr/pkg/api/v1"
)

type FeatureItem struct {
	ID             uint64    `json:"id"`
	Key            string    `json:"key"`
	DefaultEnabled bool      `json:"default_enabled"`
	Description    string    `json:"description"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type OverrideItem struct {
	ID               uint64    `json:"id"`
	FeatureKey       string    `json:"feature_key"`
	TargetType       string    `json:"target_type"`
	TargetIdentifier string    `json:"target_identifier"`
	Enabled          bool      `json:"enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

type SnapshotResponse struct {
	Data     []v1.ChangeEvent `json:"data"`
	Revision int64            `json:"revision"`
}
