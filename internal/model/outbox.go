package model

import "time"

// OutboxTask is written in the same transaction as every admin mutation.
// Payload is a serialized v1.ChangeEvent; the outbox worker ships it to
// etcd and flips the status.
type OutboxTask struct {
	ID         int64  `json:"id" gorm:"primaryKey"`
	FeatureKey string `json:"feature_key" gorm:"size:128;index"`
	Payload    string `json:"payload" gorm:"type:text"`
	Status     int    `json:"status" gorm:"index"`
	RetryCount int    `json:"retry_count" gorm:"default:0"`
	TraceID    string `json:"trace_id" gorm:"size:64;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const (
	StatusPending   = 0
	StatusCompleted = 1
	StatusFailed    = 2
)
