package model

// SDKClient is an issued API key for the read surface (evaluate + stream).
// Admin mutation routes are intentionally unguarded.
type SDKClient struct {
	ID     uint64 `gorm:"primaryKey"`
	AppID  string `gorm:"size:64;not null"`
	APIKey string `gorm:"size:64;not null;uniqueIndex"`
	Status int    `gorm:"default:1"`
}
