package req

// DefaultEnabled is a pointer because binding:"required" rejects a literal
// false on plain bools.
type CreateFeatureRequest struct {
	Key            string `json:"key" binding:"required"`
	DefaultEnabled *bool  `json:"default_enabled" binding:"required"`
	Description    string `json:"description"`
}

type UpdateFeatureRequest struct {
	DefaultEnabled *bool  `json:"default_enabled" binding:"required"`
	Description    string `json:"description"`
}
