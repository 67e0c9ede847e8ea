package req

type CreateOverrideRequest struct {
	TargetType       string `json:"target_type" binding:"required"`
	TargetIdentifier string `json:"target_identifier" binding:"required"`
	Enabled          *bool  `json:"enabled" binding:"required"`
}

type UpdateOverrideRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}
