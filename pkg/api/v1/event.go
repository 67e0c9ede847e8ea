package v1

import (
	"encoding/json"

	"togglr/pkg/constraints"
)

// ChangeEvent notifies SDK clients that a flag's stored state moved.
// Clients react by re-evaluating; the event never carries a verdict.
type ChangeEvent struct {
	FeatureKey string             `json:"feature_key"`
	Version    int                `json:"version"`  // per-feature change counter
	Revision   int64              `json:"revision"` // overall etcd revision
	Action     constraints.Action `json:"action"`
	Source     string             `json:"source"` // feature | override
}

type EvaluateRequest struct {
	FeatureKey string   `json:"feature_key"`
	UserID     string   `json:"user_id"`
	Groups     []string `json:"groups"`
}

type EvaluateResponse struct {
	FeatureKey string `json:"feature_key"`
	Enabled    bool   `json:"enabled"`
}

func (e *ChangeEvent) ToJSON() string {
	b, err := json.Marshal(e)
	if err != nil {
		panic("togglr event serialization failed: " + err.Error())
	}
	return string(b)
}
