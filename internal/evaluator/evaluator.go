// Package evaluator resolves a feature flag to a boolean for one caller.
//
// Precedence: user override, then the most recently created group override,
// then the feature's default. Unknown flags evaluate to false so callers can
// ship lookups for flags that do not exist yet.
package evaluator

import (
	"context"

	"togglr/internal/model"
	"togglr/pkg/constraints"
)

// Decision sources reported to the observer, used as metric label values.
const (
	SourceUser    = constraints.TargetUser
	SourceGroup   = constraints.TargetGroup
	SourceDefault = "default"
	SourceUnknown = "unknown"
)

// FeatureFinder is the slice of the feature store the evaluator reads.
type FeatureFinder interface {
	GetByKey(ctx context.Context, key string) (*model.Feature, error)
}

// OverrideFinder is the slice of the override store the evaluator reads.
type OverrideFinder interface {
	GetByTarget(ctx context.Context, featureID uint64, targetType, targetIdentifier string) (*model.FeatureOverride, error)
	GetLatestForTargets(ctx context.Context, featureID uint64, targetType string, identifiers []string) (*model.FeatureOverride, error)
}

// Observer receives the outcome of each evaluation. Implementations must be
// cheap and non-blocking; a nil observer disables reporting.
type Observer interface {
	ObserveEvaluation(featureKey, source string, enabled bool)
}

// Request carries the caller context for a single flag decision.
type Request struct {
	FeatureKey string
	UserID     string
	Groups     []string
}

// Evaluator is stateless and safe for concurrent use.
type Evaluator struct {
	features  FeatureFinder
	overrides OverrideFinder
	observer  Observer
}

func NewEvaluator(features FeatureFinder, overrides OverrideFinder, observer Observer) *Evaluator {
	return &Evaluator{
		features:  features,
		overrides: overrides,
		observer:  observer,
	}
}

// Evaluate resolves one flag for one caller. Store failures are returned to
// the caller, never collapsed into a false verdict; only a flag that is
// genuinely absent evaluates to (false, nil).
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (bool, error) {
	feature, err := e.features.GetByKey(ctx, req.FeatureKey)
	if err != nil {
		return false, err
	}
	if feature == nil {
		e.observe(req.FeatureKey, SourceUnknown, false)
		return false, nil
	}

	// User override dominates regardless of group membership or recency.
	if req.UserID != "" {
		ov, err := e.overrides.GetByTarget(ctx, feature.ID, constraints.TargetUser, req.UserID)
		if err != nil {
			return false, err
		}
		if ov != nil {
			e.observe(req.FeatureKey, SourceUser, ov.Enabled)
			return ov.Enabled, nil
		}
	}

	// Among group overrides the newest one wins; membership order is
	// irrelevant. An empty group list skips the tier entirely.
	if len(req.Groups) > 0 {
		ov, err := e.overrides.GetLatestForTargets(ctx, feature.ID, constraints.TargetGroup, req.Groups)
		if err != nil {
			return false, err
		}
		if ov != nil {
			e.observe(req.FeatureKey, SourceGroup, ov.Enabled)
			return ov.Enabled, nil
		}
	}

	e.observe(req.FeatureKey, SourceDefault, feature.DefaultEnabled)
	return feature.DefaultEnabled, nil
}

func (e *Evaluator) observe(featureKey, source string, enabled bool) {
	if e.observer != nil {
		e.observer.ObserveEvaluation(featureKey, source, enabled)
	}
}
