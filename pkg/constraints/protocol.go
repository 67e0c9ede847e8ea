package constraints

type Action int32

const (
	DELETE Action = 0
	PUT    Action = 1
)

const (
	// TargetUser scopes an override to exactly one user identifier
	TargetUser = "user"
	// TargetGroup scopes an override to all members of one group
	TargetGroup = "group"
)

// Source of a change event: which record kind triggered the version bump
const (
	SourceFeature  = "feature"
	SourceOverride = "override"
)

// ValidTargetType reports whether t belongs to the closed target set.
// Anything else must be rejected before it reaches the store.
func ValidTargetType(t string) bool {
	return t == TargetUser || t == TargetGroup
}
