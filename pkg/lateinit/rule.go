package lateinit

import (
	"github.com/numtide/external-resource-operator/pkg/fieldpath"
)

// SourceMethod names the provider operation whose output a field default is
// read from.
type SourceMethod string

const (
	// SourceRead takes the default from the output of a read call.
	SourceRead SourceMethod = "read"

	// SourceCreate takes the default from the output of the create call.
	SourceCreate SourceMethod = "create"

	// SourceUpdate takes the default from the output of an update call.
	SourceUpdate SourceMethod = "update"
)

// knownSourceMethods is the set of operations a rule may name.
var knownSourceMethods = map[SourceMethod]bool{
	SourceRead:   true,
	SourceCreate: true,
	SourceUpdate: true,
}

// FieldRule binds one optional spec field to the observation it is
// late-initialized from.
type FieldRule struct {
	// Path addresses the field inside the spec.
	Path fieldpath.Path

	// Source is the operation whose observation supplies the default.
	Source SourceMethod

	// HookName names a per-field hook that replaces the generic copy step for
	// this rule. Empty means the generic step applies.
	HookName string
}

// Ruleset is the immutable late-initialization rule table for one resource
// type. It is built once at config load and shared read-only across all
// reconciliations of that type.
type Ruleset struct {
	// ResourceType identifies the resource type the rules apply to.
	ResourceType string

	// DefaultSource is used when a rule omits its source method.
	DefaultSource SourceMethod

	// Rules are applied in order; order determines merge determinism.
	Rules []FieldRule

	// Hooks are the optional extension points bound to this resource type.
	Hooks Hooks
}

// IsNoOp reports whether a merge pass with this ruleset can change anything.
// A nil ruleset or one with neither rules nor hooks is a cheap pass-through.
func (rs *Ruleset) IsNoOp() bool {
	if rs == nil {
		return true
	}
	return len(rs.Rules) == 0 && rs.Hooks.isEmpty()
}

// Observation is a read-only snapshot of the spec-shaped fields one provider
// operation returned. It is consumed by the merge engine and never persisted.
type Observation map[string]any

// Observations collects the snapshots of one reconciliation pass, keyed by
// the operation that produced each. Operations not performed this pass are
// simply absent.
type Observations map[SourceMethod]Observation

// MergeResult is the outcome of one merge pass.
type MergeResult struct {
	// Changed reports whether any desired field was filled in. A true value
	// obligates the caller to persist the spec.
	Changed bool

	// Err is nil on success, ErrNotYetAvailable (by kind) when the provider
	// has not finished populating defaults, and fatal otherwise.
	Err error
}
