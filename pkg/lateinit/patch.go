package lateinit

import (
	"k8s.io/apimachinery/pkg/api/equality"
)

// PatchPlan is the decision of which parts of a desired record must be
// written back after a reconciliation pass.
type PatchPlan string

const (
	// PatchNone means nothing changed; writing would only re-trigger
	// reconciliation for no reason.
	PatchNone PatchPlan = "None"

	// PatchStatusOnly means only the status subresource changed.
	PatchStatusOnly PatchPlan = "StatusOnly"

	// PatchSpecAndStatus means spec fields were filled in (or mutated by the
	// provider call) and both parts must be persisted.
	PatchSpecAndStatus PatchPlan = "SpecAndStatus"
)

// RecordView exposes the spec-shaped and status-shaped parts of a desired
// record for comparison. Both sides of a comparison must use the same
// concrete types.
type RecordView struct {
	Spec   any
	Status any
}

// DecidePatch compares the desired record before and after the merge pass
// and returns the minimal patch plan.
//
// Spec comparison uses semantic deep-equality, so resource.Quantity-style
// values with equal meaning but different representations do not force
// writes. The caller must base the spec patch on the copy of the record taken
// after the last status write, not a stale pre-merge copy, so concurrent
// status-only updates are not clobbered.
func DecidePatch(before, after RecordView, specMutatedByOp bool) PatchPlan {
	if specMutatedByOp || !equality.Semantic.DeepEqual(before.Spec, after.Spec) {
		return PatchSpecAndStatus
	}
	if !equality.Semantic.DeepEqual(before.Status, after.Status) {
		return PatchStatusOnly
	}
	return PatchNone
}
