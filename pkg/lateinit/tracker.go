package lateinit

import (
	"errors"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/numtide/external-resource-operator/pkg/util/annotations"
)

// ActionKind tells the reconciliation loop what to do after a merge pass.
type ActionKind string

const (
	// ActionNoOp requires nothing from the loop.
	ActionNoOp ActionKind = "NoOp"

	// ActionMarkPendingAndRequeue means the pending marker is (now) set and
	// the resource must be requeued after the action's delay.
	ActionMarkPendingAndRequeue ActionKind = "MarkPendingAndRequeue"

	// ActionClearPendingAndContinue means a previously pending resource has
	// settled and the cleared marker must be persisted.
	ActionClearPendingAndContinue ActionKind = "ClearPendingAndContinue"
)

// Action is the tracker's decision for one merge result.
type Action struct {
	Kind ActionKind

	// RequeueAfter is the backoff delay for ActionMarkPendingAndRequeue,
	// zero otherwise.
	RequeueAfter time.Duration
}

// Tracker maintains the durable pending marker on resources whose
// late-initialized defaults are not yet observable.
//
// The marker and the attempt counter live in the resource's persisted
// annotations, not in memory: reconciliation workers may be replaced between
// requeues, and the "waiting for async defaults" condition has to survive
// that. The tracker only mutates the in-memory object; persisting it is the
// caller's job, decided by the patch logic.
type Tracker struct {
	// BaseDelay is the first requeue delay. Defaults to 5s.
	BaseDelay time.Duration

	// MaxDelay caps the requeue delay. Defaults to 5m.
	MaxDelay time.Duration

	// Factor is the backoff multiplier per consecutive pending pass.
	// Defaults to 2.
	Factor float64
}

const (
	defaultBaseDelay = 5 * time.Second
	defaultMaxDelay  = 5 * time.Minute
	defaultFactor    = 2.0
)

// OnMergeResult inspects a merge result and drives the marker lifecycle.
//
// A pending result sets the marker (idempotently), bumps the attempt counter
// and asks for a bounded, capped requeue. A successful result on a marked
// resource clears the marker exactly once. Everything else, including fatal
// merge errors, is a no-op here: fatal errors follow the loop's ordinary
// failure path and must not be conflated with the pending retry policy.
func (t *Tracker) OnMergeResult(obj metav1.Object, res MergeResult) Action {
	switch {
	case errors.Is(res.Err, ErrNotYetAvailable):
		attempts := annotations.GetLateInitAttempts(obj)
		annotations.SetLateInitPending(obj)
		annotations.SetLateInitAttempts(obj, attempts+1)
		return Action{
			Kind:         ActionMarkPendingAndRequeue,
			RequeueAfter: t.delay(attempts),
		}

	case res.Err == nil && annotations.IsLateInitPending(obj):
		annotations.ClearLateInitPending(obj)
		return Action{Kind: ActionClearPendingAndContinue}

	default:
		return Action{Kind: ActionNoOp}
	}
}

// delay computes the capped exponential backoff for the given number of
// prior pending passes.
func (t *Tracker) delay(attempts int) time.Duration {
	base := t.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	max := t.MaxDelay
	if max <= 0 {
		max = defaultMaxDelay
	}
	factor := t.Factor
	if factor <= 1 {
		factor = defaultFactor
	}

	delay := base
	for i := 0; i < attempts; i++ {
		delay = time.Duration(float64(delay) * factor)
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
