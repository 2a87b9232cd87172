package lateinit

import (
	"errors"

	"github.com/numtide/external-resource-operator/pkg/fieldpath"
)

// Merge applies the resource type's late-initialization rules to the desired
// spec, filling in fields the user left unset from the observation each rule
// designates.
//
// Rules are applied in ruleset order; the result never depends on the
// iteration order of obs. A field already present in desired always wins,
// regardless of how it got there. Operations not performed this pass, and
// fields the provider has not surfaced yet, are skipped without error.
//
// On a fatal error the desired map must be treated as tentatively mutated:
// nothing is rolled back, and the caller must not persist it. A pass that
// returns ErrNotYetAvailable (by kind) is not a failure; the tracker converts
// it into a durable pending marker and a bounded requeue.
func Merge(desired map[string]any, obs Observations, rs *Ruleset) MergeResult {
	if rs.IsNoOp() {
		return MergeResult{}
	}

	if rs.Hooks.OverrideAll != nil {
		changed, err := rs.Hooks.OverrideAll(desired, obs, false, nil)
		return MergeResult{Changed: changed, Err: err}
	}

	changed := false
	var pending error

	if rs.Hooks.Pre != nil {
		preChanged, err := rs.Hooks.Pre(desired, obs, false, nil)
		changed = preChanged
		if err != nil {
			if !errors.Is(err, ErrNotYetAvailable) {
				return MergeResult{Changed: changed, Err: err}
			}
			pending = err
		}
	}

	for _, rule := range rs.Rules {
		var (
			ruleChanged bool
			err         error
		)
		if hook, ok := rs.Hooks.Field[rule.HookName]; ok && rule.HookName != "" {
			ruleChanged, err = hook(desired, obs, rule)
		} else {
			ruleChanged, err = applyRule(desired, obs, rule)
		}

		changed = changed || ruleChanged
		if err != nil {
			if !errors.Is(err, ErrNotYetAvailable) {
				return MergeResult{Changed: changed, Err: err}
			}
			if pending == nil {
				pending = err
			}
		}
	}

	if rs.Hooks.Post != nil {
		postChanged, err := rs.Hooks.Post(desired, obs, changed, pending)
		return MergeResult{Changed: postChanged, Err: err}
	}

	return MergeResult{Changed: changed, Err: pending}
}

// applyRule is the generic copy step for one rule: skip if the operation was
// not performed, skip if desired already has the field, skip if the
// observation does not surface it, otherwise copy.
func applyRule(desired map[string]any, obs Observations, rule FieldRule) (bool, error) {
	observed, ok := obs[rule.Source]
	if !ok || observed == nil {
		return false, nil
	}

	_, present, err := fieldpath.Get(desired, rule.Path)
	if err != nil {
		return false, mergeFailure(rule.Path.String(), err)
	}
	if present {
		return false, nil
	}

	value, present, err := fieldpath.Get(observed, rule.Path)
	if err != nil {
		return false, mergeFailure(rule.Path.String(), err)
	}
	if !present {
		return false, nil
	}

	if err := fieldpath.Set(desired, rule.Path, value); err != nil {
		return false, mergeFailure(rule.Path.String(), err)
	}
	return true, nil
}
