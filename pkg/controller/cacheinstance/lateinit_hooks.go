package cacheinstance

import (
	"fmt"

	"github.com/numtide/external-resource-operator/pkg/fieldpath"
	"github.com/numtide/external-resource-operator/pkg/lateinit"
)

// Hook names referenced by the CacheInstance late-initialization config.
const (
	// HookParametersFromRead merges provider-assigned engine parameters
	// key by key instead of treating the whole map as one field.
	HookParametersFromRead = "cacheinstance/parametersFromRead"

	// HookRequireProviderDefaults keeps the resource pending until the
	// asynchronously assigned defaults have surfaced.
	HookRequireProviderDefaults = "cacheinstance/requireProviderDefaults"
)

// Fields the provider assigns asynchronously after creation. The post hook
// holds the resource in the pending state until all of them have been merged.
var asyncDefaultPaths = []fieldpath.Path{
	fieldpath.MustParse("maintenanceWindow"),
	fieldpath.MustParse("backup.retentionDays"),
	fieldpath.MustParse("backup.window"),
}

// RegisterLateInitHooks registers the CacheInstance hooks into the registry
// the config loader resolves names against.
func RegisterLateInitHooks(reg *lateinit.HookRegistry) {
	reg.RegisterFieldHook(HookParametersFromRead, mergeParameterDefaults)
	reg.RegisterMergeHook(HookRequireProviderDefaults, requireProviderDefaults)
}

// mergeParameterDefaults copies individual provider-assigned parameter keys
// the user did not set. The generic absence-only rule cannot express per-key
// merging on a map-valued field: a user who set one parameter would
// otherwise block all provider defaults for the rest.
func mergeParameterDefaults(
	desired map[string]any,
	obs lateinit.Observations,
	rule lateinit.FieldRule,
) (bool, error) {
	observation, ok := obs[rule.Source]
	if !ok || observation == nil {
		return false, nil
	}

	raw, present, err := fieldpath.Get(observation, rule.Path)
	if err != nil || !present {
		return false, err
	}
	observedParams, ok := raw.(map[string]any)
	if !ok {
		return false, fmt.Errorf("observed field %q is a %T, expected an object: %w",
			rule.Path.String(), raw, fieldpath.ErrTypeMismatch)
	}

	desiredParams := map[string]any{}
	if raw, present, err := fieldpath.Get(desired, rule.Path); err != nil {
		return false, err
	} else if present {
		if desiredParams, ok = raw.(map[string]any); !ok {
			return false, fmt.Errorf("desired field %q is a %T, expected an object: %w",
				rule.Path.String(), raw, fieldpath.ErrTypeMismatch)
		}
	}

	changed := false
	for k, v := range observedParams {
		if _, declared := desiredParams[k]; !declared {
			desiredParams[k] = v
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	return true, fieldpath.Set(desired, rule.Path, desiredParams)
}

// requireProviderDefaults is a post hook: after field copying it checks that
// every asynchronously assigned default has landed in the desired spec, and
// reports the pass as not yet available otherwise.
func requireProviderDefaults(
	desired map[string]any,
	obs lateinit.Observations,
	changed bool,
	err error,
) (bool, error) {
	if err != nil {
		return changed, err
	}
	for _, path := range asyncDefaultPaths {
		_, present, gerr := fieldpath.Get(desired, path)
		if gerr != nil {
			return changed, gerr
		}
		if !present {
			return changed, fmt.Errorf("field %q: %w", path.String(), lateinit.ErrNotYetAvailable)
		}
	}
	return changed, nil
}

// DefaultLateInitConfig is the built-in CacheInstance rule table, used when
// no config file is provided. It matches config/late-init.yaml.
func DefaultLateInitConfig() lateinit.Config {
	return lateinit.Config{
		ResourceTypes: []lateinit.ResourceTypeConfig{
			{
				Type:                resourceType,
				DefaultSourceMethod: lateinit.SourceRead,
				Fields: []lateinit.FieldConfig{
					{Path: "engineVersion", SourceMethod: lateinit.SourceCreate},
					{Path: "timeoutSeconds", SourceMethod: lateinit.SourceCreate},
					{Path: "nodeCount", SourceMethod: lateinit.SourceCreate},
					{Path: "maintenanceWindow"},
					{Path: "backup.retentionDays"},
					{Path: "backup.window"},
					{Path: "parameters", OverrideHook: HookParametersFromRead},
				},
				Hooks: lateinit.HookConfig{
					Post: HookRequireProviderDefaults,
				},
			},
		},
	}
}
