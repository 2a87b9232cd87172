package lateinit

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/numtide/external-resource-operator/pkg/fieldpath"
)

// Config is the declarative late-initialization configuration, one entry per
// resource type. It is loaded once at startup and compiled into immutable
// rulesets.
type Config struct {
	ResourceTypes []ResourceTypeConfig `json:"resourceTypes"`
}

// ResourceTypeConfig declares the rules and hooks of one resource type.
type ResourceTypeConfig struct {
	// Type identifies the resource type (e.g. the CRD kind).
	Type string `json:"type"`

	// DefaultSourceMethod applies to fields that omit sourceMethod.
	// Defaults to read.
	DefaultSourceMethod SourceMethod `json:"defaultSourceMethod,omitempty"`

	// SupportedMethods lists the provider operations this resource type
	// actually supports. Defaults to all of read, create, update.
	SupportedMethods []SourceMethod `json:"supportedMethods,omitempty"`

	// Fields are the per-field rules, in application order.
	Fields []FieldConfig `json:"fields,omitempty"`

	// Hooks names the extension points bound to this resource type.
	Hooks HookConfig `json:"hooks,omitempty"`
}

// FieldConfig declares one field rule.
type FieldConfig struct {
	// Path addresses the field inside the spec, e.g. "backup.retentionDays".
	Path string `json:"path"`

	// SourceMethod is the operation whose output supplies the default.
	// Empty means the resource type's default source method.
	SourceMethod SourceMethod `json:"sourceMethod,omitempty"`

	// OverrideHook names a registered per-field hook that replaces the
	// generic copy step for this field.
	OverrideHook string `json:"overrideHook,omitempty"`
}

// HookConfig names the whole-pass hooks of a resource type. OverrideAll is
// mutually exclusive with Pre and Post.
type HookConfig struct {
	OverrideAll string `json:"overrideAll,omitempty"`
	Pre         string `json:"pre,omitempty"`
	Post        string `json:"post,omitempty"`
}

// LoadOptions configures config loading.
type LoadOptions struct {
	// Hooks resolves hook names to implementations. Required when the config
	// references any hook.
	Hooks *HookRegistry

	// Strict makes duplicate field paths a load error instead of last-wins.
	Strict bool
}

// Registry holds the compiled rulesets, keyed by resource type. It is
// immutable after Load and safe for concurrent use.
type Registry struct {
	rulesets map[string]*Ruleset
}

// ForResourceType returns the ruleset of the given resource type, or nil if
// none is configured. A nil ruleset makes a merge pass a cheap no-op.
func (r *Registry) ForResourceType(id string) *Ruleset {
	if r == nil {
		return nil
	}
	return r.rulesets[id]
}

// LoadFile reads and compiles a late-initialization config file.
func LoadFile(path string, opts LoadOptions) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read late-initialization config %q: %w", path, err)
	}
	return Load(data, opts)
}

// Load parses and validates the YAML configuration and compiles it into a
// Registry. Any invalid declaration fails with a ConfigValidationError.
func Load(data []byte, opts LoadOptions) (*Registry, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, &ConfigValidationError{Reason: "failed to parse config", Err: err}
	}
	return Compile(cfg, opts)
}

// Compile validates an already-parsed configuration and builds the Registry.
func Compile(cfg Config, opts LoadOptions) (*Registry, error) {
	reg := &Registry{rulesets: make(map[string]*Ruleset, len(cfg.ResourceTypes))}

	for _, rt := range cfg.ResourceTypes {
		if rt.Type == "" {
			return nil, &ConfigValidationError{Reason: "resource type entry with empty type"}
		}
		if _, exists := reg.rulesets[rt.Type]; exists {
			return nil, &ConfigValidationError{
				ResourceType: rt.Type,
				Reason:       "declared more than once",
			}
		}

		rs, err := compileResourceType(rt, opts)
		if err != nil {
			return nil, err
		}
		reg.rulesets[rt.Type] = rs
	}

	return reg, nil
}

func compileResourceType(rt ResourceTypeConfig, opts LoadOptions) (*Ruleset, error) {
	supported := make(map[SourceMethod]bool, len(knownSourceMethods))
	if len(rt.SupportedMethods) == 0 {
		for m := range knownSourceMethods {
			supported[m] = true
		}
	} else {
		for _, m := range rt.SupportedMethods {
			if !knownSourceMethods[m] {
				return nil, &ConfigValidationError{
					ResourceType: rt.Type,
					Reason:       fmt.Sprintf("unknown source method %q in supportedMethods", m),
				}
			}
			supported[m] = true
		}
	}

	defaultSource := rt.DefaultSourceMethod
	if defaultSource == "" {
		defaultSource = SourceRead
	}
	if !knownSourceMethods[defaultSource] {
		return nil, &ConfigValidationError{
			ResourceType: rt.Type,
			Reason:       fmt.Sprintf("unknown defaultSourceMethod %q", defaultSource),
		}
	}
	if !supported[defaultSource] {
		return nil, &ConfigValidationError{
			ResourceType: rt.Type,
			Reason:       fmt.Sprintf("defaultSourceMethod %q is not a supported operation", defaultSource),
		}
	}

	hooks, err := compileHooks(rt, opts.Hooks)
	if err != nil {
		return nil, err
	}

	if len(rt.Fields) == 0 && hooks.isEmpty() {
		return nil, &ConfigValidationError{
			ResourceType: rt.Type,
			Reason:       "declares neither field rules nor hooks",
		}
	}

	rules := make([]FieldRule, 0, len(rt.Fields))
	seen := make(map[string]int, len(rt.Fields))

	for _, fc := range rt.Fields {
		path, err := fieldpath.Parse(fc.Path)
		if err != nil {
			return nil, &ConfigValidationError{
				ResourceType: rt.Type,
				Reason:       fmt.Sprintf("malformed field path %q", fc.Path),
				Err:          err,
			}
		}

		source := fc.SourceMethod
		if source == "" {
			source = defaultSource
		}
		if !knownSourceMethods[source] {
			return nil, &ConfigValidationError{
				ResourceType: rt.Type,
				Reason:       fmt.Sprintf("field %q names unknown source method %q", fc.Path, source),
			}
		}
		if !supported[source] {
			return nil, &ConfigValidationError{
				ResourceType: rt.Type,
				Reason: fmt.Sprintf(
					"field %q names source method %q, which the resource type does not support",
					fc.Path, source,
				),
			}
		}

		if fc.OverrideHook != "" {
			if _, ok := opts.Hooks.fieldHook(fc.OverrideHook); !ok {
				return nil, &ConfigValidationError{
					ResourceType: rt.Type,
					Reason:       fmt.Sprintf("field %q names unregistered hook %q", fc.Path, fc.OverrideHook),
				}
			}
		}

		rule := FieldRule{Path: path, Source: source, HookName: fc.OverrideHook}

		if prev, dup := seen[fc.Path]; dup {
			if opts.Strict {
				return nil, &ConfigValidationError{
					ResourceType: rt.Type,
					Reason:       fmt.Sprintf("field path %q declared more than once", fc.Path),
				}
			}
			// Last-wins outside strict mode.
			rules[prev] = rule
			continue
		}
		seen[fc.Path] = len(rules)
		rules = append(rules, rule)
	}

	return &Ruleset{
		ResourceType:  rt.Type,
		DefaultSource: defaultSource,
		Rules:         rules,
		Hooks:         hooks,
	}, nil
}

func compileHooks(rt ResourceTypeConfig, reg *HookRegistry) (Hooks, error) {
	hc := rt.Hooks
	if hc.OverrideAll != "" && (hc.Pre != "" || hc.Post != "") {
		return Hooks{}, &ConfigValidationError{
			ResourceType: rt.Type,
			Reason:       "overrideAll is mutually exclusive with pre and post hooks",
		}
	}

	var hooks Hooks
	resolve := func(name string) (MergeHook, error) {
		if name == "" {
			return nil, nil
		}
		h, ok := reg.mergeHook(name)
		if !ok {
			return nil, &ConfigValidationError{
				ResourceType: rt.Type,
				Reason:       fmt.Sprintf("names unregistered hook %q", name),
			}
		}
		return h, nil
	}

	var err error
	if hooks.OverrideAll, err = resolve(hc.OverrideAll); err != nil {
		return Hooks{}, err
	}
	if hooks.Pre, err = resolve(hc.Pre); err != nil {
		return Hooks{}, err
	}
	if hooks.Post, err = resolve(hc.Post); err != nil {
		return Hooks{}, err
	}

	for _, fc := range rt.Fields {
		if fc.OverrideHook == "" {
			continue
		}
		h, ok := reg.fieldHook(fc.OverrideHook)
		if !ok {
			// Reported with field context by the rule compiler.
			continue
		}
		if hooks.Field == nil {
			hooks.Field = map[string]FieldHook{}
		}
		hooks.Field[fc.OverrideHook] = h
	}

	return hooks, nil
}
