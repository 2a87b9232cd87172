package lateinit

// MergeHook is a whole-pass extension point. It receives the desired spec in
// map form, all observations of the pass, and the running (changed, err)
// state, and returns its replacement for that state.
//
// A pre hook runs before any field copying with the seed values
// (false, nil). A post hook runs after field copying with the values computed
// so far and may override either. An override-all hook replaces the generic
// field copying entirely.
type MergeHook func(desired map[string]any, obs Observations, changed bool, err error) (bool, error)

// FieldHook replaces the generic copy step for a single rule. Its
// contribution is OR-combined with the rest of the pass.
type FieldHook func(desired map[string]any, obs Observations, rule FieldRule) (bool, error)

// Hooks are the optional extension points of one resource type. OverrideAll
// is mutually exclusive with Pre and Post; the config loader enforces this.
type Hooks struct {
	// OverrideAll fully replaces the rule-driven merge.
	OverrideAll MergeHook

	// Pre runs before field copying.
	Pre MergeHook

	// Post runs after field copying, before the result is returned.
	Post MergeHook

	// Field maps a rule's hook name to its implementation.
	Field map[string]FieldHook
}

func (h Hooks) isEmpty() bool {
	return h.OverrideAll == nil && h.Pre == nil && h.Post == nil && len(h.Field) == 0
}

// HookRegistry resolves hook names from the declarative configuration to
// implementations registered in code.
type HookRegistry struct {
	merge map[string]MergeHook
	field map[string]FieldHook
}

// NewHookRegistry returns an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		merge: map[string]MergeHook{},
		field: map[string]FieldHook{},
	}
}

// RegisterMergeHook registers a whole-pass hook under name. Later
// registrations replace earlier ones.
func (r *HookRegistry) RegisterMergeHook(name string, h MergeHook) {
	r.merge[name] = h
}

// RegisterFieldHook registers a per-field hook under name.
func (r *HookRegistry) RegisterFieldHook(name string, h FieldHook) {
	r.field[name] = h
}

func (r *HookRegistry) mergeHook(name string) (MergeHook, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.merge[name]
	return h, ok
}

func (r *HookRegistry) fieldHook(name string) (FieldHook, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.field[name]
	return h, ok
}
