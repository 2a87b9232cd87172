package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/numtide/external-resource-operator/pkg/fieldpath"
)

// Fake is an in-memory Provider.
//
// It models the late-initialization behavior of real provisioning systems:
// some server-assigned defaults appear synchronously in the create output,
// others only become visible in read output after provisioning finishes. The
// AsyncDelayReads knob controls how many reads it takes before the async
// defaults surface, which lets tests exercise the pending/requeue path
// deterministically.
type Fake struct {
	mu        sync.Mutex
	instances map[string]*fakeInstance
	nextID    int

	// CreateDefaults are filled into unset spec fields at create time and are
	// visible in the create output immediately. Keyed by field path.
	CreateDefaults map[string]any

	// AsyncDefaults are filled in asynchronously; they appear in read output
	// only after AsyncDelayReads reads of the instance. Keyed by field path.
	AsyncDefaults map[string]any

	// AsyncDelayReads is the number of reads before AsyncDefaults surface.
	// Zero means they are visible from the first read on.
	AsyncDelayReads int
}

type fakeInstance struct {
	name     string
	endpoint string
	spec     map[string]any
	async    map[string]any
	reads    int
}

// NewFake returns a Fake with a realistic set of cache-service defaults.
func NewFake() *Fake {
	return &Fake{
		instances: map[string]*fakeInstance{},
		CreateDefaults: map[string]any{
			"engineVersion":  "7.2",
			"timeoutSeconds": int64(300),
			"nodeCount":      int64(1),
		},
		AsyncDefaults: map[string]any{
			"maintenanceWindow":    "sun:05:00-sun:06:00",
			"backup.retentionDays": int64(7),
			"backup.window":        "03:00-04:00",
		},
	}
}

// Create provisions an in-memory instance, applying CreateDefaults to fields
// the request left unset.
func (f *Fake) Create(ctx context.Context, req CreateRequest) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("ci-%06d", f.nextID)

	spec := deepCopyObject(req.Spec)
	if spec == nil {
		spec = map[string]any{}
	}
	if err := fillDefaults(spec, f.CreateDefaults); err != nil {
		return nil, err
	}

	inst := &fakeInstance{
		name:     req.Name,
		endpoint: fmt.Sprintf("%s.cache.internal:6379", id),
		spec:     spec,
		async:    f.AsyncDefaults,
	}
	f.instances[id] = inst

	return &Instance{ID: id, Endpoint: inst.endpoint, Spec: deepCopyObject(spec)}, nil
}

// Read returns the provider view. Async defaults join the view once the
// configured number of reads has happened.
func (f *Fake) Read(ctx context.Context, id string) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	inst, ok := f.instances[id]
	if !ok {
		return nil, fmt.Errorf("read %q: %w", id, ErrNotFound)
	}

	inst.reads++
	spec := deepCopyObject(inst.spec)
	if inst.reads > f.AsyncDelayReads {
		if err := fillDefaults(spec, inst.async); err != nil {
			return nil, err
		}
	}

	return &Instance{ID: id, Endpoint: inst.endpoint, Spec: spec}, nil
}

// Update overwrites the stored spec fields with the pushed ones and returns
// the resulting view.
func (f *Fake) Update(ctx context.Context, id string, spec map[string]any) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	inst, ok := f.instances[id]
	if !ok {
		return nil, fmt.Errorf("update %q: %w", id, ErrNotFound)
	}

	for k, v := range deepCopyObject(spec) {
		inst.spec[k] = v
	}

	return &Instance{ID: id, Endpoint: inst.endpoint, Spec: deepCopyObject(inst.spec)}, nil
}

// Delete removes the instance.
func (f *Fake) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.instances[id]; !ok {
		return fmt.Errorf("delete %q: %w", id, ErrNotFound)
	}
	delete(f.instances, id)
	return nil
}

// fillDefaults sets each pathed default into spec unless the field is
// already present.
func fillDefaults(spec map[string]any, defaults map[string]any) error {
	for raw, value := range defaults {
		path, err := fieldpath.Parse(raw)
		if err != nil {
			return fmt.Errorf("bad default path %q: %w", raw, err)
		}
		_, present, err := fieldpath.Get(spec, path)
		if err != nil {
			return err
		}
		if present {
			continue
		}
		if err := fieldpath.Set(spec, path, value); err != nil {
			return err
		}
	}
	return nil
}

func deepCopyObject(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyObject(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = deepCopyValue(t[i])
		}
		return out
	default:
		return v
	}
}
