package fieldpath

import (
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
)

// ToUnstructured converts a typed spec struct into the map form Get and Set
// operate on, using the same converter the apiserver machinery uses.
func ToUnstructured(obj any) (map[string]any, error) {
	m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %T to unstructured form: %w", obj, err)
	}
	return m, nil
}

// FromUnstructured converts the map form back into a typed spec struct.
//
// A value whose shape does not fit the declared field type fails here; the
// error carries ErrTypeMismatch so callers can classify it by kind.
func FromUnstructured(m map[string]any, obj any) error {
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(m, obj); err != nil {
		return fmt.Errorf("failed to convert unstructured form to %T: %w: %w", obj, ErrTypeMismatch, err)
	}
	return nil
}
