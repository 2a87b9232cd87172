package lateinit

import (
	"errors"
	"fmt"
)

// ErrNotYetAvailable signals that the provider has not finished populating
// late-initialized fields. It is the only non-fatal merge error: the tracker
// turns it into a durable pending marker and a bounded requeue instead of a
// controller-level failure.
//
// Hooks return it (or wrap it) to ask for another pass later. It is matched
// by kind via errors.Is, never by message.
var ErrNotYetAvailable = errors.New("late-initialized fields not yet available")

// ErrMergeFailed marks a fatal merge pass. The desired record must be treated
// as tentatively mutated and must not be persisted.
var ErrMergeFailed = errors.New("late-initialization merge failed")

// ConfigValidationError reports an invalid late-initialization configuration
// at load time.
type ConfigValidationError struct {
	// ResourceType is the resource type whose configuration is invalid, if
	// the problem is scoped to one.
	ResourceType string

	// Reason describes what is wrong.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *ConfigValidationError) Error() string {
	msg := "invalid late-initialization config"
	if e.ResourceType != "" {
		msg += " for resource type " + e.ResourceType
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigValidationError) Unwrap() error {
	return e.Err
}

// mergeFailure wraps a field-level failure into a fatal merge error.
func mergeFailure(path string, err error) error {
	return fmt.Errorf("%w: field %q: %w", ErrMergeFailed, path, err)
}
