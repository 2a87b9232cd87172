// Package provider defines the client interface to the external system that
// owns the managed resources, and an in-memory implementation for tests and
// local development.
package provider

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the external system has no resource with the
// given identifier.
var ErrNotFound = errors.New("external resource not found")

// Instance is the provider's view of one cache instance. Spec holds the
// spec-shaped fields as the provider reports them, including any
// server-assigned defaults it has populated so far.
type Instance struct {
	// ID is the provider-assigned identifier.
	ID string

	// Endpoint is the connection endpoint, empty until provisioned.
	Endpoint string

	// Spec is the spec-shaped observation returned by this operation.
	Spec map[string]any
}

// CreateRequest asks the provider to provision a new instance.
type CreateRequest struct {
	// Name is the caller-chosen display name.
	Name string

	// Spec carries the user-declared spec fields.
	Spec map[string]any
}

// Provider is the client to the owning system. All calls are blocking and
// remote; they may fail or time out, and callers pass a context for
// cancellation.
type Provider interface {
	// Create provisions a new instance and returns the provider's view of it,
	// including whatever defaults the provider assigned synchronously.
	Create(ctx context.Context, req CreateRequest) (*Instance, error)

	// Read returns the current provider view, or ErrNotFound.
	Read(ctx context.Context, id string) (*Instance, error)

	// Update pushes changed spec fields and returns the resulting view.
	Update(ctx context.Context, id string, spec map[string]any) (*Instance, error)

	// Delete removes the instance. Deleting an unknown id returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}
