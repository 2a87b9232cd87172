// Package annotations defines the well-known metadata keys the operator
// persists on managed resources, and typed accessors for them.
package annotations

import (
	"strconv"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// LateInitPending marks a resource whose late-initialized defaults are
	// not yet fully observable from the provider. Its lifecycle is owned by
	// the completion tracker: set while pending, cleared once a merge pass
	// succeeds. It is never user-writable.
	LateInitPending = "cloud.numtide.com/late-init-pending"

	// LateInitAttempts counts the consecutive pending passes, driving the
	// bounded requeue backoff. Stored on the resource so the count survives
	// worker restarts between requeues.
	LateInitAttempts = "cloud.numtide.com/late-init-attempts"

	// ManagedBy identifies the operator managing the external resource.
	ManagedBy = "external-resource-operator"
)

// IsLateInitPending reports whether the pending marker is set.
func IsLateInitPending(obj metav1.Object) bool {
	_, ok := obj.GetAnnotations()[LateInitPending]
	return ok
}

// SetLateInitPending sets the pending marker.
func SetLateInitPending(obj metav1.Object) {
	setAnnotation(obj, LateInitPending, "true")
}

// ClearLateInitPending removes the pending marker and the attempt counter.
func ClearLateInitPending(obj metav1.Object) {
	ann := obj.GetAnnotations()
	if ann == nil {
		return
	}
	delete(ann, LateInitPending)
	delete(ann, LateInitAttempts)
	obj.SetAnnotations(ann)
}

// GetLateInitAttempts returns the persisted attempt count. Absent or
// unparseable values count as zero.
func GetLateInitAttempts(obj metav1.Object) int {
	raw, ok := obj.GetAnnotations()[LateInitAttempts]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// SetLateInitAttempts persists the attempt count.
func SetLateInitAttempts(obj metav1.Object, attempts int) {
	setAnnotation(obj, LateInitAttempts, strconv.Itoa(attempts))
}

func setAnnotation(obj metav1.Object, key, value string) {
	ann := obj.GetAnnotations()
	if ann == nil {
		ann = map[string]string{}
	}
	ann[key] = value
	obj.SetAnnotations(ann)
}
