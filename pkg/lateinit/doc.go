// Package lateinit implements the late-initialization merge engine for
// externally owned resources.
//
// External providers fill in optional spec fields with server-assigned
// defaults only after creation, and some of those defaults surface only in
// particular API responses (read, create, or update output). Diffing desired
// against actual state naively then reports drift on fields the user never
// set. This package decides which observed fields may flow backward into the
// desired record, exactly once, from which observation point, and how the
// control loop tolerates defaults that are not yet visible.
//
// The engine never performs I/O. It operates on observations the
// reconciliation loop already fetched, which keeps a merge pass synchronous
// and testable without any network mocking. Rule tables are immutable after
// load and safe to share across concurrent reconciliations; the desired
// record itself is only ever mutated by the single in-flight reconciliation
// for its resource identity.
package lateinit
