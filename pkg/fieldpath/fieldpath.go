// Package fieldpath addresses individual fields inside a spec-shaped,
// unstructured object by a dotted path.
//
// Paths name nested struct members and single-key map entries, e.g. "a.b" or
// "a.b[c]". List indexing is not supported. Get and Set tolerate missing and
// nil intermediates: Get reports the field as absent, Set allocates the
// intermediate objects on demand.
package fieldpath

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedPathKind is returned for path constructs the resolver does
	// not address, such as list indexing.
	ErrUnsupportedPathKind = errors.New("unsupported path kind")

	// ErrTypeMismatch is returned when a value or an intermediate along the
	// path does not have the shape the path requires.
	ErrTypeMismatch = errors.New("type mismatch")
)

// segment is one step of a parsed path: a field name, optionally followed by
// a single map-key access.
type segment struct {
	field  string
	key    string
	hasKey bool
}

// Path is a parsed field path. The zero value is not usable; construct one
// with Parse.
type Path struct {
	raw      string
	segments []segment
}

// Parse parses a dotted field path such as "backup.retentionDays" or
// "parameters[maxmemory-policy]".
//
// A bracketed key must terminate its segment and is treated as a map key.
// Numeric keys are rejected with ErrUnsupportedPathKind since they indicate
// an attempt at list indexing.
func Parse(s string) (Path, error) {
	if s == "" {
		return Path{}, fmt.Errorf("empty field path")
	}

	var segments []segment
	for _, part := range strings.Split(s, ".") {
		seg, err := parseSegment(s, part)
		if err != nil {
			return Path{}, err
		}
		segments = append(segments, seg)
	}
	return Path{raw: s, segments: segments}, nil
}

func parseSegment(full, part string) (segment, error) {
	if part == "" {
		return segment{}, fmt.Errorf("field path %q has an empty segment", full)
	}

	open := strings.IndexByte(part, '[')
	if open < 0 {
		if strings.ContainsAny(part, "]") {
			return segment{}, fmt.Errorf("field path %q has an unmatched ']'", full)
		}
		return segment{field: part}, nil
	}

	if open == 0 || !strings.HasSuffix(part, "]") {
		return segment{}, fmt.Errorf("field path %q has a malformed key access in %q", full, part)
	}

	field := part[:open]
	key := part[open+1 : len(part)-1]
	if strings.ContainsAny(field, "]") || strings.ContainsAny(key, "[]") {
		return segment{}, fmt.Errorf("field path %q has a malformed key access in %q", full, part)
	}
	if key == "" {
		return segment{}, fmt.Errorf("field path %q has an empty key in %q", full, part)
	}
	if isDecimal(key) {
		return segment{}, fmt.Errorf("field path %q indexes a list in %q: %w", full, part, ErrUnsupportedPathKind)
	}
	return segment{field: field, key: key, hasKey: true}, nil
}

func isDecimal(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// String returns the path in its original textual form.
func (p Path) String() string {
	return p.raw
}

// MustParse is Parse for statically known paths; it panics on error.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Get resolves p inside obj and reports the value and whether it is present.
//
// Missing or nil intermediates make the field absent, not an error. An
// intermediate that exists with a non-object shape is reported as
// ErrTypeMismatch, and traversal into a list as ErrUnsupportedPathKind.
func Get(obj map[string]any, p Path) (any, bool, error) {
	cur := obj
	for i, seg := range p.segments {
		val, ok := cur[seg.field]
		if !ok || val == nil {
			return nil, false, nil
		}

		if seg.hasKey {
			m, err := asObject(p, seg.field, val)
			if err != nil {
				return nil, false, err
			}
			val, ok = m[seg.key]
			if !ok || val == nil {
				return nil, false, nil
			}
		}

		if i == len(p.segments)-1 {
			return val, true, nil
		}

		next, err := asObject(p, seg.field, val)
		if err != nil {
			return nil, false, err
		}
		cur = next
	}
	return nil, false, nil
}

// Set writes value at p inside obj, allocating intermediate objects as
// needed. An existing intermediate with a non-object shape fails with
// ErrTypeMismatch.
func Set(obj map[string]any, p Path, value any) error {
	cur := obj
	for i, seg := range p.segments {
		last := i == len(p.segments)-1

		if last && !seg.hasKey {
			cur[seg.field] = value
			return nil
		}

		next, err := descend(p, cur, seg.field)
		if err != nil {
			return err
		}

		if seg.hasKey {
			if last {
				next[seg.key] = value
				return nil
			}
			next, err = descendKey(p, next, seg.key)
			if err != nil {
				return err
			}
		}
		cur = next
	}
	return nil
}

// descend returns obj[field] as an object, allocating it when missing or nil.
func descend(p Path, obj map[string]any, field string) (map[string]any, error) {
	val, ok := obj[field]
	if !ok || val == nil {
		m := map[string]any{}
		obj[field] = m
		return m, nil
	}
	return asObject(p, field, val)
}

// descendKey returns obj[key] as an object, allocating it when missing or nil.
func descendKey(p Path, obj map[string]any, key string) (map[string]any, error) {
	val, ok := obj[key]
	if !ok || val == nil {
		m := map[string]any{}
		obj[key] = m
		return m, nil
	}
	return asObject(p, key, val)
}

func asObject(p Path, field string, val any) (map[string]any, error) {
	switch v := val.(type) {
	case map[string]any:
		return v, nil
	case []any:
		return nil, fmt.Errorf("field %q in path %q is a list: %w", field, p.raw, ErrUnsupportedPathKind)
	default:
		return nil, fmt.Errorf("field %q in path %q is a %T, expected an object: %w", field, p.raw, val, ErrTypeMismatch)
	}
}
