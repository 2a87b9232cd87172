package fieldpath

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		input   string
		wantErr bool
		// errIs, when set, additionally checks the error chain.
		errIs error
	}{
		"simple field": {
			input: "engineVersion",
		},
		"nested field": {
			input: "backup.retentionDays",
		},
		"map key access": {
			input: "parameters[maxmemory-policy]",
		},
		"nested map key access": {
			input: "engine.parameters[appendonly].extra",
		},
		"empty path": {
			input:   "",
			wantErr: true,
		},
		"empty segment": {
			input:   "backup..window",
			wantErr: true,
		},
		"trailing dot": {
			input:   "backup.",
			wantErr: true,
		},
		"unmatched close bracket": {
			input:   "parameters]key",
			wantErr: true,
		},
		"missing close bracket": {
			input:   "parameters[key",
			wantErr: true,
		},
		"bare bracket segment": {
			input:   "[key]",
			wantErr: true,
		},
		"empty key": {
			input:   "parameters[]",
			wantErr: true,
		},
		"double key access": {
			input:   "parameters[a][b]",
			wantErr: true,
		},
		"close bracket before key access": {
			input:   "par]ameters[a]",
			wantErr: true,
		},
		"nested open bracket in key": {
			input:   "parameters[a[b]",
			wantErr: true,
		},
		"numeric key is list indexing": {
			input:   "nodes[0]",
			wantErr: true,
			errIs:   ErrUnsupportedPathKind,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p, err := Parse(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) succeeded, want error", tc.input)
				}
				if tc.errIs != nil && !errors.Is(err, tc.errIs) {
					t.Errorf("Parse(%q) error = %v, want %v in chain", tc.input, err, tc.errIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tc.input, err)
			}
			if got := p.String(); got != tc.input {
				t.Errorf("String() = %q, want %q", got, tc.input)
			}
		})
	}
}

func TestGet(t *testing.T) {
	t.Parallel()

	obj := map[string]any{
		"engine":        "redis",
		"engineVersion": "7.2",
		"backup": map[string]any{
			"retentionDays": int64(7),
			"window":        nil,
		},
		"parameters": map[string]any{
			"maxmemory-policy": "allkeys-lru",
		},
		"maintenanceWindow": nil,
		"nodes":             []any{"a", "b"},
	}

	tests := map[string]struct {
		path        string
		want        any
		wantPresent bool
		errIs       error
	}{
		"top-level present": {
			path:        "engineVersion",
			want:        "7.2",
			wantPresent: true,
		},
		"nested present": {
			path:        "backup.retentionDays",
			want:        int64(7),
			wantPresent: true,
		},
		"map key present": {
			path:        "parameters[maxmemory-policy]",
			want:        "allkeys-lru",
			wantPresent: true,
		},
		"top-level absent": {
			path: "instanceClass",
		},
		"nested absent": {
			path: "backup.kmsKey",
		},
		"missing intermediate is absent": {
			path: "replication.mode",
		},
		"explicit null is absent": {
			path: "maintenanceWindow",
		},
		"nested explicit null is absent": {
			path: "backup.window",
		},
		"map key absent": {
			path: "parameters[appendonly]",
		},
		"scalar intermediate": {
			path:  "engine.version",
			errIs: ErrTypeMismatch,
		},
		"list intermediate": {
			path:  "nodes.name",
			errIs: ErrUnsupportedPathKind,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, present, err := Get(obj, MustParse(tc.path))
			if tc.errIs != nil {
				if !errors.Is(err, tc.errIs) {
					t.Fatalf("Get(%q) error = %v, want %v in chain", tc.path, err, tc.errIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get(%q) failed: %v", tc.path, err)
			}
			if present != tc.wantPresent {
				t.Fatalf("Get(%q) present = %v, want %v", tc.path, present, tc.wantPresent)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Get(%q) value mismatch (-want +got):\n%s", tc.path, diff)
			}
		})
	}
}

func TestSet(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		initial map[string]any
		path    string
		value   any
		want    map[string]any
		errIs   error
	}{
		"top-level": {
			initial: map[string]any{},
			path:    "engineVersion",
			value:   "7.2",
			want:    map[string]any{"engineVersion": "7.2"},
		},
		"allocates intermediates": {
			initial: map[string]any{},
			path:    "backup.retentionDays",
			value:   int64(7),
			want: map[string]any{
				"backup": map[string]any{"retentionDays": int64(7)},
			},
		},
		"reuses existing intermediate": {
			initial: map[string]any{
				"backup": map[string]any{"window": "03:00-04:00"},
			},
			path:  "backup.retentionDays",
			value: int64(7),
			want: map[string]any{
				"backup": map[string]any{
					"window":        "03:00-04:00",
					"retentionDays": int64(7),
				},
			},
		},
		"replaces nil intermediate": {
			initial: map[string]any{"backup": nil},
			path:    "backup.window",
			value:   "03:00-04:00",
			want: map[string]any{
				"backup": map[string]any{"window": "03:00-04:00"},
			},
		},
		"map key": {
			initial: map[string]any{},
			path:    "parameters[appendonly]",
			value:   "yes",
			want: map[string]any{
				"parameters": map[string]any{"appendonly": "yes"},
			},
		},
		"overwrites existing value": {
			initial: map[string]any{"engineVersion": "6.0"},
			path:    "engineVersion",
			value:   "7.2",
			want:    map[string]any{"engineVersion": "7.2"},
		},
		"scalar intermediate": {
			initial: map[string]any{"backup": "daily"},
			path:    "backup.window",
			value:   "03:00-04:00",
			errIs:   ErrTypeMismatch,
		},
		"list intermediate": {
			initial: map[string]any{"nodes": []any{}},
			path:    "nodes.name",
			value:   "a",
			errIs:   ErrUnsupportedPathKind,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := Set(tc.initial, MustParse(tc.path), tc.value)
			if tc.errIs != nil {
				if !errors.Is(err, tc.errIs) {
					t.Fatalf("Set(%q) error = %v, want %v in chain", tc.path, err, tc.errIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("Set(%q) failed: %v", tc.path, err)
			}
			if diff := cmp.Diff(tc.want, tc.initial); diff != "" {
				t.Errorf("object after Set(%q) mismatch (-want +got):\n%s", tc.path, diff)
			}
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("MustParse on a malformed path did not panic")
		}
	}()
	MustParse("nodes[0]")
}
