package docstore

import (
	"context"
	"reflect"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is the committed state of one document. Data holds only generic
// JSON values: string, bool, float64, nil, []any and map[string]any.
type Snapshot struct {
	ID     string
	Exists bool
	Data   map[string]any
}

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value any
}

func Eq(field string, value any) Filter { return Filter{Field: field, Value: value} }

type transformOp int

const (
	opUnion transformOp = iota + 1
	opRemove
)

// Transform is a set operation on an array field, usable as a field value in
// SetMerge and Update.
type Transform struct {
	op     transformOp
	values []any
}

// ArrayUnion adds values that are not already present.
func ArrayUnion(values ...any) Transform { return Transform{op: opUnion, values: values} }

// ArrayRemove removes every occurrence of values.
func ArrayRemove(values ...any) Transform { return Transform{op: opRemove, values: values} }

// Cancel releases a subscription. It never blocks and may be called more than once.
type Cancel func()

// Store is a remote multi-writer document store.
//
// Field values in SetMerge/Update may be plain values (written as-is, nil is an
// explicit null) or a Transform. Watch callbacks for one subscription are
// delivered one at a time in commit order, starting with the current state.
type Store interface {
	Get(ctx context.Context, coll, id string) (Snapshot, error)
	// SetMerge upserts: fields not named are left untouched.
	SetMerge(ctx context.Context, coll, id string, fields map[string]any) error
	// Update fails with errs.ErrNotFound when the document does not exist.
	Update(ctx context.Context, coll, id string, fields map[string]any) error
	Query(ctx context.Context, coll string, filters ...Filter) ([]Snapshot, error)
	WatchDoc(ctx context.Context, coll, id string, fn func(Snapshot)) (Cancel, error)
	WatchQuery(ctx context.Context, coll string, filters []Filter, fn func([]Snapshot)) (Cancel, error)
}

// normalize turns a Go value into its generic JSON form.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t, nil
	case Transform:
		vals := make([]any, 0, len(t.values))
		for _, x := range t.values {
			nx, err := normalize(x)
			if err != nil {
				return nil, err
			}
			vals = append(vals, nx)
		}
		return Transform{op: t.op, values: vals}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		nv, err := normalize(v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = deepCopy(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = deepCopy(x)
		}
		return out
	default:
		return v
	}
}

func copyDoc(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return deepCopy(m).(map[string]any)
}

// applyFields merges normalized fields into doc in place.
func applyFields(doc map[string]any, fields map[string]any) {
	for k, v := range fields {
		tr, ok := v.(Transform)
		if !ok {
			doc[k] = deepCopy(v)
			continue
		}
		cur, _ := doc[k].([]any)
		switch tr.op {
		case opUnion:
			for _, x := range tr.values {
				if indexOf(cur, x) < 0 {
					cur = append(cur, deepCopy(x))
				}
			}
			if cur == nil {
				cur = []any{}
			}
		case opRemove:
			kept := make([]any, 0, len(cur))
			for _, x := range cur {
				if indexOf(tr.values, x) < 0 {
					kept = append(kept, x)
				}
			}
			cur = kept
		}
		doc[k] = cur
	}
}

func indexOf(list []any, v any) int {
	for i, x := range list {
		if valuesEqual(x, v) {
			return i
		}
	}
	return -1
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Matches reports whether data satisfies every filter. A missing field equals nil.
func Matches(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !valuesEqual(data[f.Field], f.Value) {
			return false
		}
	}
	return true
}
