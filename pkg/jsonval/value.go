// Package jsonval implements the tagged JSON value tree spec.md §9 calls
// for: "JSON-backed dynamic dictionaries (DictionaryValue) map to a
// tagged value tree with null|bool|i64|f64|string|array|object; the
// schema validator is a pure function from (value, schema) to result."
//
// No JSON-schema or dynamic-value library appears anywhere in the
// example corpus (checked other_examples/ too), so this is built
// directly on encoding/json, the way the teacher itself passes
// map[string]any around for loosely-typed payloads
// (pkg/contracts.ToolContract.Parameters, pkg/fleet.Node.Labels). The
// one thing plain map[string]any can't do is distinguish a JSON integer
// from a JSON float — both decode to float64 — which the schema's
// integer/number distinction needs, so Value decodes through
// json.Number instead.
package jsonval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags the dynamic type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindInt:
		return "integer"
	case KindFloat:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is an immutable tagged JSON value.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	// obj and keys are kept in lockstep: keys preserves insertion order
	// so object iteration (e.g. CBOR-ish wire encoding or diffing) is
	// deterministic rather than following Go's randomized map order.
	obj  map[string]Value
	keys []string
}

func Null() Value             { return Value{kind: KindNull} }
func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }
func Int(i int64) Value       { return Value{kind: KindInt, i: i} }
func Float(f float64) Value   { return Value{kind: KindFloat, f: f} }
func String(s string) Value   { return Value{kind: KindString, s: s} }
func Array(vs []Value) Value  { return Value{kind: KindArray, arr: vs} }

// Object builds an object value from an ordered key list. Callers that
// don't care about order can use NewObject and Set.
func Object() Value {
	return Value{kind: KindObject, obj: map[string]Value{}}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)       { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool) {
	if v.kind == KindFloat {
		return v.f, true
	}
	if v.kind == KindInt {
		return float64(v.i), true
	}
	return 0, false
}
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// Get looks up a key in an object value. ok is false if v isn't an
// object or the key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	val, ok := v.obj[key]
	return val, ok
}

// Keys returns an object's keys in insertion order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Set returns a copy of the object with key set to val (objects are
// treated as immutable; mutation always produces a new Value, matching
// the deep-merge semantics state patching needs).
func (v Value) Set(key string, val Value) Value {
	if v.kind != KindObject {
		v = Object()
	}
	obj := make(map[string]Value, len(v.obj)+1)
	keys := make([]string, 0, len(v.keys)+1)
	for _, k := range v.keys {
		obj[k] = v.obj[k]
		keys = append(keys, k)
	}
	if _, existed := obj[key]; !existed {
		keys = append(keys, key)
	}
	obj[key] = val
	return Value{kind: KindObject, obj: obj, keys: keys}
}

// Merge deep-merges patch into v: object values merge key-wise
// recursively, any other kind in patch replaces the corresponding value
// in v outright. This implements the "deep merge" spec.md §4.3 requires
// for notify_properties_updated.
func Merge(base, patch Value) Value {
	if patch.kind != KindObject || base.kind != KindObject {
		return patch
	}
	out := base
	for _, k := range patch.keys {
		pv := patch.obj[k]
		if bv, ok := out.Get(k); ok && bv.kind == KindObject && pv.kind == KindObject {
			out = out.Set(k, Merge(bv, pv))
		} else {
			out = out.Set(k, pv)
		}
	}
	return out
}

// Equal reports deep structural equality. Object key order doesn't
// matter, only content — this is what pkg/schema uses to decide whether
// a trait redefinition is "byte-identical" in spirit (spec.md §3): two
// dictionaries with the same keys and values in different serialized
// order describe the same trait.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Parse decodes JSON bytes into a Value, preserving the integer/float
// distinction via json.Number.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("jsonval: parse: %w", err)
	}
	return FromAny(raw)
}

// FromAny converts a generic decoded value (map[string]any,
// []any, json.Number, string, bool, nil) into a tagged Value. Plain
// float64 is treated as KindFloat (integral float64 values produced by
// encoding/json's default decoding can't be told apart from 1.0 vs 1,
// so callers that need the integer/float split should decode via
// Parse, which uses json.Number).
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case float64:
		return Float(t), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("jsonval: number %q: %w", t.String(), err)
		}
		return Float(f), nil
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, err
			}
			vs[i] = v
		}
		return Array(vs), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := Object()
		for _, k := range keys {
			v, err := FromAny(t[k])
			if err != nil {
				return Value{}, err
			}
			obj = obj.Set(k, v)
		}
		return obj, nil
	default:
		return Value{}, fmt.Errorf("jsonval: unsupported type %T", raw)
	}
}

// ToAny converts a Value back to a plain interface{} tree suitable for
// json.Marshal (wire responses).
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for _, k := range v.keys {
			out[k] = v.obj[k].ToAny()
		}
		return out
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON implements json.Unmarshaler via Parse's integer-preserving path.
func (v *Value) UnmarshalJSON(data []byte) error {
	val, err := Parse(data)
	if err != nil {
		return err
	}
	*v = val
	return nil
}
