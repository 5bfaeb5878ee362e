// Package fields converts state values to and from their JSON object form so
// that middleware can filter, diff and overlay individual top-level fields
// without knowing the concrete state type.
package fields

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Decode converts v to its generic JSON shape (map[string]any, []any,
// float64, string, bool or nil).
func Decode(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("fields: marshal: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("fields: unmarshal: %w", err)
	}
	return out, nil
}

// Object returns the JSON object form of v, or ok=false when v does not
// encode to an object.
func Object(v any) (m map[string]any, ok bool, err error) {
	decoded, err := Decode(v)
	if err != nil {
		return nil, false, err
	}
	m, ok = decoded.(map[string]any)
	return m, ok, nil
}

// Pick returns a copy of m holding only keys.
func Pick(m map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Omit returns a copy of m without keys.
func Omit(m map[string]any, keys ...string) map[string]any {
	skip := make(map[string]bool, len(keys))
	for _, k := range keys {
		skip[k] = true
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if !skip[k] {
			out[k] = v
		}
	}
	return out
}

// Changed returns the entries of next whose value differs from prev,
// restricted to keys when keys is not empty.
func Changed(prev, next map[string]any, keys ...string) map[string]any {
	if len(keys) == 0 {
		keys = make([]string, 0, len(next))
		for k := range next {
			keys = append(keys, k)
		}
	}
	out := make(map[string]any)
	for _, k := range keys {
		nv, ok := next[k]
		if !ok {
			continue
		}
		if pv, had := prev[k]; had && reflect.DeepEqual(pv, nv) {
			continue
		}
		out[k] = nv
	}
	return out
}

// Removed returns the keys of prev that next no longer holds, restricted to
// keys when keys is not empty. The result is sorted.
func Removed(prev, next map[string]any, keys ...string) []string {
	var out []string
	for k := range prev {
		if _, ok := next[k]; ok {
			continue
		}
		if len(keys) > 0 && !slices.Contains(keys, k) {
			continue
		}
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Into decodes the generic value v into a fresh T.
func Into[T any](v any) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("fields: marshal: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("fields: unmarshal into %T: %w", out, err)
	}
	return out, nil
}

// Overlay returns a copy of base with the top-level keys of patch decoded
// over it. Fields the patch does not name keep their value, including
// unexported and `json:"-"` fields. Keys in removed are deleted from map
// states and reset to the zero value in struct states. When either side is
// not a JSON object, patch replaces base. base is never modified.
func Overlay[T any](base T, patch any, removed ...string) (T, error) {
	patchObj, ok := patch.(map[string]any)
	if !ok {
		if decoded, err := Decode(patch); err == nil {
			patchObj, ok = decoded.(map[string]any)
		}
	}
	if !ok {
		return Into[T](patch)
	}
	if patchObj == nil {
		patchObj = map[string]any{}
	}

	data, err := json.Marshal(patchObj)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("fields: marshal: %w", err)
	}

	out, ok, err := overlay(reflect.ValueOf(&base).Elem(), patchObj, removed, data)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("fields: unmarshal into %T: %w", base, err)
	}
	if !ok {
		return Into[T](patchObj)
	}
	return *out.Addr().Interface().(*T), nil
}

// overlay decodes data over a copy of base. Values reachable from base that
// the decoder would write into are copied first. ok is false when base does
// not hold an object.
func overlay(base reflect.Value, patch map[string]any, removed []string, data []byte) (out reflect.Value, ok bool, err error) {
	out = reflect.New(base.Type()).Elem()

	switch base.Kind() {
	case reflect.Interface:
		if base.IsNil() {
			return out, false, nil
		}
		inner, ok, err := overlay(base.Elem(), patch, removed, data)
		if !ok || err != nil {
			return out, ok, err
		}
		out.Set(inner)
		return out, true, nil

	case reflect.Pointer:
		elem := reflect.Zero(base.Type().Elem())
		if !base.IsNil() {
			elem = base.Elem()
		}
		inner, ok, err := overlay(elem, patch, removed, data)
		if !ok || err != nil {
			return out, ok, err
		}
		p := reflect.New(base.Type().Elem())
		p.Elem().Set(inner)
		out.Set(p)
		return out, true, nil

	case reflect.Map:
		clone := reflect.MakeMapWithSize(base.Type(), base.Len())
		for iter := base.MapRange(); iter.Next(); {
			clone.SetMapIndex(iter.Key(), iter.Value())
		}
		if keyType := base.Type().Key(); keyType.Kind() == reflect.String {
			for _, k := range removed {
				clone.SetMapIndex(reflect.ValueOf(k).Convert(keyType), reflect.Value{})
			}
		}
		out.Set(clone)

	case reflect.Struct:
		out.Set(base)
		for key := range patch {
			clearField(out, key)
		}
		for _, key := range removed {
			clearField(out, key)
		}

	default:
		return out, false, nil
	}

	if err := json.Unmarshal(data, out.Addr().Interface()); err != nil {
		return out, true, err
	}
	return out, true, nil
}

// clearField zeroes the struct field decoded from key so that the decoder
// allocates its maps, slices and pointers afresh. Embedded pointers on the
// way are copied.
func clearField(v reflect.Value, key string) {
	index, ok := fieldIndex(v.Type(), key)
	if !ok {
		return
	}
	for i, x := range index {
		v = v.Field(x)
		if i == len(index)-1 {
			break
		}
		if v.Kind() == reflect.Pointer {
			if v.IsNil() || !v.CanSet() {
				return
			}
			p := reflect.New(v.Type().Elem())
			p.Elem().Set(v.Elem())
			v.Set(p)
			v = p.Elem()
		}
	}
	if v.CanSet() {
		v.SetZero()
	}
}

// fieldIndex finds the field encoding/json decodes key into, preferring an
// exact name match over a case-insensitive one.
func fieldIndex(t reflect.Type, key string) ([]int, bool) {
	var folded []int
	for _, f := range reflect.VisibleFields(t) {
		tag := f.Tag.Get("json")
		if tag == "-" || !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" && indirect(f.Type).Kind() == reflect.Struct {
			continue
		}
		if name == "" {
			name = f.Name
		}
		switch {
		case name == key:
			return f.Index, true
		case folded == nil && strings.EqualFold(name, key):
			folded = f.Index
		}
	}
	return folded, folded != nil
}

func indirect(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}
