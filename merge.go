package vstore

import "reflect"

// MergeFunc combines the current state with the partial state returned by a
// non-replacing transition.
type MergeFunc[T any] func(current, partial T) T

// Merge is the default MergeFunc. String-keyed maps are merged key by key into
// a fresh map. Structs and pointers to structs are copied and every exported
// non-zero field of partial overwrites the copy. Any other value (including
// nil maps and nil pointers) replaces the current state.
func Merge[T any](current, partial T) T {
	cur := reflect.ValueOf(&current).Elem()
	part := reflect.ValueOf(&partial).Elem()
	merged, ok := mergeValue(cur, part)
	if !ok {
		return partial
	}
	return merged.Interface().(T)
}

// IsObject reports whether v is merged key by key rather than replaced.
func IsObject(v any) bool {
	return isObjectValue(reflect.ValueOf(v))
}

// isKeyed reports whether v is a string-keyed map. Maps merge key by key
// even when the transition computed a whole value.
func isKeyed(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Interface && !rv.IsNil() {
		rv = rv.Elem()
	}
	return rv.IsValid() && rv.Kind() == reflect.Map && isObjectValue(rv)
}

func isObjectValue(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Map:
		return !v.IsNil() && v.Type().Key().Kind() == reflect.String
	case reflect.Struct:
		return true
	case reflect.Pointer:
		return !v.IsNil() && v.Elem().Kind() == reflect.Struct
	case reflect.Interface:
		return !v.IsNil() && isObjectValue(v.Elem())
	}
	return false
}

func mergeValue(cur, part reflect.Value) (reflect.Value, bool) {
	if !isObjectValue(part) {
		return reflect.Value{}, false
	}

	switch part.Kind() {
	case reflect.Interface:
		if cur.IsNil() || cur.Elem().Type() != part.Elem().Type() {
			return reflect.Value{}, false
		}
		inner, ok := mergeValue(cur.Elem(), part.Elem())
		if !ok {
			return reflect.Value{}, false
		}
		out := reflect.New(part.Type()).Elem()
		out.Set(inner)
		return out, true

	case reflect.Map:
		out := reflect.MakeMapWithSize(part.Type(), cur.Len()+part.Len())
		if !cur.IsNil() {
			iter := cur.MapRange()
			for iter.Next() {
				out.SetMapIndex(iter.Key(), iter.Value())
			}
		}
		iter := part.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
		return out, true

	case reflect.Struct:
		out := reflect.New(part.Type()).Elem()
		out.Set(cur)
		overlayFields(out, part)
		return out, true

	case reflect.Pointer:
		if cur.IsNil() {
			return reflect.Value{}, false
		}
		out := reflect.New(part.Type().Elem())
		out.Elem().Set(cur.Elem())
		overlayFields(out.Elem(), part.Elem())
		return out, true
	}
	return reflect.Value{}, false
}

func overlayFields(dst, src reflect.Value) {
	for i := 0; i < src.NumField(); i++ {
		field := src.Field(i)
		if field.IsZero() || !dst.Field(i).CanSet() {
			continue
		}
		dst.Field(i).Set(field)
	}
}
