package vstore

import (
	"math"
	"reflect"
)

// Is reports whether a and b are the same value.
//
// NaN is the same as NaN and +0 differs from -0. Pointers, maps, channels and
// funcs compare by reference; slices are the same when they share a backing
// array start and length. Structs and arrays have no identity of their own and
// compare element-wise with the same rules.
func Is(a, b any) bool {
	return isValue(reflect.ValueOf(a), reflect.ValueOf(b))
}

func isValue(a, b reflect.Value) bool {
	if !a.IsValid() || !b.IsValid() {
		return a.IsValid() == b.IsValid()
	}
	if a.Type() != b.Type() {
		return false
	}

	switch a.Kind() {
	case reflect.Float32, reflect.Float64:
		return isFloat(a.Float(), b.Float())
	case reflect.Complex64, reflect.Complex128:
		x, y := a.Complex(), b.Complex()
		return isFloat(real(x), real(y)) && isFloat(imag(x), imag(y))
	case reflect.Bool:
		return a.Bool() == b.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return a.Int() == b.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return a.Uint() == b.Uint()
	case reflect.String:
		return a.String() == b.String()
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return a.Pointer() == b.Pointer()
	case reflect.Func:
		// funcs are not comparable; only two nil funcs are the same
		return a.IsNil() && b.IsNil()
	case reflect.Slice:
		return a.Len() == b.Len() && a.Pointer() == b.Pointer()
	case reflect.Interface:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() && b.IsNil()
		}
		return isValue(a.Elem(), b.Elem())
	case reflect.Struct:
		for i := 0; i < a.NumField(); i++ {
			if !isValue(a.Field(i), b.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Array:
		for i := 0; i < a.Len(); i++ {
			if !isValue(a.Index(i), b.Index(i)) {
				return false
			}
		}
		return true
	}
	return false
}

func isFloat(x, y float64) bool {
	if math.IsNaN(x) && math.IsNaN(y) {
		return true
	}
	if x == 0 && y == 0 {
		return math.Signbit(x) == math.Signbit(y)
	}
	return x == y
}

// Shallow compares a and b one level deep. Values that are the same per Is
// are equal. Otherwise maps must hold the same keys with Is-equal values,
// slices and arrays must hold Is-equal elements in order, and pointers to
// structs are compared by their pointees' fields.
func Shallow(a, b any) bool {
	if Is(a, b) {
		return true
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() || va.Type() != vb.Type() {
		return false
	}
	return shallowValue(va, vb)
}

func shallowValue(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Map:
		if a.IsNil() != b.IsNil() || a.Len() != b.Len() {
			return false
		}
		iter := a.MapRange()
		for iter.Next() {
			other := b.MapIndex(iter.Key())
			if !other.IsValid() || !isValue(iter.Value(), other) {
				return false
			}
		}
		return true
	case reflect.Slice, reflect.Array:
		if a.Len() != b.Len() {
			return false
		}
		for i := 0; i < a.Len(); i++ {
			if !isValue(a.Index(i), b.Index(i)) {
				return false
			}
		}
		return true
	case reflect.Pointer:
		if a.IsNil() || b.IsNil() || a.Elem().Kind() != reflect.Struct {
			return false
		}
		return isValue(a.Elem(), b.Elem())
	case reflect.Interface:
		if a.IsNil() || b.IsNil() {
			return false
		}
		ea, eb := a.Elem(), b.Elem()
		if ea.Type() != eb.Type() {
			return false
		}
		return isValue(ea, eb) || shallowValue(ea, eb)
	case reflect.Struct:
		return isValue(a, b)
	}
	return false
}
