package checkpoint

import "reflect"

// CopyValue returns a deep copy of v. Maps, slices, arrays, pointers,
// interfaces and exported struct fields are copied recursively; anything
// else, functions and channels included, is shared. Shared pointers stay
// shared in the copy, so cyclic values are safe.
func CopyValue(v any) any {
	if v == nil {
		return nil
	}
	c := copier{ptrs: map[ptrKey]reflect.Value{}}
	return c.copy(reflect.ValueOf(v)).Interface()
}

// CopyOf is the typed form of CopyValue.
func CopyOf[T any](v T) T {
	var out T
	c := copier{ptrs: map[ptrKey]reflect.Value{}}
	reflect.ValueOf(&out).Elem().Set(c.copy(reflect.ValueOf(&v).Elem()))
	return out
}

type ptrKey struct {
	addr uintptr
	typ  reflect.Type
}

type copier struct {
	ptrs map[ptrKey]reflect.Value
}

func (c copier) copy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), c.copy(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := range v.Len() {
			out.Index(i).Set(c.copy(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := range v.Len() {
			out.Index(i).Set(c.copy(v.Index(i)))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		key := ptrKey{addr: v.Pointer(), typ: v.Type()}
		if out, ok := c.ptrs[key]; ok {
			return out
		}
		out := reflect.New(v.Type().Elem())
		c.ptrs[key] = out
		out.Elem().Set(c.copy(v.Elem()))
		return out
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(c.copy(v.Elem()))
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := range v.NumField() {
			if f := out.Field(i); f.CanSet() {
				f.Set(c.copy(v.Field(i)))
			}
		}
		return out
	default:
		return v
	}
}
