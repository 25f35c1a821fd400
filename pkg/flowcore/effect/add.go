package effect

import "reflect"

// Adder is implemented by element types with their own addition, such as
// message chunks that concatenate.
type Adder[T any] interface {
	Add(other T) T
}

// Add returns a+b when the elements support addition. Numbers add, strings
// and slices concatenate, and types implementing Adder use their method.
// Values of different dynamic types never add.
func Add[T any](a, b T) (T, bool) {
	if ad, ok := any(a).(Adder[T]); ok {
		return ad.Add(b), true
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() || va.Type() != vb.Type() {
		return a, false
	}

	out := reflect.New(va.Type()).Elem()
	switch va.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out.SetInt(va.Int() + vb.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out.SetUint(va.Uint() + vb.Uint())
	case reflect.Float32, reflect.Float64:
		out.SetFloat(va.Float() + vb.Float())
	case reflect.String:
		out.SetString(va.String() + vb.String())
	case reflect.Slice:
		joined := reflect.MakeSlice(va.Type(), 0, va.Len()+vb.Len())
		joined = reflect.AppendSlice(joined, va)
		out.Set(reflect.AppendSlice(joined, vb))
	default:
		return a, false
	}

	sum, ok := out.Interface().(T)
	if !ok {
		return a, false
	}
	return sum, true
}
