package module

import "maps"

// Kwargs is keyword configuration handed to a Module alongside its input.
type Kwargs map[string]any

// Reserved keyword keys.
const (
	// KeyRetryState holds the RetryState of the current attempt inside a
	// Module wrapped by WithRetry.
	KeyRetryState = "retry_state"
)

// Merge combines keyword sets with right bias: a key in a later set
// replaces the same key from an earlier one. The inputs are not modified.
func Merge(sets ...Kwargs) Kwargs {
	size := 0
	for _, s := range sets {
		size += len(s)
	}
	out := make(Kwargs, size)
	for _, s := range sets {
		maps.Copy(out, s)
	}
	return out
}

// Get returns the value under key converted to T.
func Get[T any](kw Kwargs, key string) (T, bool) {
	v, ok := kw[key].(T)
	return v, ok
}
