package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := New[string, int]()
	r.Register("one", 1)
	r.Register("two", 2)
	r.Register("two", 22)

	v, ok := r.Get("two")
	require.True(t, ok)
	assert.Equal(t, 22, v)

	v, ok = r.Get("three")
	assert.False(t, ok)
	assert.Zero(t, v)
	assert.Equal(t, 2, r.Len())
}

func TestRegisterMany(t *testing.T) {
	r := New[string, int]()
	r.Register("existing", 0)
	r.RegisterMany(map[string]int{"one": 1, "two": 2})

	assert.Equal(t, 3, r.Len())
	assert.ElementsMatch(t, []string{"existing", "one", "two"}, r.Keys())
}

func TestDelete(t *testing.T) {
	r := New[string, int]()
	r.Register("key", 42)

	r.Delete("key")
	r.Delete("nonexistent")

	assert.False(t, r.Has("key"))
	assert.Equal(t, 0, r.Len())
}

// TestAll tests that iteration visits a snapshot.
func TestAll(t *testing.T) {
	r := New[string, int]()
	r.Register("one", 1)
	r.Register("two", 2)

	visited := map[string]int{}
	for k, v := range r.All() {
		visited[k] = v
		r.Register("new-"+k, v*10)
	}

	assert.Equal(t, map[string]int{"one": 1, "two": 2}, visited)
	assert.Equal(t, 4, r.Len())

	count := 0
	for range r.All() {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestGetOrCreate(t *testing.T) {
	r := New[string, int]()
	calls := 0
	factory := func() int {
		calls++
		return 42
	}

	assert.Equal(t, 42, r.GetOrCreate("key", factory))
	assert.Equal(t, 42, r.GetOrCreate("key", factory))
	assert.Equal(t, 1, calls)
}

func TestConcurrentGetOrCreate(t *testing.T) {
	r := New[string, int]()
	var wg sync.WaitGroup
	var calls atomic.Int32

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := r.GetOrCreate("key", func() int {
				calls.Add(1)
				return 42
			})
			assert.Equal(t, 42, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestConcurrentRegister(t *testing.T) {
	r := New[int, int]()
	var wg sync.WaitGroup

	for i := range 500 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register(i, i*2)
			_, _ = r.Get(i)
			_ = r.Keys()
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, r.Len())
	v, ok := r.Get(499)
	require.True(t, ok)
	assert.Equal(t, 998, v)
}
