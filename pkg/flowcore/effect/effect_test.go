package effect

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqOf[T any](values ...T) func(context.Context) iter.Seq2[T, error] {
	return func(context.Context) iter.Seq2[T, error] {
		return func(yield func(T, error) bool) {
			for _, v := range values {
				if !yield(v, nil) {
					return
				}
			}
		}
	}
}

func collectIter[T any](t *testing.T, seq iter.Seq2[T, error]) []T {
	t.Helper()
	var out []T
	for v, err := range seq {
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func collectStream[T any](t *testing.T, ch <-chan Result[T]) []T {
	t.Helper()
	var out []T
	for r := range ch {
		require.NoError(t, r.Err)
		out = append(out, r.Value)
	}
	return out
}

// TestDrivers_SyncNative tests that every driver honors a sync effect.
func TestDrivers_SyncNative(t *testing.T) {
	ctx := context.Background()
	e := Sync(func(context.Context) (int, error) { return 42, nil })

	v, err := e.Invoke(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = e.InvokeAsync(ctx).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	assert.Equal(t, []int{42}, collectIter(t, e.Iter(ctx)))
	assert.Equal(t, []int{42}, collectStream(t, e.Stream(ctx)))
	assert.Equal(t, KindSync, e.Kind())
}

// TestDrivers_AsyncNative tests that an async effect can be driven synchronously.
func TestDrivers_AsyncNative(t *testing.T) {
	ctx := context.Background()
	e := Async(func(ctx context.Context) *Future[string] {
		return Go(ctx, func(context.Context) (string, error) {
			time.Sleep(5 * time.Millisecond)
			return "done", nil
		})
	})

	v, err := e.Invoke(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, []string{"done"}, collectIter(t, e.Iter(ctx)))
	assert.Equal(t, []string{"done"}, collectStream(t, e.Stream(ctx)))
}

// TestDrivers_IterNative tests stream collection and conversion.
func TestDrivers_IterNative(t *testing.T) {
	ctx := context.Background()

	t.Run("addable elements fold", func(t *testing.T) {
		e := FromIter(seqOf("a", "b", "c"))
		v, err := e.Invoke(ctx)
		require.NoError(t, err)
		assert.Equal(t, "abc", v)
		assert.Equal(t, []string{"a", "b", "c"}, collectStream(t, e.Stream(ctx)))
	})

	t.Run("numbers sum", func(t *testing.T) {
		v, err := FromIter(seqOf(1, 2, 3)).Invoke(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6, v)
	})

	type item struct{ N int }

	t.Run("non-addable keeps last by default", func(t *testing.T) {
		v, err := FromIter(seqOf(item{1}, item{2}, item{3})).Invoke(ctx)
		require.NoError(t, err)
		assert.Equal(t, item{3}, v)
	})

	t.Run("non-addable keeps first when requested", func(t *testing.T) {
		v, err := FromIter(seqOf(item{1}, item{2}), WithCollect(CollectFirst)).Invoke(ctx)
		require.NoError(t, err)
		assert.Equal(t, item{1}, v)
	})
}

// TestDrivers_StreamNative tests a channel-backed effect.
func TestDrivers_StreamNative(t *testing.T) {
	ctx := context.Background()
	e := FromStream(func(ctx context.Context) <-chan Result[[]int] {
		ch := make(chan Result[[]int])
		go func() {
			defer close(ch)
			for i := range 3 {
				select {
				case ch <- Result[[]int]{Value: []int{i}}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch
	})

	v, err := e.Invoke(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, v)

	var first []int
	for chunk, err := range e.Iter(ctx) {
		require.NoError(t, err)
		first = chunk
		break
	}
	assert.Equal(t, []int{0}, first)
}

// TestDrivers_ErrorPropagation tests that failures surface on every driver.
func TestDrivers_ErrorPropagation(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	e := Fail[int](boom)

	_, err := e.Invoke(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = e.InvokeAsync(ctx).Await(ctx)
	assert.ErrorIs(t, err, boom)

	for _, err := range e.Iter(ctx) {
		assert.ErrorIs(t, err, boom)
	}

	var got error
	for r := range e.Stream(ctx) {
		got = r.Err
	}
	assert.ErrorIs(t, got, boom)
}

// TestPure tests that pure effects have no deferred work.
func TestPure(t *testing.T) {
	e := Pure(7)
	assert.Equal(t, KindPure, e.Kind())
	v, err := e.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	var zero Effect[int]
	v, err = zero.Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

// TestMap tests element-wise transformation.
func TestMap(t *testing.T) {
	ctx := context.Background()
	double := func(x int) (int, error) { return x * 2, nil }

	v, err := Map(Pure(4), double).Invoke(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, v)

	assert.Equal(t, []int{2, 4}, collectIter(t, Map(FromIter(seqOf(1, 2)), double).Iter(ctx)))

	calls := 0
	lazy := Map(Pure(1), func(x int) (int, error) {
		calls++
		return x, nil
	})
	assert.Equal(t, 0, calls, "map must not run before a driver")
	_, _ = lazy.Invoke(ctx)
	assert.Equal(t, 1, calls)
}

// TestFlatMap tests sequential substitution.
func TestFlatMap(t *testing.T) {
	ctx := context.Background()

	t.Run("single to stream", func(t *testing.T) {
		e := FlatMap(Pure(3), func(n int) Effect[string] {
			return FromIter(func(context.Context) iter.Seq2[string, error] {
				return func(yield func(string, error) bool) {
					for range n {
						if !yield("x", nil) {
							return
						}
					}
				}
			})
		})
		assert.Equal(t, []string{"x", "x", "x"}, collectIter(t, e.Iter(ctx)))
		v, err := e.Invoke(ctx)
		require.NoError(t, err)
		assert.Equal(t, "xxx", v)
	})

	t.Run("stream to single", func(t *testing.T) {
		e := FlatMap(FromIter(seqOf(1, 2, 3)), func(n int) Effect[int] {
			return Pure(n * 10)
		})
		assert.Equal(t, []int{10, 20, 30}, collectIter(t, e.Iter(ctx)))
		v, err := e.Invoke(ctx)
		require.NoError(t, err)
		assert.Equal(t, 60, v)
	})

	t.Run("error short-circuits", func(t *testing.T) {
		boom := errors.New("boom")
		called := false
		e := FlatMap(Fail[int](boom), func(int) Effect[int] {
			called = true
			return Pure(1)
		})
		_, err := e.Invoke(ctx)
		assert.ErrorIs(t, err, boom)
		assert.False(t, called)
	})
}

func sleepy(d time.Duration, v string) Effect[string] {
	return Sync(func(ctx context.Context) (string, error) {
		select {
		case <-time.After(d):
			return v, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
}

// TestParallel_Concurrent tests that entries overlap in time.
func TestParallel_Concurrent(t *testing.T) {
	ctx := context.Background()
	p := Parallel(map[string]Effect[string]{
		"a": sleepy(100*time.Millisecond, "out_a"),
		"b": sleepy(100*time.Millisecond, "out_b"),
	})

	start := time.Now()
	v, err := p.Invoke(ctx)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "out_a", "b": "out_b"}, v)
	assert.Less(t, elapsed, 180*time.Millisecond)

	start = time.Now()
	v, err = p.InvokeAsync(ctx).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "out_a", "b": "out_b"}, v)
	assert.Less(t, time.Since(start), 180*time.Millisecond)
}

// TestParallel_Streaming tests running snapshots as entries complete.
func TestParallel_Streaming(t *testing.T) {
	ctx := context.Background()
	p := Parallel(map[string]Effect[string]{
		"a": sleepy(20*time.Millisecond, "out_a"),
		"b": sleepy(60*time.Millisecond, "out_b"),
	})

	snapshots := collectIter(t, p.Iter(ctx))
	require.Len(t, snapshots, 2)
	assert.Equal(t, map[string]string{"a": "out_a"}, snapshots[0])
	assert.Equal(t, map[string]string{"a": "out_a", "b": "out_b"}, snapshots[1])
}

// TestParallel_FirstFailureCancels tests peer cancellation.
func TestParallel_FirstFailureCancels(t *testing.T) {
	boom := errors.New("boom")
	var cancelled atomic.Bool
	p := Parallel(map[string]Effect[string]{
		"fail": Sync(func(context.Context) (string, error) { return "", boom }),
		"slow": Sync(func(ctx context.Context) (string, error) {
			select {
			case <-time.After(time.Second):
				return "late", nil
			case <-ctx.Done():
				cancelled.Store(true)
				return "", ctx.Err()
			}
		}),
	})

	start := time.Now()
	_, err := p.Invoke(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, cancelled.Load())
}

// TestParallel_MaxWorkers tests the worker bound.
func TestParallel_MaxWorkers(t *testing.T) {
	var running, peak atomic.Int32
	track := Sync(func(context.Context) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return 1, nil
	})

	effects := map[string]Effect[int]{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		effects[name] = track
	}

	v, err := Parallel(effects, WithMaxWorkers(2)).Invoke(context.Background())
	require.NoError(t, err)
	assert.Len(t, v, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// TestAdd tests the addition rules used when folding streams.
func TestAdd(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want any
		ok   bool
	}{
		{"ints", 1, 2, 3, true},
		{"floats", 1.5, 2.0, 3.5, true},
		{"strings", "ab", "cd", "abcd", true},
		{"slices", []any{1}, []any{2}, []any{1, 2}, true},
		{"mixed types", 1, "x", 1, false},
		{"maps", map[string]int{}, map[string]int{}, map[string]int{}, false},
		{"nil", nil, 1, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Add(tt.a, tt.b)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

type chunk struct{ text string }

func (c chunk) Add(o chunk) chunk { return chunk{text: c.text + o.text} }

// TestAdd_Adder tests custom addition.
func TestAdd_Adder(t *testing.T) {
	v, err := FromIter(seqOf(chunk{"he"}, chunk{"llo"})).Invoke(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chunk{"hello"}, v)
}

// TestFuture_Cancel tests awaiting with a cancelled context.
func TestFuture_Cancel(t *testing.T) {
	f, _ := NewFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	r := Resolved(5, nil)
	v, err := r.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

// TestGo_RecoversPanic tests that a panicking worker becomes an error.
func TestGo_RecoversPanic(t *testing.T) {
	f := Go(context.Background(), func(context.Context) (int, error) {
		panic("kaboom")
	})
	_, err := f.Await(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}
