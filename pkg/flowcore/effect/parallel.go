package effect

import (
	"context"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ParallelOption configures a Parallel effect.
type ParallelOption func(*parallelConfig)

type parallelConfig struct {
	maxWorkers int
}

// WithMaxWorkers bounds how many entries run at once. Zero or negative
// means no bound.
func WithMaxWorkers(n int) ParallelOption {
	return func(c *parallelConfig) {
		c.maxWorkers = n
	}
}

// Parallel returns an Effect that runs every entry concurrently and yields a
// map from entry name to result. The first failure cancels the entries still
// running and is returned unchanged.
//
// Driven as a stream, Parallel emits a snapshot of the aggregated map every
// time any entry produces an element; elements of streaming entries are
// folded with Add when possible.
func Parallel[T any](effects map[string]Effect[T], opts ...ParallelOption) Effect[map[string]T] {
	var cfg parallelConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return Effect[map[string]T]{
		kind: KindSync,
		sync: func(ctx context.Context) (map[string]T, error) {
			return runParallel(ctx, effects, cfg)
		},
		stream: func(ctx context.Context) <-chan Result[map[string]T] {
			return streamParallel(ctx, effects, cfg)
		},
	}
}

func newGroup(ctx context.Context, cfg parallelConfig) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if cfg.maxWorkers > 0 {
		g.SetLimit(cfg.maxWorkers)
	}
	return g, gctx
}

func runParallel[T any](ctx context.Context, effects map[string]Effect[T], cfg parallelConfig) (map[string]T, error) {
	g, gctx := newGroup(ctx, cfg)

	var mu sync.Mutex
	results := make(map[string]T, len(effects))
	for name, eff := range effects {
		g.Go(func() error {
			v, err := eff.Invoke(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			results[name] = v
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type namedElement[T any] struct {
	name  string
	value T
}

func streamParallel[T any](ctx context.Context, effects map[string]Effect[T], cfg parallelConfig) <-chan Result[map[string]T] {
	out := make(chan Result[map[string]T])

	go func() {
		defer close(out)

		g, gctx := newGroup(ctx, cfg)
		elements := make(chan namedElement[T])
		waitErr := make(chan error, 1)

		go func() {
			for name, eff := range effects {
				g.Go(func() error {
					for v, err := range eff.Iter(gctx) {
						if err != nil {
							return err
						}
						select {
						case elements <- namedElement[T]{name: name, value: v}:
						case <-gctx.Done():
							return gctx.Err()
						}
					}
					return nil
				})
			}
			waitErr <- g.Wait()
			close(elements)
		}()

		snapshot := make(map[string]T, len(effects))
		for el := range elements {
			if prev, ok := snapshot[el.name]; ok {
				if sum, ok := Add(prev, el.value); ok {
					el.value = sum
				}
			}
			snapshot[el.name] = el.value
			if !send(ctx, out, Result[map[string]T]{Value: maps.Clone(snapshot)}) {
				return
			}
		}

		if err := <-waitErr; err != nil {
			send(ctx, out, Result[map[string]T]{Err: err})
		}
	}()

	return out
}
