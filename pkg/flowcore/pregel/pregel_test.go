package pregel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowcore/pkg/flowcore/channels"
	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
	"github.com/randalmurphal/flowcore/pkg/flowcore/managed"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

func intFunc(name string, f func(int) int) module.Module[any, any] {
	return module.Func(name, func(_ context.Context, in any) (any, error) {
		return f(in.(int)), nil
	})
}

func failing(name string, err error) module.Module[any, any] {
	return module.Func(name, func(context.Context, any) (any, error) {
		return nil, err
	})
}

// newChain builds in -> inc -> mid -> double -> out.
func newChain(t *testing.T, opts ...RunOption) *Pregel {
	t.Helper()
	nodes := map[string]*Node{
		"inc":    Subscribe("in", intFunc("inc", func(x int) int { return x + 1 }), WriteTo("mid")),
		"double": Subscribe("mid", intFunc("double", func(x int) int { return x * 2 }), WriteTo("out")),
	}
	chans := map[string]channels.Channel{
		"in":  channels.NewEphemeral[int](false),
		"mid": channels.NewEphemeral[int](false),
		"out": channels.NewLastValue[int](),
	}
	p, err := New(nodes, chans, Key("in"), Key("out"), opts...)
	require.NoError(t, err)
	return p
}

func TestInvoke_Chain(t *testing.T) {
	p := newChain(t)

	out, err := p.Invoke(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 8, out)
}

// TestInvoke_SeveralModes tests that several modes return the tagged
// chunks in order.
func TestInvoke_SeveralModes(t *testing.T) {
	p := newChain(t)

	out, err := p.Invoke(context.Background(), 3, WithStreamMode(StreamUpdates, StreamValues))
	require.NoError(t, err)
	chunks, ok := out.([]Chunk)
	require.True(t, ok)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks, Chunk{Mode: StreamUpdates, Data: map[string]any{"double": 8}})
	assert.Equal(t, Chunk{Mode: StreamValues, Data: 8}, chunks[len(chunks)-1])
}

func TestInvoke_Updates(t *testing.T) {
	p := newChain(t)

	out, err := p.Invoke(context.Background(), 3, WithStreamMode(StreamUpdates))
	require.NoError(t, err)
	// inc writes neither its own channel nor the output, so it reports nothing.
	assert.Equal(t, []any{map[string]any{"double": 8}}, out)
}

func TestStream_ValuesMatchesInvoke(t *testing.T) {
	p := newChain(t)

	var last any
	for c, err := range p.Stream(context.Background(), 5) {
		require.NoError(t, err)
		require.Equal(t, StreamValues, c.Mode)
		last = c.Data
	}
	out, err := p.Invoke(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, out, last)
}

// TestStream_ModeOrder tests the order of chunks within a step when
// several modes are streamed.
func TestStream_ModeOrder(t *testing.T) {
	p := newChain(t)

	var modes []StreamMode
	var kinds []string
	for c, err := range p.Stream(context.Background(), 3, WithStreamMode(StreamValues, StreamUpdates, StreamDebug)) {
		require.NoError(t, err)
		modes = append(modes, c.Mode)
		if ev, ok := c.Data.(DebugEvent); ok {
			kinds = append(kinds, ev.Type)
		}
	}

	require.GreaterOrEqual(t, len(modes), 5)
	assert.Equal(t, []StreamMode{StreamDebug, StreamUpdates, StreamDebug, StreamValues, StreamDebug}, modes[len(modes)-5:])
	// The input checkpoint, then two steps.
	assert.Equal(t, []string{
		DebugCheckpoint,
		DebugTask, DebugTaskResult, DebugCheckpoint,
		DebugTask, DebugTaskResult, DebugCheckpoint,
	}, kinds)
}

func TestStream_ConsumerBreak(t *testing.T) {
	p := newChain(t)

	n := 0
	for range p.Stream(context.Background(), 3, WithStreamMode(StreamDebug)) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestDrivers_Async(t *testing.T) {
	p := newChain(t)
	ctx := context.Background()

	out, err := p.InvokeAsync(ctx, 1).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, out)

	var got []Chunk
	for r := range p.StreamAsync(ctx, 1) {
		require.NoError(t, r.Err)
		got = append(got, r.Value)
	}
	assert.Equal(t, []Chunk{{Mode: StreamValues, Data: 4}}, got)
}

func TestModule(t *testing.T) {
	m := newChain(t).Module()
	ctx := context.Background()

	out, err := m.Invoke(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 8, out)

	out, err = m.Invoke(ctx, 3, module.Kwargs{"stream_mode": "updates"})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"double": 8}}, out)

	var items []any
	for v, err := range m.Iter(ctx, 3, module.Kwargs{"stream_mode": []any{"values", "updates"}}) {
		require.NoError(t, err)
		items = append(items, v)
	}
	assert.Equal(t, []any{
		Chunk{Mode: StreamUpdates, Data: map[string]any{"double": 8}},
		Chunk{Mode: StreamValues, Data: 8},
	}, items)

	_, err = m.Invoke(ctx, 3, module.Kwargs{"stream_mode": "bogus"})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNew_Validation(t *testing.T) {
	noop := module.Passthrough[any]("noop")
	tests := []struct {
		name  string
		nodes map[string]*Node
		chans map[string]channels.Channel
		want  string
	}{
		{
			name:  "unknown trigger",
			nodes: map[string]*Node{"a": Subscribe("nope", noop, WriteTo("x"))},
			chans: map[string]channels.Channel{"x": channels.NewLastValue[int]()},
			want:  `triggered by unknown channel "nope"`,
		},
		{
			name:  "unknown write",
			nodes: map[string]*Node{"a": Subscribe("x", noop, WriteTo("nope"))},
			chans: map[string]channels.Channel{"x": channels.NewLastValue[int]()},
			want:  `writes unknown channel "nope"`,
		},
		{
			name:  "reserved channel",
			nodes: map[string]*Node{"a": Subscribe("x", noop)},
			chans: map[string]channels.Channel{"x": channels.NewLastValue[int](), Tasks: channels.NewLastValue[int]()},
			want:  "reserved",
		},
		{
			name:  "unknown mapping",
			nodes: map[string]*Node{"a": {Triggers: []string{"x"}, Mapping: map[string]string{"v": "nope"}}},
			chans: map[string]channels.Channel{"x": channels.NewLastValue[int]()},
			want:  `reads unknown channel "nope"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.nodes, tt.chans, Key("x"), Key("x"))
			require.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRun_Configuration(t *testing.T) {
	p := newChain(t)
	ctx := context.Background()

	_, err := p.Invoke(ctx, 1, WithRecursionLimit(0))
	assert.ErrorIs(t, err, ErrInvalidRecursionLimit)

	_, err = p.Invoke(ctx, 1, WithInterruptBefore("double"))
	assert.ErrorIs(t, err, ErrCheckpointerRequired)

	_, err = p.Invoke(ctx, 1, WithCheckpointer(checkpoint.NewMemorySaver()), WithInterruptAfter("nope"))
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = p.Invoke(ctx, 1, WithOutput(Key("nope")))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRecursionLimit(t *testing.T) {
	saver := checkpoint.NewMemorySaver()
	ctx := context.Background()
	counter := &Node{
		Triggers: []string{"x"},
		Channels: []string{"x"},
		Bound:    intFunc("count", func(x int) int { return x + 1 }),
		Writers: []Writer{&ChannelWrite{Entries: []WriteEntry{{
			Channel: "x",
			Mapper: func(v any) (any, error) {
				if v.(int) > 5 {
					return SkipWrite, nil
				}
				return v, nil
			},
		}}}},
	}
	p, err := New(map[string]*Node{"count": counter},
		map[string]channels.Channel{"x": channels.NewLastValue[int]()},
		Key("x"), Key("x"), WithCheckpointer(saver))
	require.NoError(t, err)

	_, err = p.Invoke(ctx, 0, WithThreadID("r"), WithRecursionLimit(3))
	var recErr *RecursionError
	require.ErrorAs(t, err, &recErr)
	assert.ErrorIs(t, err, ErrRecursion)
	assert.Equal(t, 3, recErr.Limit)

	// The checkpoint of the last allowed step is kept.
	saved, err := saver.Get(ctx, checkpoint.Config{ThreadID: "r"})
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Metadata.Step)
	assert.Equal(t, 3, saved.Checkpoint.ChannelValues["x"])

	out, err := p.Invoke(ctx, nil, WithThreadID("r"), WithRecursionLimit(10))
	require.NoError(t, err)
	assert.Equal(t, 5, out)
}

// TestTaskFailure tests that a failing task fails the step and that the
// writes of its peers are not applied.
func TestTaskFailure(t *testing.T) {
	boom := errors.New("boom")
	saver := checkpoint.NewMemorySaver()
	nodes := map[string]*Node{
		"ok":  Subscribe("in", intFunc("ok", func(x int) int { return x }), WriteTo("a")),
		"bad": Subscribe("in", failing("bad", boom), WriteTo("b")),
	}
	chans := map[string]channels.Channel{
		"in": channels.NewEphemeral[int](false),
		"a":  channels.NewLastValue[int](),
		"b":  channels.NewLastValue[int](),
	}
	p, err := New(nodes, chans, Key("in"), KeyList("a", "b"), WithCheckpointer(saver))
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), 1, WithThreadID("f"))
	require.ErrorIs(t, err, boom)
	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "bad", taskErr.Node)
	assert.Equal(t, 0, taskErr.Step)

	saved, err := saver.Get(context.Background(), checkpoint.Config{ThreadID: "f"})
	require.NoError(t, err)
	assert.Equal(t, checkpoint.SourceInput, saved.Metadata.Source)
	assert.NotContains(t, saved.Checkpoint.ChannelValues, "a")
}

func TestTaskPanic(t *testing.T) {
	boom := module.Func("boom", func(context.Context, any) (any, error) {
		panic("kaboom")
	})
	p, err := New(map[string]*Node{"boom": Subscribe("in", boom)},
		map[string]channels.Channel{"in": channels.NewEphemeral[int](false)},
		Key("in"), Key("in"))
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), 1)
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestStepTimeout(t *testing.T) {
	slow := module.Func("slow", func(ctx context.Context, in any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p, err := New(map[string]*Node{"slow": Subscribe("in", slow)},
		map[string]channels.Channel{"in": channels.NewEphemeral[int](false)},
		Key("in"), Key("in"))
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), 1, WithStepTimeout(20*time.Millisecond))
	var timeoutErr *StepTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 0, timeoutErr.Step)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConflictingWrites(t *testing.T) {
	nodes := map[string]*Node{
		"a": Subscribe("in", intFunc("a", func(x int) int { return x }), WriteTo("out")),
		"b": Subscribe("in", intFunc("b", func(x int) int { return -x }), WriteTo("out")),
	}
	chans := map[string]channels.Channel{
		"in":  channels.NewEphemeral[int](false),
		"out": channels.NewLastValue[int](),
	}
	p, err := New(nodes, chans, Key("in"), Key("out"))
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), 1)
	require.ErrorIs(t, err, channels.ErrInvalidUpdate)
	var updErr *channels.UpdateError
	require.ErrorAs(t, err, &updErr)
	assert.Equal(t, "out", updErr.Channel)
}

func TestSend_MapReduce(t *testing.T) {
	fan := &Node{
		Triggers: []string{"in"},
		Channels: []string{"in"},
		Writers: []Writer{WriterFunc(func(_ context.Context, v any, kw module.Kwargs) error {
			send, ok := SendFrom(kw)
			if !ok {
				return errors.New("no send")
			}
			for _, item := range v.([]int) {
				if err := send(Write{Channel: Tasks, Value: Send{Node: "square", Arg: item}}); err != nil {
					return err
				}
			}
			return nil
		})},
	}
	square := &Node{
		Bound:   intFunc("square", func(x int) int { return x * x }),
		Writers: []Writer{WriteTo("results")},
	}
	chans := map[string]channels.Channel{
		"in":      channels.NewEphemeral[[]int](false),
		"results": channels.NewTopic[int](false, true),
	}
	p, err := New(map[string]*Node{"fan": fan, "square": square}, chans, Key("in"), Key("results"))
	require.NoError(t, err)

	out, err := p.Invoke(context.Background(), []int{1, 2, 3})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 4, 9}, out)
}

func TestSend_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"unknown node", Send{Node: "nope"}},
		{"not a send", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &Node{
				Triggers: []string{"in"},
				Writers: []Writer{WriterFunc(func(_ context.Context, _ any, kw module.Kwargs) error {
					send, _ := SendFrom(kw)
					return send(Write{Channel: Tasks, Value: tt.value})
				})},
			}
			p, err := New(map[string]*Node{"a": node},
				map[string]channels.Channel{"in": channels.NewEphemeral[int](false)},
				Key("in"), Key("in"))
			require.NoError(t, err)

			_, err = p.Invoke(context.Background(), 1)
			assert.ErrorIs(t, err, channels.ErrInvalidUpdate)
		})
	}
}

// TestReadFresh tests that a fresh read overlays only the task's own writes.
func TestReadFresh(t *testing.T) {
	var stale, fresh any
	var staleErr error
	node := &Node{
		Triggers: []string{"in"},
		Channels: []string{"in"},
		Writers: []Writer{
			WriteTo("x"),
			WriterFunc(func(_ context.Context, _ any, kw module.Kwargs) error {
				read, _ := ReadFrom(kw)
				stale, staleErr = read(Key("x"), false)
				var err error
				fresh, err = read(Key("x"), true)
				return err
			}),
		},
	}
	p, err := New(map[string]*Node{"a": node},
		map[string]channels.Channel{"in": channels.NewEphemeral[int](false), "x": channels.NewLastValue[int]()},
		Key("in"), Key("x"))
	require.NoError(t, err)

	out, err := p.Invoke(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, out)
	assert.Nil(t, stale)
	assert.ErrorIs(t, staleErr, channels.ErrEmptyChannel)
	assert.Equal(t, 7, fresh)
}

func TestManagedValue(t *testing.T) {
	node := &Node{
		Triggers: []string{"in"},
		Mapping:  map[string]string{"in": "in", "last": "is_last_step"},
		Bound: module.Func("check", func(_ context.Context, in any) (any, error) {
			return in.(map[string]any)["last"], nil
		}),
		Writers: []Writer{WriteTo("out")},
	}
	p, err := New(map[string]*Node{"check": node},
		map[string]channels.Channel{"in": channels.NewEphemeral[int](false), "out": channels.NewLastValue[bool]()},
		Key("in"), Key("out"), WithManaged("is_last_step", managed.IsLastStep))
	require.NoError(t, err)

	out, err := p.Invoke(context.Background(), 1, WithRecursionLimit(1))
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = p.Invoke(context.Background(), 1, WithRecursionLimit(5))
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

// TestContextValue tests that scoped channels are entered for the run and
// released afterwards.
func TestContextValue(t *testing.T) {
	var mu sync.Mutex
	released := 0
	conn := channels.NewContextValue(func(context.Context) (string, func() error, error) {
		return "db", func() error {
			mu.Lock()
			defer mu.Unlock()
			released++
			return nil
		}, nil
	})
	node := &Node{
		Triggers: []string{"in"},
		Mapping:  map[string]string{"in": "in", "conn": "conn"},
		Bound: module.Func("use", func(_ context.Context, in any) (any, error) {
			return in.(map[string]any)["conn"], nil
		}),
		Writers: []Writer{WriteTo("out")},
	}
	p, err := New(map[string]*Node{"use": node},
		map[string]channels.Channel{"in": channels.NewEphemeral[int](false), "conn": conn, "out": channels.NewLastValue[string]()},
		Key("in"), Key("out"))
	require.NoError(t, err)

	out, err := p.Invoke(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "db", out)
	assert.Equal(t, 1, released)
}

func TestMaxWorkers(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0
	work := module.Func("work", func(_ context.Context, in any) (any, error) {
		mu.Lock()
		running++
		peak = max(peak, running)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return in, nil
	})
	nodes := map[string]*Node{}
	chans := map[string]channels.Channel{
		"in":  channels.NewEphemeral[int](false),
		"out": channels.NewTopic[int](false, false),
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		nodes[name] = Subscribe("in", work, WriteTo("out"))
	}
	p, err := New(nodes, chans, Key("in"), Key("out"))
	require.NoError(t, err)

	out, err := p.Invoke(context.Background(), 1, WithMaxWorkers(2))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 1}, out)
	assert.LessOrEqual(t, peak, 2)
}

func TestCancellation(t *testing.T) {
	started := make(chan struct{})
	block := module.Func("block", func(ctx context.Context, in any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p, err := New(map[string]*Node{"block": Subscribe("in", block)},
		map[string]channels.Channel{"in": channels.NewEphemeral[int](false)},
		Key("in"), Key("in"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err = p.Invoke(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
