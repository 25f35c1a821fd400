package checkpoint_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
)

// saverFactory creates a saver instance for testing.
type saverFactory func(t *testing.T) checkpoint.Saver

func newCheckpoint(values map[string]any, versions map[string]int) *checkpoint.Checkpoint {
	cp := checkpoint.Empty()
	for k, v := range values {
		cp.ChannelValues[k] = v
	}
	for k, v := range versions {
		cp.ChannelVersions[k] = v
	}
	return cp
}

// saverContractTest runs contract tests against any Saver implementation.
func saverContractTest(t *testing.T, name string, factory saverFactory) {
	ctx := context.Background()

	t.Run(name+"/Put_and_Get", func(t *testing.T) {
		saver := factory(t)

		cp := newCheckpoint(map[string]any{"x": "hello"}, map[string]int{"x": 1})
		cp.VersionsSeen["A"] = map[string]int{"x": 1}
		cp.PendingSends = []checkpoint.Send{{Node: "B", Arg: "payload"}}
		md := checkpoint.Metadata{Source: checkpoint.SourceLoop, Step: 2, Writes: map[string]any{"A": "hello"}}

		cfg, err := saver.Put(ctx, checkpoint.Config{ThreadID: "t1"}, cp, md)
		require.NoError(t, err)
		assert.Equal(t, checkpoint.Config{ThreadID: "t1", ThreadTS: cp.ID}, cfg)

		saved, err := saver.Get(ctx, checkpoint.Config{ThreadID: "t1"})
		require.NoError(t, err)
		assert.Equal(t, cfg, saved.Config)
		assert.Nil(t, saved.ParentConfig)
		assert.Equal(t, cp.ID, saved.Checkpoint.ID)
		assert.Equal(t, "hello", saved.Checkpoint.ChannelValues["x"])
		assert.Equal(t, map[string]int{"x": 1}, saved.Checkpoint.ChannelVersions)
		assert.Equal(t, map[string]int{"x": 1}, saved.Checkpoint.VersionsSeen["A"])
		require.Len(t, saved.Checkpoint.PendingSends, 1)
		assert.Equal(t, "B", saved.Checkpoint.PendingSends[0].Node)
		assert.Equal(t, checkpoint.SourceLoop, saved.Metadata.Source)
		assert.Equal(t, 2, saved.Metadata.Step)
	})

	t.Run(name+"/Get_NotFound", func(t *testing.T) {
		saver := factory(t)

		_, err := saver.Get(ctx, checkpoint.Config{ThreadID: "missing"})
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		_, err = saver.Get(ctx, checkpoint.Config{ThreadID: "missing", ThreadTS: "nope"})
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run(name+"/Latest_and_Parent", func(t *testing.T) {
		saver := factory(t)

		first := newCheckpoint(map[string]any{"x": "1"}, nil)
		cfg, err := saver.Put(ctx, checkpoint.Config{ThreadID: "t1"}, first, checkpoint.Metadata{Source: checkpoint.SourceInput, Step: -1})
		require.NoError(t, err)

		second := newCheckpoint(map[string]any{"x": "2"}, nil)
		cfg2, err := saver.Put(ctx, cfg, second, checkpoint.Metadata{Source: checkpoint.SourceLoop, Step: 0})
		require.NoError(t, err)

		latest, err := saver.Get(ctx, checkpoint.Config{ThreadID: "t1"})
		require.NoError(t, err)
		assert.Equal(t, cfg2, latest.Config)
		require.NotNil(t, latest.ParentConfig)
		assert.Equal(t, cfg, *latest.ParentConfig)

		older, err := saver.Get(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, "1", older.Checkpoint.ChannelValues["x"])
	})

	t.Run(name+"/Put_Idempotent", func(t *testing.T) {
		saver := factory(t)

		cp := newCheckpoint(map[string]any{"x": "a"}, nil)
		_, err := saver.Put(ctx, checkpoint.Config{ThreadID: "t1"}, cp, checkpoint.Metadata{})
		require.NoError(t, err)
		cp.ChannelValues["x"] = "b"
		_, err = saver.Put(ctx, checkpoint.Config{ThreadID: "t1"}, cp, checkpoint.Metadata{})
		require.NoError(t, err)

		all, err := checkpoint.Collect(saver.List(ctx, checkpoint.Config{ThreadID: "t1"}, checkpoint.Filter{}))
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "b", all[0].Checkpoint.ChannelValues["x"])
	})

	t.Run(name+"/List_Ordered_and_Filtered", func(t *testing.T) {
		saver := factory(t)

		cfg := checkpoint.Config{ThreadID: "t1"}
		var ids []string
		for step := -1; step < 3; step++ {
			source := checkpoint.SourceLoop
			if step == -1 {
				source = checkpoint.SourceInput
			}
			cp := newCheckpoint(nil, nil)
			ids = append(ids, cp.ID)
			var err error
			cfg, err = saver.Put(ctx, cfg, cp, checkpoint.Metadata{
				Source: source,
				Step:   step,
				Extra:  map[string]any{"user": "u1"},
			})
			require.NoError(t, err)
		}
		_, err := saver.Put(ctx, checkpoint.Config{ThreadID: "t2"}, newCheckpoint(nil, nil), checkpoint.Metadata{Source: checkpoint.SourceLoop})
		require.NoError(t, err)

		all, err := checkpoint.Collect(saver.List(ctx, checkpoint.Config{ThreadID: "t1"}, checkpoint.Filter{}))
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, ids[3], all[0].Config.ThreadTS, "newest first")
		assert.Equal(t, ids[0], all[3].Config.ThreadTS)

		limited, err := checkpoint.Collect(saver.List(ctx, checkpoint.Config{ThreadID: "t1"}, checkpoint.Filter{Limit: 2}))
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		before, err := checkpoint.Collect(saver.List(ctx, checkpoint.Config{ThreadID: "t1"}, checkpoint.Filter{Before: ids[2]}))
		require.NoError(t, err)
		require.Len(t, before, 2)
		assert.Equal(t, ids[1], before[0].Config.ThreadTS)

		step := 1
		bySteps, err := checkpoint.Collect(saver.List(ctx, checkpoint.Config{ThreadID: "t1"}, checkpoint.Filter{Step: &step}))
		require.NoError(t, err)
		require.Len(t, bySteps, 1)
		assert.Equal(t, ids[2], bySteps[0].Config.ThreadTS)

		inputs, err := checkpoint.Collect(saver.List(ctx, checkpoint.Config{ThreadID: "t1"}, checkpoint.Filter{Source: checkpoint.SourceInput}))
		require.NoError(t, err)
		assert.Len(t, inputs, 1)

		tagged, err := checkpoint.Collect(saver.List(ctx, checkpoint.Config{}, checkpoint.Filter{Extra: map[string]any{"user": "u1"}}))
		require.NoError(t, err)
		assert.Len(t, tagged, 4)

		everything, err := checkpoint.Collect(saver.List(ctx, checkpoint.Config{}, checkpoint.Filter{}))
		require.NoError(t, err)
		assert.Len(t, everything, 5)
	})

	t.Run(name+"/Put_RequiresThread", func(t *testing.T) {
		saver := factory(t)

		_, err := saver.Put(ctx, checkpoint.Config{}, newCheckpoint(nil, nil), checkpoint.Metadata{})
		assert.ErrorIs(t, err, checkpoint.ErrThreadRequired)
	})

	t.Run(name+"/NextVersion", func(t *testing.T) {
		saver := factory(t)

		assert.Equal(t, 1, saver.NextVersion(0, "x"))
		assert.Greater(t, saver.NextVersion(41, "x"), 41)
	})
}

func TestMemorySaver_Contract(t *testing.T) {
	saverContractTest(t, "MemorySaver", func(t *testing.T) checkpoint.Saver {
		s := checkpoint.NewMemorySaver()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteSaver_Contract(t *testing.T) {
	saverContractTest(t, "SQLiteSaver", func(t *testing.T) checkpoint.Saver {
		s, err := checkpoint.NewSQLiteSaver(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
