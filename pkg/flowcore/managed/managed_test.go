package managed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowcore/pkg/flowcore/checkpoint"
)

func TestIsLastStep(t *testing.T) {
	ctx := context.Background()
	v, err := IsLastStep(ctx, Scope{Stop: 25})
	require.NoError(t, err)

	last, err := v.Get(ctx, 24, Task{Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, true, last)

	last, err = v.Get(ctx, 3, Task{Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, false, last)
}

func TestFewShot(t *testing.T) {
	ctx := context.Background()
	saver := checkpoint.NewMemorySaver()

	for i, tag := range []string{"good", "bad", "good", "good"} {
		cp := checkpoint.Empty()
		cp.ChannelValues["answer"] = i
		_, err := saver.Put(ctx, checkpoint.Config{ThreadID: "t"}, cp, checkpoint.Metadata{
			Source: checkpoint.SourceLoop,
			Extra:  map[string]any{"rating": tag},
		})
		require.NoError(t, err)
	}

	v, err := FewShot(2, map[string]any{"rating": "good"})(ctx, Scope{Saver: saver})
	require.NoError(t, err)

	got, err := v.Get(ctx, 0, Task{Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"answer": 3}, {"answer": 2}}, got)

	_, err = FewShot(2, nil)(ctx, Scope{})
	assert.ErrorIs(t, err, ErrNoSaver)
}
