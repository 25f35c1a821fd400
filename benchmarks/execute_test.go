package benchmarks

import (
	"context"
	"testing"

	"github.com/randalmurphal/flowcore/pkg/flowcore"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
	"github.com/randalmurphal/flowcore/pkg/flowcore/pregel"
)

// BenchmarkInvoke_Linear_5 runs a 5-node linear flow.
func BenchmarkInvoke_Linear_5(b *testing.B) {
	benchmarkInvoke(b, mustCompile(buildLinearFlow(5)), 0)
}

// BenchmarkInvoke_Linear_10 runs a 10-node linear flow.
func BenchmarkInvoke_Linear_10(b *testing.B) {
	benchmarkInvoke(b, mustCompile(buildLinearFlow(10)), 0)
}

// BenchmarkInvoke_Linear_50 runs a 50-node linear flow.
func BenchmarkInvoke_Linear_50(b *testing.B) {
	benchmarkInvoke(b, mustCompile(buildLinearFlow(50), flowcore.WithRunOptions(pregel.WithRecursionLimit(60))), 0)
}

// BenchmarkInvoke_Branching runs a flow with a branch.
func BenchmarkInvoke_Branching(b *testing.B) {
	compiled := mustCompile(buildBranchingFlow())
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = compiled.Invoke(ctx, i)
	}
}

// BenchmarkInvoke_Loop runs a looping flow (3 iterations).
func BenchmarkInvoke_Loop(b *testing.B) {
	benchmarkInvoke(b, mustCompile(buildLoopFlow(3)), 0)
}

// BenchmarkInvoke_Loop_10 runs a looping flow (10 iterations).
func BenchmarkInvoke_Loop_10(b *testing.B) {
	benchmarkInvoke(b, mustCompile(buildLoopFlow(10)), 0)
}

// BenchmarkInvoke_State runs a 10-node state flow.
func BenchmarkInvoke_State(b *testing.B) {
	benchmarkInvoke(b, mustCompile(buildStateFlow(10)), map[string]any{"value": 0})
}

// BenchmarkInvoke_FanOut runs 10 nodes in one step joined by a barrier.
func BenchmarkInvoke_FanOut(b *testing.B) {
	flow := flowcore.NewFlow().AddNode("collect", noopNode)
	sources := make([]string, 10)
	for i := range sources {
		sources[i] = nodeID(i)
		flow.AddNode(sources[i], noopNode).AddEdge(flowcore.START, sources[i])
	}
	flow.AddJoin(sources, "collect").AddEdge("collect", flowcore.END)
	benchmarkInvoke(b, mustCompile(flow), 0)
}

// BenchmarkStream_Updates streams the updates of a 10-node linear flow.
func BenchmarkStream_Updates(b *testing.B) {
	compiled := mustCompile(buildLinearFlow(10))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, err := range compiled.Stream(ctx, 0, pregel.WithStreamMode(pregel.StreamUpdates)) {
			if err != nil {
				b.Fatal(err)
			}
		}
	}
}

// BenchmarkModule_Pipe measures composition overhead outside the engine.
func BenchmarkModule_Pipe(b *testing.B) {
	inc := module.Func("inc", func(_ context.Context, x int) (int, error) { return x + 1, nil })
	m := module.Pipe3(inc, inc, inc)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.Invoke(ctx, i)
	}
}

// Helper functions

func benchmarkInvoke(b *testing.B, compiled *flowcore.CompiledFlow, input any) {
	b.Helper()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := compiled.Invoke(ctx, input); err != nil {
			b.Fatal(err)
		}
	}
}

func buildLoopFlow(iterations int) *flowcore.Flow {
	inc := flowcore.Func("loop", func(_ context.Context, v int) (int, error) {
		return v + 1, nil
	})
	router := flowcore.Router("again", func(_ context.Context, v int) (string, error) {
		if v >= iterations {
			return "done", nil
		}
		return "loop", nil
	})

	return flowcore.NewFlow().
		AddNode("loop", inc).
		AddNode("done", noopNode).
		AddEdge(flowcore.START, "loop").
		AddBranch("loop", router, map[string]string{"loop": "loop", "done": "done"}).
		AddEdge("done", flowcore.END)
}
