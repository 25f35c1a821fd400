package benchmarks

import (
	"context"
	"testing"

	"github.com/randalmurphal/flowcore/pkg/flowcore"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

// noopNode does minimal work to measure framework overhead.
var noopNode = module.Passthrough[any]("noop")

// BenchmarkNewFlow measures flow creation overhead.
func BenchmarkNewFlow(b *testing.B) {
	for i := 0; i < b.N; i++ {
		flowcore.NewFlow()
	}
}

// BenchmarkAddNode measures node addition overhead.
func BenchmarkAddNode(b *testing.B) {
	for i := 0; i < b.N; i++ {
		flow := flowcore.NewFlow()
		flow.AddNode("node", noopNode)
	}
}

// BenchmarkAddNode_10 measures adding 10 nodes.
func BenchmarkAddNode_10(b *testing.B) {
	for i := 0; i < b.N; i++ {
		flow := flowcore.NewFlow()
		for j := 0; j < 10; j++ {
			flow.AddNode(nodeID(j), noopNode)
		}
	}
}

// BenchmarkAddNode_100 measures adding 100 nodes.
func BenchmarkAddNode_100(b *testing.B) {
	for i := 0; i < b.N; i++ {
		flow := flowcore.NewFlow()
		for j := 0; j < 100; j++ {
			flow.AddNode(nodeID(j), noopNode)
		}
	}
}

// BenchmarkCompile_Linear_5 compiles a 5-node linear flow.
func BenchmarkCompile_Linear_5(b *testing.B) {
	benchmarkCompile(b, buildLinearFlow(5))
}

// BenchmarkCompile_Linear_10 compiles a 10-node linear flow.
func BenchmarkCompile_Linear_10(b *testing.B) {
	benchmarkCompile(b, buildLinearFlow(10))
}

// BenchmarkCompile_Linear_50 compiles a 50-node linear flow.
func BenchmarkCompile_Linear_50(b *testing.B) {
	benchmarkCompile(b, buildLinearFlow(50))
}

// BenchmarkCompile_Linear_100 compiles a 100-node linear flow.
func BenchmarkCompile_Linear_100(b *testing.B) {
	benchmarkCompile(b, buildLinearFlow(100))
}

// BenchmarkCompile_Branching compiles a flow with a branch.
func BenchmarkCompile_Branching(b *testing.B) {
	benchmarkCompile(b, buildBranchingFlow())
}

// BenchmarkCompile_State compiles a 10-node state flow.
func BenchmarkCompile_State(b *testing.B) {
	benchmarkCompile(b, buildStateFlow(10))
}

// BenchmarkDrawMermaid renders a 10-node linear flow.
func BenchmarkDrawMermaid(b *testing.B) {
	compiled := mustCompile(buildLinearFlow(10))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = compiled.DrawMermaid(flowcore.MermaidOptions{})
	}
}

// Helper functions

func benchmarkCompile(b *testing.B, flow *flowcore.Flow) {
	b.Helper()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = flow.Compile()
	}
}

func nodeID(n int) string {
	return string(rune('a'+n%26)) + string(rune('0'+n/26%10))
}

func mustCompile(f *flowcore.Flow, opts ...flowcore.CompileOption) *flowcore.CompiledFlow {
	compiled, err := f.Compile(opts...)
	if err != nil {
		panic(err)
	}
	return compiled
}

func buildLinearFlow(n int) *flowcore.Flow {
	flow := flowcore.NewFlow()
	for i := 0; i < n; i++ {
		flow.AddNode(nodeID(i), noopNode)
	}
	flow.AddEdge(flowcore.START, nodeID(0))
	for i := 0; i < n-1; i++ {
		flow.AddEdge(nodeID(i), nodeID(i+1))
	}
	flow.AddEdge(nodeID(n-1), flowcore.END)
	return flow
}

func buildBranchingFlow() *flowcore.Flow {
	router := flowcore.Router("parity", func(_ context.Context, v int) (string, error) {
		if v%2 == 0 {
			return "even", nil
		}
		return "odd", nil
	})

	return flowcore.NewFlow().
		AddNode("start", noopNode).
		AddNode("even", noopNode).
		AddNode("odd", noopNode).
		AddNode("merge", noopNode).
		AddEdge(flowcore.START, "start").
		AddBranch("start", router, map[string]string{"even": "even", "odd": "odd"}).
		AddEdge("even", "merge").
		AddEdge("odd", "merge").
		AddEdge("merge", flowcore.END)
}

func buildStateFlow(n int) *flowcore.Flow {
	schema := flowcore.NewSchema(
		flowcore.Value[int]("value"),
		flowcore.Reduced("trail", func(cur, upd []string) []string { return append(cur, upd...) }),
	)
	flow := flowcore.NewStateFlow(schema)
	for i := 0; i < n; i++ {
		name := nodeID(i)
		flow.AddNode(name, flowcore.Func(name, func(_ context.Context, s map[string]any) (map[string]any, error) {
			v, _ := s["value"].(int)
			return map[string]any{"value": v + 1, "trail": []string{name}}, nil
		}))
	}
	flow.SetEntry(nodeID(0))
	for i := 0; i < n-1; i++ {
		flow.AddEdge(nodeID(i), nodeID(i+1))
	}
	return flow.SetFinish(nodeID(n - 1))
}
