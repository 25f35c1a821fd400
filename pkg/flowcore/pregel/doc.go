// Package pregel implements the bulk synchronous execution engine behind
// compiled flows.
//
// A Pregel holds Nodes and Channels. A run proceeds in steps. Each step
// plans the nodes whose trigger channels advanced since the node last ran,
// executes them concurrently, then applies all their writes at once and
// bumps the version of every channel that changed. A write made in step N
// is visible from step N+1 only.
//
//	nodes := map[string]*pregel.Node{
//	    "double": pregel.Subscribe("in", double, pregel.WriteTo("out")),
//	}
//	chans := map[string]channels.Channel{
//	    "in":  channels.NewEphemeral[int](false),
//	    "out": channels.NewLastValue[int](),
//	}
//	p, err := pregel.New(nodes, chans, pregel.Key("in"), pregel.Key("out"))
//	out, err := p.Invoke(ctx, 21) // 42
//
// With a checkpoint.Saver every step is checkpointed under a thread id,
// which enables interrupts, resumption (Invoke with a nil input), GetState,
// GetStateHistory and UpdateState.
//
// Runs can be driven four ways: Invoke, InvokeAsync, Stream and
// StreamAsync. Module exposes the engine as a module.Module so a flow can
// be nested in another one.
package pregel
