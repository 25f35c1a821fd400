/*
Package flowcore builds executable flows out of modules.

# Overview

A Flow is a directed graph whose nodes are module.Module values and whose
edges decide which nodes run next. Compile lowers the flow onto the
pregel engine: every node becomes a pregel.Node, every edge a channel.
Runs proceed in bulk synchronous steps, are checkpointed when a
checkpointer is configured, and can be paused before or after nodes.

# Plain Flows

In a flow created with NewFlow, values travel along the edges: a node
receives the output of the node that triggered it, and the run returns
the value written to END.

	flow := flowcore.NewFlow().
	    AddNode("inc", flowcore.Func("inc", func(_ context.Context, x int) (int, error) {
	        return x + 1, nil
	    })).
	    AddNode("double", flowcore.Func("double", func(_ context.Context, x int) (int, error) {
	        return x * 2, nil
	    })).
	    AddEdge(flowcore.START, "inc").
	    AddEdge("inc", "double").
	    AddEdge("double", flowcore.END)

	compiled, err := flow.Compile()
	if err != nil {
	    log.Fatal(err)
	}
	out, err := compiled.Invoke(ctx, 3) // 8

# Branches

AddBranch routes the output of a node through a path Module returning
destination keys. WithThen runs a node once every picked destination
has run:

	flow.AddBranch("classify", flowcore.Router("sign", sign),
	    map[string]string{"pos": "positive", "neg": "negative"},
	    flowcore.WithThen("report"))

A path may also return pregel.Send packets to run a node once per
argument in the next step (map-reduce).

# Joins

AddJoin fires a node once all of its sources have run, even when they
finish in different steps. In a plain flow the node receives a map from
source name to output.

# State Flows

NewStateFlow shares a state among the nodes. The Schema declares the
keys: Value keys keep the last write, Reduced keys fold writes with a
reducer, Managed keys are computed per task and never checkpointed.
Nodes receive the state as a map[string]any and return a partial update:

	schema := flowcore.NewSchema(
	    flowcore.Value[string]("question"),
	    flowcore.Reduced("docs", func(cur, upd []string) []string {
	        return append(cur, upd...)
	    }),
	    flowcore.Managed("is_last_step", managed.IsLastStep),
	)
	flow := flowcore.NewStateFlow(schema)

# Human in the Loop

With a checkpointer, runs can stop before or after nodes and resume
later. The embedded pregel state API inspects and edits paused runs:

	compiled, _ := flow.Compile(
	    flowcore.WithCheckpointer(checkpoint.NewMemorySaver()),
	    flowcore.WithInterruptBefore("publish"),
	)
	cfg := checkpoint.Config{ThreadID: "review-42"}
	compiled.Invoke(ctx, input, pregel.WithThreadID(cfg.ThreadID))
	compiled.UpdateState(ctx, cfg, map[string]any{"approved": true}, "review")
	compiled.Invoke(ctx, nil, pregel.WithThreadID(cfg.ThreadID))

# Error Handling

Compile joins every structural problem with errors.Join; each matches
ErrInvalidFlow and a specific sentinel such as ErrNodeNotFound or
ErrDeadEnd. Run failures are the pregel error types: *pregel.TaskError,
*pregel.RecursionError, *pregel.StepTimeoutError. Branch failures are
wrapped in *BranchError.

# Visualization

CompiledFlow.DrawMermaid renders the flow as a Mermaid flowchart.
*/
package flowcore
