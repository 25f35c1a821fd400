package module

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/randalmurphal/flowcore/pkg/flowcore/registry"
)

// Tool exposes a Module to tool-calling LLMs: a name, a description and the
// argument contract, plus a Call that coerces JSON-like arguments to the
// Module's input type.
type Tool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  *Schema        `json:"input_schema,omitempty"`
	OutputSchema *Schema        `json:"output_schema,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	module Module[any, any]
}

// AsTool wraps m as a Tool.
func AsTool[In, Out any](m Module[In, Out]) Tool {
	return Tool{
		Name:         m.Name(),
		Description:  m.Description(),
		InputSchema:  m.InputSchema(),
		OutputSchema: m.OutputSchema(),
		Metadata:     m.Metadata(),
		module:       Erase(m),
	}
}

// Call runs the tool on args. args may be a decoded JSON value, a
// json.RawMessage, raw bytes or a value of the input type.
func (t Tool) Call(ctx context.Context, args any, kw ...Kwargs) (any, error) {
	if t.module.IsZero() {
		return nil, fmt.Errorf("tool %s: no module", t.Name)
	}
	return t.module.Invoke(ctx, args, kw...)
}

// CallJSON runs the tool on JSON arguments and returns the JSON-encoded result.
func (t Tool) CallJSON(ctx context.Context, args json.RawMessage, kw ...Kwargs) (json.RawMessage, error) {
	out, err := t.Call(ctx, args, kw...)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("tool %s: encode result: %w", t.Name, err)
	}
	return b, nil
}

// Toolset is a concurrency-safe collection of tools indexed by name.
type Toolset struct {
	tools *registry.Registry[string, Tool]
}

// NewToolset creates a Toolset holding tools.
func NewToolset(tools ...Tool) *Toolset {
	ts := &Toolset{tools: registry.New[string, Tool]()}
	for _, t := range tools {
		ts.Add(t)
	}
	return ts
}

// Add registers t, replacing any tool with the same name.
func (ts *Toolset) Add(t Tool) {
	ts.tools.Register(t.Name, t)
}

// Get returns the tool registered under name.
func (ts *Toolset) Get(name string) (Tool, bool) {
	return ts.tools.Get(name)
}

// Tools returns every tool sorted by name.
func (ts *Toolset) Tools() []Tool {
	out := make([]Tool, 0, ts.tools.Len())
	for _, t := range ts.tools.All() {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Tool) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// Call runs the tool registered under name.
func (ts *Toolset) Call(ctx context.Context, name string, args any, kw ...Kwargs) (any, error) {
	t, ok := ts.tools.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Call(ctx, args, kw...)
}
