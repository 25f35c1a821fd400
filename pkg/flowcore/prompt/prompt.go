package prompt

import (
	"context"
	"fmt"
	"maps"
	"slices"

	flowerrors "github.com/randalmurphal/flowcore/pkg/flowcore/errors"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

// KeyVars is the keyword argument holding extra template variables, as a
// map[string]any. Input variables take precedence over it.
//
// Example:
//
//	greet := prompt.Template("greet", "Hello ${name}, you are ${role}").
//	    Bind(module.Kwargs{prompt.KeyVars: map[string]any{"role": "an admin"}})
const KeyVars = "prompt_vars"

// Message is one chat message of a Chat template.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// vars merges the KeyVars keyword argument under the input variables.
func vars(in map[string]any, kw module.Kwargs) map[string]any {
	extra, ok := module.Get[map[string]any](kw, KeyVars)
	if !ok {
		return in
	}
	out := make(map[string]any, len(extra)+len(in))
	maps.Copy(out, extra)
	maps.Copy(out, in)
	return out
}

// expandError categorizes a failed expansion as a fallback error.
func expandError(name string, err error) error {
	return flowerrors.Fallback(err, fmt.Sprintf("prompt %s", name))
}

// Template returns a Module rendering text with the variables of its
// input. The referenced variable names are recorded in the Module's
// metadata under "variables".
//
// Example:
//
//	ask := prompt.Template("ask", "Context:\n${context}\n\nQuestion: ${question}")
//	text, err := ask.Invoke(ctx, map[string]any{"context": docs, "question": q})
func Template(name, text string, opts ...Option) module.Module[map[string]any, string] {
	exp := NewExpander(opts...)
	return module.Sync(name, func(_ context.Context, in map[string]any, kw module.Kwargs) (string, error) {
		out, err := exp.Expand(text, vars(in, kw))
		if err != nil {
			return "", expandError(name, err)
		}
		return out, nil
	},
		module.WithDescription(text),
		module.WithMetadata(map[string]any{"variables": exp.Variables(text)}),
	)
}

// Chat returns a Module rendering the content of every message with the
// variables of its input. Roles are copied as given.
func Chat(name string, messages []Message, opts ...Option) module.Module[map[string]any, []Message] {
	exp := NewExpander(opts...)
	var names []string
	for _, m := range messages {
		for _, v := range exp.Variables(m.Content) {
			if !slices.Contains(names, v) {
				names = append(names, v)
			}
		}
	}
	messages = slices.Clone(messages)

	return module.Sync(name, func(_ context.Context, in map[string]any, kw module.Kwargs) ([]Message, error) {
		all := vars(in, kw)
		out := make([]Message, len(messages))
		for i, m := range messages {
			content, err := exp.Expand(m.Content, all)
			if err != nil {
				return nil, expandError(name, fmt.Errorf("message %d: %w", i, err))
			}
			out[i] = Message{Role: m.Role, Content: content}
		}
		return out, nil
	},
		module.WithMetadata(map[string]any{"variables": names}),
	)
}
