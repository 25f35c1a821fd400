package flowcore

import (
	"fmt"
	"slices"
	"strings"

	"github.com/randalmurphal/flowcore/pkg/flowcore/channels"
	"github.com/randalmurphal/flowcore/pkg/flowcore/managed"
	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
	"github.com/randalmurphal/flowcore/pkg/flowcore/pregel"
)

// Root is the channel holding the state of a Root schema.
const Root = "__root__"

// Field is one key of a state schema.
type Field struct {
	name    string
	channel channels.Channel
	managed managed.Factory
}

// Name returns the state key.
func (f Field) Name() string {
	return f.name
}

// Value declares a key holding the last value written to it.
func Value[T any](name string) Field {
	return Field{name: name, channel: channels.NewLastValue[T]()}
}

// Reduced declares a key folding every write into the current value with
// reducer.
//
// Example:
//
//	flowcore.Reduced("messages", func(cur, upd []string) []string {
//	    return append(cur, upd...)
//	})
func Reduced[T any](name string, reducer func(current, update T) T) Field {
	return Field{name: name, channel: channels.NewBinaryOperatorAggregate(reducer)}
}

// Managed declares a key computed per task by factory. Managed keys are
// read-only and never checkpointed.
func Managed(name string, factory managed.Factory) Field {
	return Field{name: name, managed: factory}
}

// ChannelField declares a key backed by ch, used as a prototype.
func ChannelField(name string, ch channels.Channel) Field {
	return Field{name: name, channel: ch}
}

// Schema is the record type of a state flow: the set of keys nodes read
// and write.
type Schema struct {
	fields []Field
	root   bool
}

// NewSchema creates a schema from fields.
func NewSchema(fields ...Field) *Schema {
	return &Schema{fields: slices.Clone(fields)}
}

// RootSchema creates a schema whose state is a single anonymous value
// held by f's channel. Nodes receive and return the value itself.
func RootSchema(f Field) *Schema {
	f.name = Root
	return &Schema{fields: []Field{f}, root: true}
}

// Keys returns the channel-backed keys in declaration order.
func (s *Schema) Keys() []string {
	var out []string
	for _, f := range s.fields {
		if f.channel != nil {
			out = append(out, f.name)
		}
	}
	return out
}

// ManagedKeys returns the managed keys in declaration order.
func (s *Schema) ManagedKeys() []string {
	var out []string
	for _, f := range s.fields {
		if f.managed != nil {
			out = append(out, f.name)
		}
	}
	return out
}

// IsRoot reports whether the schema holds a single anonymous value.
func (s *Schema) IsRoot() bool {
	return s.root
}

func (s *Schema) has(name string) bool {
	return slices.ContainsFunc(s.fields, func(f Field) bool { return f.name == name })
}

// keys returns how the state is read and returned.
func (s *Schema) keys() pregel.Keys {
	if s.root {
		return pregel.Key(Root)
	}
	return pregel.KeyList(s.Keys()...)
}

func (s *Schema) validate() []error {
	var errs []error
	seen := map[string]bool{}
	for _, f := range s.fields {
		switch {
		case f.name == "":
			errs = append(errs, invalid(ErrInvalidSchema, "field name cannot be empty"))
		case f.name == START || f.name == END || f.name == pregel.Tasks:
			errs = append(errs, invalid(ErrInvalidSchema, "field name %q is reserved", f.name))
		case f.name != Root && strings.Contains(f.name, ":"):
			errs = append(errs, invalid(ErrInvalidSchema, "field name %q cannot contain ':'", f.name))
		case seen[f.name]:
			errs = append(errs, invalid(ErrInvalidSchema, "duplicate field %q", f.name))
		}
		seen[f.name] = true
		if (f.channel == nil) == (f.managed == nil) {
			errs = append(errs, invalid(ErrInvalidSchema, "field %q needs exactly one of a channel or a managed factory", f.name))
		}
	}
	if s.root && len(s.Keys()) != 1 {
		errs = append(errs, invalid(ErrInvalidSchema, "root schema needs a channel-backed field"))
	}
	if len(s.Keys()) == 0 {
		errs = append(errs, invalid(ErrInvalidSchema, "schema has no channel-backed fields"))
	}
	return errs
}

// NewStateFlow creates a flow whose nodes share the state described by
// schema. Nodes receive the state as a map[string]any (the value itself
// for a RootSchema) and return a partial update: only the keys present
// are written, and a nil result writes nothing. The flow returns the
// state.
func NewStateFlow(schema *Schema) *Flow {
	f := NewFlow()
	f.schema = schema
	return f
}

// pick returns a write mapper selecting key from a partial update.
func pick(key string) func(any) (any, error) {
	return func(v any) (any, error) {
		if v == nil {
			return pregel.SkipWrite, nil
		}
		update, err := module.Coerce[map[string]any](v)
		if err != nil {
			return nil, fmt.Errorf("state update must be a map of state keys: %w", err)
		}
		val, ok := update[key]
		if !ok {
			return pregel.SkipWrite, nil
		}
		return val, nil
	}
}

// latch returns the write mapper of a node's own channel. It rejects
// updates naming keys outside keys. Nil becomes an empty update so the
// latch stays readable after a restore.
func latch(keys []string, root bool) func(any) (any, error) {
	return func(v any) (any, error) {
		if v == nil {
			return map[string]any{}, nil
		}
		if root {
			return v, nil
		}
		update, err := module.Coerce[map[string]any](v)
		if err != nil {
			return nil, fmt.Errorf("state update must be a map of state keys: %w", err)
		}
		for k := range update {
			if !slices.Contains(keys, k) {
				return nil, fmt.Errorf("%w: %q is not a writable state key", channels.ErrInvalidUpdate, k)
			}
		}
		return v, nil
	}
}
