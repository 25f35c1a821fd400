package pregel

import (
	"slices"

	"github.com/randalmurphal/flowcore/pkg/flowcore/module"
)

// Keys selects channels for input, output and reads. A single key maps a
// value to or from one channel verbatim; a key list maps to or from a
// map[string]any keyed by channel name.
type Keys struct {
	names  []string
	single bool
}

// Key selects one channel.
func Key(name string) Keys {
	return Keys{names: []string{name}, single: true}
}

// KeyList selects several channels.
func KeyList(names ...string) Keys {
	return Keys{names: slices.Clone(names)}
}

// Names returns the selected channel names.
func (k Keys) Names() []string {
	return k.names
}

// Single reports whether k selects exactly one channel verbatim.
func (k Keys) Single() bool {
	return k.single
}

// IsZero reports whether k selects nothing.
func (k Keys) IsZero() bool {
	return len(k.names) == 0
}

// String joins the names.
func (k Keys) String() string {
	if k.single {
		return k.names[0]
	}
	out := "["
	for i, n := range k.names {
		if i > 0 {
			out += " "
		}
		out += n
	}
	return out + "]"
}

// inputWrites maps a run input onto writes to k.
func (k Keys) inputWrites(input any) ([]Write, error) {
	if input == nil || k.IsZero() {
		return nil, nil
	}
	if k.single {
		return []Write{{Channel: k.names[0], Value: input}}, nil
	}
	m, err := module.Coerce[map[string]any](input)
	if err != nil {
		return nil, err
	}
	var writes []Write
	for _, name := range k.names {
		if v, ok := m[name]; ok {
			writes = append(writes, Write{Channel: name, Value: v})
		}
	}
	return writes, nil
}
