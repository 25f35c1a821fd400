package channels

import (
	"maps"
	"slices"
)

type nameSet map[string]struct{}

func newNameSet(names ...string) nameSet {
	s := make(nameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s nameSet) has(n string) bool {
	_, ok := s[n]
	return ok
}

func (s nameSet) sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

func (s nameSet) equal(o nameSet) bool {
	if len(s) != len(o) {
		return false
	}
	for n := range s {
		if !o.has(n) {
			return false
		}
	}
	return true
}

// NamedBarrierValue becomes readable once every expected name has been
// written to it. Writes are the names themselves. Consume resets it.
type NamedBarrierValue struct {
	names nameSet
	seen  nameSet
}

// NewNamedBarrier creates a barrier waiting for names.
func NewNamedBarrier(names ...string) *NamedBarrierValue {
	return &NamedBarrierValue{names: newNameSet(names...), seen: nameSet{}}
}

// Names returns the expected names, sorted.
func (c *NamedBarrierValue) Names() []string {
	return c.names.sorted()
}

// Get returns nil once every name has been seen.
func (c *NamedBarrierValue) Get() (any, error) {
	if !c.seen.equal(c.names) {
		return nil, ErrEmptyChannel
	}
	return nil, nil
}

// Update records the names in values. Unknown names are invalid.
func (c *NamedBarrierValue) Update(values []any) (bool, error) {
	updated := false
	for _, raw := range values {
		name, ok := raw.(string)
		if !ok || !c.names.has(name) {
			return false, invalid("barrier expects one of %v, got %v", c.names.sorted(), raw)
		}
		if !c.seen.has(name) {
			c.seen[name] = struct{}{}
			updated = true
		}
	}
	return updated, nil
}

// Checkpoint returns the names seen so far.
func (c *NamedBarrierValue) Checkpoint() (any, error) {
	return c.seen.sorted(), nil
}

// FromCheckpoint returns a barrier with the seen names in cp.
func (c *NamedBarrierValue) FromCheckpoint(cp any) (Channel, error) {
	out := &NamedBarrierValue{names: c.names, seen: nameSet{}}
	if cp == nil {
		return out, nil
	}
	seen, err := coerce[[]string](cp)
	if err != nil {
		return nil, err
	}
	out.seen = newNameSet(seen...)
	return out, nil
}

// Consume resets the barrier once it is complete.
func (c *NamedBarrierValue) Consume() bool {
	if c.seen.equal(c.names) {
		c.seen = nameSet{}
		return true
	}
	return false
}

// WaitForNames primes a DynamicBarrierValue with the names it must see.
type WaitForNames struct {
	Names []string `json:"names"`
}

// DynamicBarrierValue is a barrier whose expected names are set at run
// time. It starts primed: names written before a WaitForNames are ignored.
// After a WaitForNames it behaves like a NamedBarrierValue until consumed,
// when it returns to the primed state.
type DynamicBarrierValue struct {
	names nameSet
	seen  nameSet
}

// DynamicBarrierCheckpoint is the snapshot form of a DynamicBarrierValue.
type DynamicBarrierCheckpoint struct {
	Names []string `json:"names"`
	Seen  []string `json:"seen"`
}

// NewDynamicBarrier creates a primed barrier.
func NewDynamicBarrier() *DynamicBarrierValue {
	return &DynamicBarrierValue{seen: nameSet{}}
}

func (c *DynamicBarrierValue) complete() bool {
	return c.names != nil && c.seen.equal(c.names)
}

// Get returns nil once every expected name has been seen.
func (c *DynamicBarrierValue) Get() (any, error) {
	if !c.complete() {
		return nil, ErrEmptyChannel
	}
	return nil, nil
}

// Update handles one step of writes. A single WaitForNames sets the
// expected names; more than one per step is invalid. Other writes are
// names, invalid when unknown.
func (c *DynamicBarrierValue) Update(values []any) (bool, error) {
	var waits []WaitForNames
	for _, raw := range values {
		switch w := raw.(type) {
		case WaitForNames:
			waits = append(waits, w)
		case *WaitForNames:
			waits = append(waits, *w)
		}
	}
	if len(waits) > 1 {
		return false, invalid("received %d WaitForNames in one step", len(waits))
	}
	if len(waits) == 1 {
		c.names = newNameSet(waits[0].Names...)
		c.seen = nameSet{}
		return true, nil
	}
	if c.names == nil {
		return false, nil
	}

	updated := false
	for _, raw := range values {
		name, ok := raw.(string)
		if !ok || !c.names.has(name) {
			return false, invalid("barrier expects one of %v, got %v", c.names.sorted(), raw)
		}
		if !c.seen.has(name) {
			c.seen[name] = struct{}{}
			updated = true
		}
	}
	return updated, nil
}

// Checkpoint returns a DynamicBarrierCheckpoint.
func (c *DynamicBarrierValue) Checkpoint() (any, error) {
	if c.names == nil {
		return nil, ErrEmptyChannel
	}
	return DynamicBarrierCheckpoint{Names: c.names.sorted(), Seen: c.seen.sorted()}, nil
}

// FromCheckpoint returns a barrier restored from cp.
func (c *DynamicBarrierValue) FromCheckpoint(cp any) (Channel, error) {
	out := NewDynamicBarrier()
	if cp == nil {
		return out, nil
	}
	snap, err := coerce[DynamicBarrierCheckpoint](cp)
	if err != nil {
		return nil, err
	}
	out.names = newNameSet(snap.Names...)
	out.seen = newNameSet(snap.Seen...)
	return out, nil
}

// Consume returns the barrier to the primed state once it is complete.
func (c *DynamicBarrierValue) Consume() bool {
	if c.complete() {
		c.names = nil
		c.seen = nameSet{}
		return true
	}
	return false
}
