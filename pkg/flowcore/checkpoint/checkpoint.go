package checkpoint

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Send schedules a one-shot execution of Node with Arg in the next step.
type Send struct {
	Node string `json:"node"`
	Arg  any    `json:"arg"`
}

// Checkpoint is a snapshot of every channel of a run plus the versions each
// node has seen. It holds everything needed to resume.
type Checkpoint struct {
	V         int       `json:"v"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`

	// ChannelValues holds the Checkpoint() form of every non-empty channel.
	ChannelValues map[string]any `json:"channel_values"`
	// ChannelVersions is the logical time of the last update per channel.
	ChannelVersions map[string]int `json:"channel_versions"`
	// VersionsSeen is, per node, the latest version of each channel the
	// node has observed.
	VersionsSeen map[string]map[string]int `json:"versions_seen"`
	// PendingSends are dynamic tasks queued for the next step.
	PendingSends []Send `json:"pending_sends,omitempty"`
}

// Empty returns a checkpoint with no channel state.
func Empty() *Checkpoint {
	return &Checkpoint{
		V:               Version,
		ID:              NewID(),
		Timestamp:       time.Now().UTC(),
		ChannelValues:   map[string]any{},
		ChannelVersions: map[string]int{},
		VersionsSeen:    map[string]map[string]int{},
	}
}

// NewID returns a time-ordered checkpoint identifier. Identifiers created
// later in the same process compare greater as strings.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Copy returns a deep copy of c. Channel values and send arguments are
// copied with CopyValue, so in-place updates of one never show in the
// other.
func (c *Checkpoint) Copy() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.ChannelValues = CopyOf(c.ChannelValues)
	out.ChannelVersions = maps.Clone(c.ChannelVersions)
	out.VersionsSeen = make(map[string]map[string]int, len(c.VersionsSeen))
	for node, seen := range c.VersionsSeen {
		out.VersionsSeen[node] = maps.Clone(seen)
	}
	out.PendingSends = CopyOf(c.PendingSends)
	if out.ChannelValues == nil {
		out.ChannelValues = map[string]any{}
	}
	if out.ChannelVersions == nil {
		out.ChannelVersions = map[string]int{}
	}
	return &out
}

// MaxVersion returns the highest channel version, 0 when there is none.
func (c *Checkpoint) MaxVersion() int {
	highest := 0
	for _, v := range c.ChannelVersions {
		highest = max(highest, v)
	}
	return highest
}

// Source says what produced a checkpoint.
type Source string

// Checkpoint sources.
const (
	// SourceInput marks the checkpoint written after mapping run input to channels.
	SourceInput Source = "input"
	// SourceLoop marks a checkpoint written at the end of a step.
	SourceLoop Source = "loop"
	// SourceUpdate marks a checkpoint written by an external state update.
	SourceUpdate Source = "update"
)

// Metadata describes a saved checkpoint.
type Metadata struct {
	Source Source `json:"source"`
	Step   int    `json:"step"`
	// Writes holds, per node, what it wrote in the step.
	Writes map[string]any `json:"writes,omitempty"`
	// Extra holds caller-supplied tags.
	Extra map[string]any `json:"extra,omitempty"`
}

// Config addresses a checkpoint: the latest of a thread when ThreadTS is
// empty, otherwise the one with that identifier.
type Config struct {
	ThreadID string `json:"thread_id"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// Saved is a checkpoint as returned by a Saver.
type Saved struct {
	Config       Config
	Checkpoint   *Checkpoint
	Metadata     Metadata
	ParentConfig *Config
}

// Filter selects checkpoints in Saver.List. Zero fields match everything.
type Filter struct {
	// Source matches Metadata.Source.
	Source Source
	// Step matches Metadata.Step when non-nil.
	Step *int
	// Extra matches every key/value pair against Metadata.Extra.
	Extra map[string]any
	// Before keeps checkpoints whose identifier sorts before it.
	Before string
	// Limit caps the number of results when positive.
	Limit int
}

// Match reports whether s satisfies the metadata and Before constraints.
func (f Filter) Match(s *Saved) bool {
	if f.Before != "" && s.Config.ThreadTS >= f.Before {
		return false
	}
	md := s.Metadata
	if f.Source != "" && md.Source != f.Source {
		return false
	}
	if f.Step != nil && md.Step != *f.Step {
		return false
	}
	for k, want := range f.Extra {
		got, ok := md.Extra[k]
		if !ok || !equalTag(got, want) {
			return false
		}
	}
	return true
}

// equalTag compares tag values tolerating a JSON round trip of numbers.
func equalTag(a, b any) bool {
	if a == b {
		return true
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	return okA && okB && fa == fb
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
