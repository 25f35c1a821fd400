package checkpoint

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sync"
)

// MemorySaver is an in-memory Saver for tests and single-process use.
// Data is lost when the process exits.
type MemorySaver struct {
	IncrementVersions

	mu     sync.RWMutex
	data   map[string]map[string]*Saved // threadID -> checkpoint id -> saved
	closed bool
}

// NewMemorySaver creates an empty in-memory saver.
func NewMemorySaver() *MemorySaver {
	return &MemorySaver{
		data: make(map[string]map[string]*Saved),
	}
}

// copySaved returns a copy that shares no mutable state with s.
func copySaved(s *Saved) *Saved {
	out := *s
	out.Checkpoint = s.Checkpoint.Copy()
	out.Metadata.Writes = CopyOf(s.Metadata.Writes)
	out.Metadata.Extra = CopyOf(s.Metadata.Extra)
	if s.ParentConfig != nil {
		parent := *s.ParentConfig
		out.ParentConfig = &parent
	}
	return &out
}

// Get implements Saver.
func (m *MemorySaver) Get(_ context.Context, cfg Config) (*Saved, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	thread, ok := m.data[cfg.ThreadID]
	if !ok || len(thread) == 0 {
		return nil, ErrNotFound
	}

	if cfg.ThreadTS != "" {
		s, ok := thread[cfg.ThreadTS]
		if !ok {
			return nil, ErrNotFound
		}
		return copySaved(s), nil
	}

	latest := slices.Max(slices.Collect(maps.Keys(thread)))
	return copySaved(thread[latest]), nil
}

// List implements Saver.
func (m *MemorySaver) List(_ context.Context, cfg Config, f Filter) iter.Seq2[*Saved, error] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return func(yield func(*Saved, error) bool) {
			yield(nil, ErrStoreClosed)
		}
	}

	var entries []*Saved
	for threadID, thread := range m.data {
		if cfg.ThreadID != "" && threadID != cfg.ThreadID {
			continue
		}
		for _, s := range thread {
			entries = append(entries, copySaved(s))
		}
	}
	return listSorted(entries, f)
}

// Put implements Saver.
func (m *MemorySaver) Put(_ context.Context, cfg Config, cp *Checkpoint, md Metadata) (Config, error) {
	if cfg.ThreadID == "" {
		return Config{}, ErrThreadRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Config{}, ErrStoreClosed
	}

	if m.data[cfg.ThreadID] == nil {
		m.data[cfg.ThreadID] = make(map[string]*Saved)
	}

	saved := &Saved{
		Config:     Config{ThreadID: cfg.ThreadID, ThreadTS: cp.ID},
		Checkpoint: cp,
		Metadata:   md,
	}
	if cfg.ThreadTS != "" {
		saved.ParentConfig = &Config{ThreadID: cfg.ThreadID, ThreadTS: cfg.ThreadTS}
	}
	// Copy to avoid retaining the caller's maps.
	m.data[cfg.ThreadID][cp.ID] = copySaved(saved)

	return saved.Config, nil
}

// DeleteThread removes every checkpoint of a thread.
// Returns nil if the thread has no checkpoints.
func (m *MemorySaver) DeleteThread(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data, threadID)
	return nil
}

// Close implements io.Closer.
func (m *MemorySaver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the total number of checkpoints across all threads.
// Useful for testing.
func (m *MemorySaver) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, thread := range m.data {
		count += len(thread)
	}
	return count
}
