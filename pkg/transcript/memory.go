package transcript

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-memory Store. It is safe for concurrent use and intended
// primarily for testing.
type Memory struct {
	mu    sync.RWMutex
	calls map[string]map[int]Entry
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{calls: make(map[string]map[int]Entry)}
}

func (m *Memory) Append(_ context.Context, e Entry) error {
	if err := validateCallID(e.CallID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	lines, ok := m.calls[e.CallID]
	if !ok {
		lines = make(map[int]Entry)
		m.calls[e.CallID] = lines
	}
	lines[e.Seq] = e
	return nil
}

func (m *Memory) List(_ context.Context, callID string) ([]Entry, error) {
	if err := validateCallID(callID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	lines := m.calls[callID]
	if len(lines) == 0 {
		return nil, ErrNotFound
	}
	entries := make([]Entry, 0, len(lines))
	for _, e := range lines {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b Entry) int { return a.Seq - b.Seq })
	return entries, nil
}

func (m *Memory) Calls(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *Memory) Close() error {
	return nil
}
