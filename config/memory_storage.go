package config

import (
	"encoding/json"
	"slices"
	"sync"
)

// MemoryStorage implements StateManager in memory, for callers that must not touch disk.
type MemoryStorage struct {
	mu              sync.Mutex
	runsData        json.RawMessage
	helpScreensSeen uint32
}

func (m *MemoryStorage) SaveRuns(runsJSON json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runsData = slices.Clone(runsJSON)
	return nil
}

func (m *MemoryStorage) GetRuns() json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runsData == nil {
		return json.RawMessage("[]")
	}
	return m.runsData
}

func (m *MemoryStorage) DeleteAllRuns() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runsData = json.RawMessage("[]")
	return nil
}

func (m *MemoryStorage) GetHelpScreensSeen() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.helpScreensSeen
}

func (m *MemoryStorage) SetHelpScreensSeen(seen uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.helpScreensSeen = seen
	return nil
}
