package storage

import (
	"maps"
	"sync"
)

// Memory is an in-process Store
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	fail   error
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// FailWith makes every subsequent operation return err. Pass nil to recover.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Get returns the value for key
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return "", false, m.fail
	}
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores a single key
func (m *Memory) Set(key, value string) error {
	return m.SetMany(map[string]string{key: value})
}

// SetMany stores all values under one lock
func (m *Memory) SetMany(values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	maps.Copy(m.values, values)
	return nil
}

// Delete removes keys; missing keys are ignored
func (m *Memory) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// Len returns the number of stored keys
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Snapshot returns a copy of the stored values
func (m *Memory) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.values)
}
