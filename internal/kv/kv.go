// Package kv provides durable key-value string storage for spotlight state.
//
// Every backend stores one opaque string per namespace. Callers that need
// structure encode it themselves, usually through SaveSnapshot/LoadSnapshot.
package kv

import (
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned by LoadSnapshot when a namespace holds no value.
	ErrNotFound = errors.New("kv: namespace not found")

	// ErrVersionMismatch is returned by LoadSnapshot when the persisted
	// schema version differs from the one requested.
	ErrVersionMismatch = errors.New("kv: snapshot version mismatch")
)

// Store is a namespace-keyed string store.
type Store interface {
	Get(namespace string) (value string, ok bool, err error)
	Set(namespace, value string) error
}

// Memory is an in-process Store, used by tests and as the fallback when no
// durable backend is configured.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(namespace string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[namespace]
	return v, ok, nil
}

func (m *Memory) Set(namespace, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[namespace] = value
	return nil
}
