// Package memory holds in-process store implementations, used for tests and
// for hosts that opt out of persistence.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/aussiebroadwan/hostedauth/internal/store"
)

var (
	_ store.Credentials = (*Credentials)(nil)
	_ store.Settings    = (*Settings)(nil)
)

type kv struct {
	mu   sync.RWMutex
	data map[string]string
}

func (m *kv) get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *kv) put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]string)
	}
	m.data[key] = value
}

func (m *kv) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// Credentials is a map-backed store.Credentials.
type Credentials struct {
	kv
}

func NewCredentials() *Credentials { return &Credentials{} }

func (c *Credentials) Save(key, value string) error {
	c.put(key, value)
	return nil
}

func (c *Credentials) Get(key string) (string, bool, error) {
	v, ok := c.get(key)
	return v, ok, nil
}

func (c *Credentials) Delete(key string) error {
	c.delete(key)
	return nil
}

func (c *Credentials) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.data)
	return nil
}

// Snapshot returns a copy of the stored values.
func (c *Credentials) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.data)
}

// Settings is a map-backed store.Settings.
type Settings struct {
	kv
}

func NewSettings() *Settings { return &Settings{} }

func (s *Settings) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.get(key)
	return v, ok, nil
}

func (s *Settings) Put(_ context.Context, key, value string) error {
	s.put(key, value)
	return nil
}

func (s *Settings) Delete(_ context.Context, key string) error {
	s.delete(key)
	return nil
}
