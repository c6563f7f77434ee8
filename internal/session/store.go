package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session_not_found")

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Data is what a Store persists for one session id.
type Data struct {
	Values  map[string]string `json:"values"`
	Flashes []Flash           `json:"flashes,omitempty"`
}

// Store persists session data by id. Implementations expire entries after ttl.
type Store interface {
	Get(ctx context.Context, id string) (Data, error)
	Save(ctx context.Context, id string, d Data, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	data    Data
	expires time.Time
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return Data{}, ErrNotFound
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, id)
		return Data{}, ErrNotFound
	}
	return cloneData(e.data), nil
}

func (m *MemoryStore) Save(_ context.Context, id string, d Data, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[id] = memoryEntry{data: cloneData(d), expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, id)
	return nil
}

// Sweep drops expired entries and reports how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for id, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

func cloneData(d Data) Data {
	out := Data{Values: make(map[string]string, len(d.Values))}
	for k, v := range d.Values {
		out.Values[k] = v
	}
	if len(d.Flashes) > 0 {
		out.Flashes = append([]Flash(nil), d.Flashes...)
	}
	return out
}
