package storage

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryKV is an in-process KeyValue. Every operation holds a single mutex,
// which makes the compound operations as atomic as their Redis scripts.
// Intended for tests and single-instance development runs.
type MemoryKV struct {
	mu     sync.Mutex
	values map[string]memEntry
	sets   map[string]map[string]struct{}
	now    func() time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		values: make(map[string]memEntry),
		sets:   make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.values[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.values, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryKV) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.values[key] = e
	return nil
}

func (m *MemoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.values, k)
		delete(m.sets, k)
	}
	return nil
}

func (m *MemoryKV) SAdd(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addLocked(key, member)
	return nil
}

func (m *MemoryKV) SRem(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.remLocked(key, member)
	return nil
}

func (m *MemoryKV) SPop(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// map iteration order is randomized, which is good enough for "arbitrary"
	for member := range m.sets[key] {
		m.remLocked(key, member)
		return member, true, nil
	}
	return "", false, nil
}

func (m *MemoryKV) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *MemoryKV) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemoryKV) SPopOtherOrAdd(_ context.Context, key, member string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for other := range m.sets[key] {
		if other == member {
			continue
		}
		m.remLocked(key, other)
		return other, true, nil
	}
	m.addLocked(key, member)
	return "", false, nil
}

func (m *MemoryKV) ReleaseIfOwner(_ context.Context, key, owner, setKey, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.values[key]; ok && e.value != owner {
		if e.expiresAt.IsZero() || m.now().Before(e.expiresAt) {
			return false, nil
		}
	}
	delete(m.values, key)
	m.remLocked(setKey, member)
	return true, nil
}

func (m *MemoryKV) addLocked(key, member string) {
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	set[member] = struct{}{}
}

func (m *MemoryKV) remLocked(key, member string) {
	set, ok := m.sets[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(m.sets, key)
	}
}
