package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store for local runs and tests. Transactions
// are optimistic in the same way as RedisStore: fn runs without the lock and
// the commit fails if the path changed meanwhile.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string][]byte
	versions map[string]uint64
	lists    map[string][]Entry
	seq      uint64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string][]byte),
		versions: make(map[string]uint64),
		lists:    make(map[string][]Entry),
	}
}

func (m *MemoryStore) Close() error { return nil }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (m *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	p, err := Clean(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneBytes(m.docs[p]), nil
}

// putLocked writes or deletes p and bumps its version. Caller holds mu.
func (m *MemoryStore) putLocked(p string, value []byte) {
	m.versions[p]++
	if value == nil {
		delete(m.docs, p)
		return
	}
	m.docs[p] = cloneBytes(value)
}

func (m *MemoryStore) Set(ctx context.Context, path string, value []byte) error {
	p, err := Clean(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.putLocked(p, value)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return m.Transaction(ctx, path, func(cur []byte) ([]byte, error) {
		return mergeFields(cur, fields)
	})
}

func (m *MemoryStore) Remove(ctx context.Context, paths ...string) error {
	cleaned := make([]string, 0, len(paths))
	for _, path := range paths {
		p, err := Clean(path)
		if err != nil {
			return err
		}
		cleaned = append(cleaned, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range cleaned {
		m.putLocked(p, nil)
		delete(m.lists, p)
	}
	return nil
}

func (m *MemoryStore) Push(ctx context.Context, path string, value []byte) (string, error) {
	p, err := Clean(path)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	key := fmt.Sprintf("%020d", m.seq)
	m.lists[p] = append(m.lists[p], Entry{Key: key, Value: cloneBytes(value)})
	return key, nil
}

func (m *MemoryStore) Children(ctx context.Context, path string) ([]Entry, error) {
	p, err := Clean(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.lists[p]
	out := make([]Entry, len(src))
	for i, e := range src {
		out[i] = Entry{Key: e.Key, Value: cloneBytes(e.Value)}
	}
	return out, nil
}

func (m *MemoryStore) Transaction(ctx context.Context, path string, fn TxFunc) error {
	p, err := Clean(path)
	if err != nil {
		return err
	}
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.mu.Lock()
		cur := cloneBytes(m.docs[p])
		seen := m.versions[p]
		m.mu.Unlock()

		next, ferr := fn(cur)
		if ferr != nil {
			return ferr
		}

		m.mu.Lock()
		if m.versions[p] == seen {
			m.putLocked(p, next)
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
	}
	return ErrContention
}

func (m *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	p := strings.TrimLeft(strings.TrimSpace(prefix), "/")
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.docs {
		if strings.HasPrefix(k, p) {
			out = append(out, k)
		}
	}
	for k := range m.lists {
		if strings.HasPrefix(k, p) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
