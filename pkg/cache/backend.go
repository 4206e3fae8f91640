package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one cached result plus bookkeeping. The original key and the
// (tool, server) pair are stored alongside the value so disk files stay
// inspectable and targeted invalidation can fall back to a full scan.
type Entry struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Tool        string          `json:"tool"`
	Server      string          `json:"server,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at,omitempty"`
	AccessCount int64           `json:"access_count"`
	LastAccess  time.Time       `json:"last_access,omitempty"`
	Size        int             `json:"size"`
}

// expired reports whether the entry is past its expiry at the given time.
// Entries without an expiry never expire.
func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Backend stores entries by key. Implementations need no internal
// locking; the owning Cache serializes all access.
type Backend interface {
	Get(key string) (*Entry, bool, error)
	Set(entry *Entry) error
	Delete(key string) error
	Entries() ([]*Entry, error)
	Len() (int, error)
	Clear() error
}

// MemoryBackend keeps entries in a plain map. It provides no cross
// process consistency.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryBackend builds an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]*Entry)}
}

func (b *MemoryBackend) Get(key string) (*Entry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	return e, ok, nil
}

func (b *MemoryBackend) Set(entry *Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entry.Key] = entry
	return nil
}

func (b *MemoryBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *MemoryBackend) Entries() ([]*Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	return out, nil
}

func (b *MemoryBackend) Len() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries), nil
}

func (b *MemoryBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]*Entry)
	return nil
}

// DiskBackend writes one JSON file per key under its directory. Files are
// plain JSON holding the full entry, original key included, so they stay
// portable and inspectable with standard tools.
type DiskBackend struct {
	dir string
}

// NewDiskBackend builds a disk backend rooted at dir, creating it if
// needed.
func NewDiskBackend(dir string) (*DiskBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskBackend{dir: dir}, nil
}

func (b *DiskBackend) path(key string) string {
	return filepath.Join(b.dir, key+".json")
}

func (b *DiskBackend) Get(key string) (*Entry, bool, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		// Unreadable files are dropped rather than poisoning reads.
		os.Remove(b.path(key))
		return nil, false, nil
	}
	return &e, true, nil
}

func (b *DiskBackend) Set(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return os.WriteFile(b.path(entry.Key), data, 0o600)
}

func (b *DiskBackend) Delete(key string) error {
	err := os.Remove(b.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *DiskBackend) Entries() ([]*Entry, error) {
	keys, err := b.keys()
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		e, ok, err := b.Get(key)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (b *DiskBackend) keys() ([]string, error) {
	dirEntries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}

func (b *DiskBackend) Len() (int, error) {
	keys, err := b.keys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (b *DiskBackend) Clear() error {
	keys, err := b.keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := b.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
