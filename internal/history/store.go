package history

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Transaction statuses as recorded in the journal.
const (
	StatusSubmitted = "submitted"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Entry is one journaled transaction attempt.
type Entry struct {
	TxID      string    `json:"txId"`
	Kind      string    `json:"kind"`
	Amount    string    `json:"amount"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store abstracts journal persistence. The journal is observational: a store
// failure must never fail the operation being journaled.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	SetStatus(ctx context.Context, txID, status, errMsg string) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Entry)}
}

func (m *MemoryStore) Record(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[entry.TxID] = entry
	return nil
}

func (m *MemoryStore) SetStatus(_ context.Context, txID, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[txID]
	if !ok {
		return errors.New("unknown transaction " + txID)
	}
	entry.Status = status
	entry.Error = errMsg
	entry.UpdatedAt = time.Now()
	m.data[txID] = entry
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return recentOf(m.data, limit), nil
}

func recentOf(data map[string]Entry, limit int) []Entry {
	out := make([]Entry, 0, len(data))
	for _, e := range data {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FileStore persists the journal to disk. Suitable for local dev.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Entry
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, data: make(map[string]Entry)}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}

func (f *FileStore) Record(_ context.Context, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[entry.TxID] = entry
	return f.persist()
}

func (f *FileStore) SetStatus(_ context.Context, txID, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.data[txID]
	if !ok {
		return errors.New("unknown transaction " + txID)
	}
	entry.Status = status
	entry.Error = errMsg
	entry.UpdatedAt = time.Now()
	f.data[txID] = entry
	return f.persist()
}

func (f *FileStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return recentOf(f.data, limit), nil
}
