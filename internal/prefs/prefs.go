// Package prefs persists the preferred wallet vendor between runs.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/alanyoungcy/bnbmarket/internal/domain"
)

// Key is the storage key of the wallet preference.
const Key = "preferredWallet"

// FileStore keeps preferences in a small JSON object on disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ domain.PreferenceStore = (*FileStore)(nil)

// NewFileStore returns a store backed by path. The file is created on the
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prefs: reading %s: %w", s.path, err)
	}
	values := map[string]string{}
	if len(data) > 0 {
		// A corrupt file is treated as empty.
		_ = json.Unmarshal(data, &values)
	}
	return values, nil
}

// Read returns the stored wallet vendor. Unknown values read as absent.
func (s *FileStore) Read(_ context.Context) (domain.WalletType, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", false, err
	}
	wt, ok := domain.ParseWalletType(values[Key])
	return wt, ok, nil
}

// Write stores w, or clears the preference when w is nil.
func (s *FileStore) Write(_ context.Context, w *domain.WalletType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	if w == nil {
		delete(values, Key)
	} else {
		values[Key] = string(*w)
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("prefs: encoding: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("prefs: creating dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("prefs: writing: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("prefs: replacing: %w", err)
	}
	return nil
}

// MemoryStore keeps the preference in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	value string
}

var _ domain.PreferenceStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// SetRaw stores an arbitrary string, bypassing validation.
func (m *MemoryStore) SetRaw(v string) {
	m.mu.Lock()
	m.value = v
	m.mu.Unlock()
}

// Read implements domain.PreferenceStore.
func (m *MemoryStore) Read(context.Context) (domain.WalletType, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt, ok := domain.ParseWalletType(m.value)
	return wt, ok, nil
}

// Write implements domain.PreferenceStore.
func (m *MemoryStore) Write(_ context.Context, w *domain.WalletType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w == nil {
		m.value = ""
	} else {
		m.value = string(*w)
	}
	return nil
}

// Noop is used where no durable storage exists: reads are always absent
// and writes are dropped.
type Noop struct{}

// Read implements domain.PreferenceStore.
func (Noop) Read(context.Context) (domain.WalletType, bool, error) { return "", false, nil }

// Write implements domain.PreferenceStore.
func (Noop) Write(context.Context, *domain.WalletType) error { return nil }
