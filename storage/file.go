package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/defistate/clamm-engine-go/pool"
)

// FileStore keeps each named snapshot as a JSON file under a directory.
// Writes go through a temp file and rename so a crash never leaves a
// half-written snapshot behind.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) SaveSnapshot(_ context.Context, name string, st *pool.State) error {
	if name == "" {
		return fmt.Errorf("snapshot name required")
	}
	data, err := json.MarshalIndent(Encode(st), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) LoadSnapshot(_ context.Context, name string) (*pool.State, bool, error) {
	if name == "" {
		return nil, false, fmt.Errorf("snapshot name required")
	}

	s.mu.Lock()
	data, err := os.ReadFile(s.path(name))
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	st, err := Decode(&snap)
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}
