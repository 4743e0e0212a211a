package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultFile is the file used when no path is configured.
const DefaultFile = "cockpit.json"

// FileStorage keeps entries in a JSON file, rewriting it on every change.
type FileStorage struct {
	Entries map[string]string `json:"entries"`
	path    string
	mu      sync.Mutex
}

// OpenFile loads path, starting empty when the file does not exist yet.
func OpenFile(path string) (*FileStorage, error) {
	if path == "" {
		path = DefaultFile
	}
	fs := &FileStorage{path: path}
	if err := fs.Load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Load reads the file into memory.
func (fs *FileStorage) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			fs.Entries = make(map[string]string)
			return nil
		}
		return fmt.Errorf("open storage: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(fs); err != nil {
		return fmt.Errorf("decode storage: %w", err)
	}
	if fs.Entries == nil {
		fs.Entries = make(map[string]string)
	}
	return nil
}

// save writes the entries to a temp file and renames it over the target so a
// crash never leaves a half-written file. Callers hold fs.mu.
func (fs *FileStorage) save() error {
	dir := filepath.Dir(fs.path)
	tmp, err := os.CreateTemp(dir, ".cockpit-*.json")
	if err != nil {
		return fmt.Errorf("create temp storage: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := json.NewEncoder(tmp).Encode(fs); err != nil {
		tmp.Close()
		return fmt.Errorf("encode storage: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("chmod storage: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return fmt.Errorf("replace storage: %w", err)
	}
	return nil
}

func (fs *FileStorage) Get(_ context.Context, key string) (string, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	v, ok := fs.Entries[key]
	return v, ok, nil
}

func (fs *FileStorage) Set(_ context.Context, key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.Entries == nil {
		fs.Entries = make(map[string]string)
	}
	prev, had := fs.Entries[key]
	fs.Entries[key] = value
	if err := fs.save(); err != nil {
		if had {
			fs.Entries[key] = prev
		} else {
			delete(fs.Entries, key)
		}
		return err
	}
	return nil
}

func (fs *FileStorage) Remove(_ context.Context, keys ...string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	removed := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := fs.Entries[k]; ok {
			removed[k] = v
			delete(fs.Entries, k)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	if err := fs.save(); err != nil {
		for k, v := range removed {
			fs.Entries[k] = v
		}
		return err
	}
	return nil
}
