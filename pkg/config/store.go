package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// schemaVersion is written into every config file.
const schemaVersion = 1

// Store persists section values keyed by section id.
type Store interface {
	Load() error
	Save() error
	GetSection(sectionID string) (map[string]interface{}, error)
	SetSection(sectionID string, data map[string]interface{}) error
}

// fileLayout is the on-disk shape of a config file.
type fileLayout struct {
	Schema   int                               `json:"schema"`
	Sections map[string]map[string]interface{} `json:"sections"`
}

// FileStore keeps sections in one JSON file. The file may hold the records
// access token, so it is written owner-readable only.
type FileStore struct {
	path string

	mu       sync.RWMutex
	sections map[string]map[string]interface{}
}

// DefaultPath is ~/.claimbridge/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".claimbridge", "config.json"), nil
}

// NewFileStore opens the store at path, or at DefaultPath when path is
// empty. A missing file is an empty store.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	s := &FileStore{path: path, sections: map[string]map[string]interface{}{}}
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return s, nil
}

// Load replaces the in-memory sections with the file contents.
func (s *FileStore) Load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		s.sections = map[string]map[string]interface{}{}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var layout fileLayout
	if err := json.Unmarshal(raw, &layout); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	if layout.Schema > schemaVersion {
		return fmt.Errorf("config schema %d is newer than supported %d", layout.Schema, schemaVersion)
	}
	if layout.Sections == nil {
		layout.Sections = map[string]map[string]interface{}{}
	}

	s.mu.Lock()
	s.sections = layout.Sections
	s.mu.Unlock()
	return nil
}

// Save writes the sections through a temp file in the same directory and
// renames it into place.
func (s *FileStore) Save() error {
	s.mu.RLock()
	raw, err := json.MarshalIndent(fileLayout{Schema: schemaVersion, Sections: s.sections}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict config file: %w", err)
	}
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// GetSection returns a copy of a section's values; unknown ids are empty.
func (s *FileStore) GetSection(sectionID string) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyValues(s.sections[sectionID]), nil
}

// SetSection stores a copy of data under sectionID.
func (s *FileStore) SetSection(sectionID string, data map[string]interface{}) error {
	if sectionID == "" {
		return errors.New("section id cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections[sectionID] = copyValues(data)
	return nil
}

// Path returns the file backing the store.
func (s *FileStore) Path() string {
	return s.path
}

func copyValues(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
