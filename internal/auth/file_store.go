package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists session state as a JSON document on disk. The file is
// written atomically and kept owner-readable only.
type FileStore struct {
	mu   sync.Mutex
	path string
}

type fileState struct {
	Session     *StoredSession `json:"session,omitempty"`
	PendingCode string         `json:"pending_code,omitempty"`
}

// NewFileStore creates a FileStore rooted at path. Parent directories are
// created on first write, not here.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the persisted session. A missing or unparseable file reads as
// no session.
func (s *FileStore) Load(_ context.Context) (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.read()
	return state.Session, nil
}

// Save persists the session, preserving any stashed pending code.
func (s *FileStore) Save(_ context.Context, session StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.read()
	state.Session = &session
	return s.write(state)
}

// Clear removes the persisted session. A stashed pending code is left in
// place for the next sign-in attempt to consume.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.read()
	if state.PendingCode == "" {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clear session file: %w", err)
		}
		return nil
	}
	state.Session = nil
	return s.write(state)
}

// SavePendingCode stashes an authorization code alongside the session state.
func (s *FileStore) SavePendingCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.read()
	state.PendingCode = code
	return s.write(state)
}

// TakePendingCode returns and removes the stashed code.
func (s *FileStore) TakePendingCode(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.read()
	if state.PendingCode == "" {
		return "", nil
	}
	code := state.PendingCode
	state.PendingCode = ""
	if err := s.write(state); err != nil {
		return "", err
	}
	return code, nil
}

// read loads the state file, degrading corrupt or missing data to an empty
// state so a damaged file never wedges the sign-in flow.
func (s *FileStore) read() fileState {
	var state fileState
	data, err := os.ReadFile(s.path)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return fileState{}
	}
	return state
}

func (s *FileStore) write(state fileState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
