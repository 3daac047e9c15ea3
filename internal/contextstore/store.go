// Package contextstore keeps the short rolling log of committed operations
// per user and persists it as a single JSON document.
package contextstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dvloznov/finance-assistant/internal/domain"
)

// MaxLines is how many context lines are kept per user.
const MaxLines = 10

// userContext is the on-disk shape of one user's entry.
type userContext struct {
	RecentOperations []string `json:"recent_operations"`
}

// Store is a mutex-guarded map of user to recent context lines. Every Append
// rewrites the whole file, so concurrent appends never lose updates.
type Store struct {
	mu    sync.Mutex
	path  string
	users map[string]*userContext
	// loadErr is set when the file exists but could not be read; writes are
	// refused so the unread file is never replaced.
	loadErr error
}

// New creates an empty store bound to path. Call Load before serving.
func New(path string) *Store {
	return &Store{
		path:  path,
		users: make(map[string]*userContext),
	}
}

// Load reads the durable file. A missing file leaves the store empty. An
// unreadable or corrupt file is an ErrConfiguration, and the store then
// refuses every write until a later Load succeeds.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.loadErr = nil
		return nil
	}
	if err != nil {
		s.loadErr = fmt.Errorf("Load: reading %s: %w: %w", s.path, domain.ErrConfiguration, err)
		return s.loadErr
	}

	users := make(map[string]*userContext)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &users); err != nil {
			s.loadErr = fmt.Errorf("Load: parsing %s: %w: %w", s.path, domain.ErrConfiguration, err)
			return s.loadErr
		}
	}
	for _, uc := range users {
		if uc != nil && len(uc.RecentOperations) > MaxLines {
			uc.RecentOperations = uc.RecentOperations[len(uc.RecentOperations)-MaxLines:]
		}
	}
	s.users = users
	s.loadErr = nil
	return nil
}

// Get returns a copy of the user's lines, oldest first.
func (s *Store) Get(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	uc, ok := s.users[userID]
	if !ok || uc == nil {
		return []string{}
	}
	out := make([]string, len(uc.RecentOperations))
	copy(out, uc.RecentOperations)
	return out
}

// Append pushes line to the user's tail, keeps the last MaxLines and
// persists the store. On a persist failure the in-memory change is kept and
// the error is returned; the next successful write catches the file up.
func (s *Store) Append(userID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uc, ok := s.users[userID]
	if !ok || uc == nil {
		uc = &userContext{}
		s.users[userID] = uc
	}
	uc.RecentOperations = append(uc.RecentOperations, line)
	if len(uc.RecentOperations) > MaxLines {
		uc.RecentOperations = uc.RecentOperations[len(uc.RecentOperations)-MaxLines:]
	}

	return s.persistLocked()
}

// Flush writes the current state to disk. It is called on shutdown.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// persistLocked writes to a temp file in the same directory and renames it
// over the target. s.mu must be held.
func (s *Store) persistLocked() error {
	if s.loadErr != nil {
		return fmt.Errorf("persist: refusing to overwrite: %w", s.loadErr)
	}
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persist: creating dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("persist: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("persist: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("persist: renaming: %w", err)
	}
	return nil
}
