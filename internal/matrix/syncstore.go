package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

type syncState struct {
	FilterID  string `json:"filter_id,omitempty"`
	NextBatch string `json:"next_batch,omitempty"`
}

// FileSyncStore implements mautrix.SyncStore on a JSON file so the bot
// resumes from its last sync position after a restart.
type FileSyncStore struct {
	mu    sync.Mutex
	path  string
	state map[string]syncState
}

// NewFileSyncStore loads path, treating a missing file as empty.
func NewFileSyncStore(path string) (*FileSyncStore, error) {
	s := &FileSyncStore{path: path, state: make(map[string]syncState)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("NewFileSyncStore: reading %s: %w", path, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.state); err != nil {
			return nil, fmt.Errorf("NewFileSyncStore: parsing %s: %w", path, err)
		}
	}
	return s, nil
}

// SaveFilterID implements mautrix.SyncStore.
func (s *FileSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.update(userID, func(st *syncState) { st.FilterID = filterID })
}

// LoadFilterID implements mautrix.SyncStore.
func (s *FileSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[userID.String()].FilterID, nil
}

// SaveNextBatch implements mautrix.SyncStore.
func (s *FileSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.update(userID, func(st *syncState) { st.NextBatch = nextBatchToken })
}

// LoadNextBatch implements mautrix.SyncStore.
func (s *FileSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[userID.String()].NextBatch, nil
}

func (s *FileSyncStore) update(userID id.UserID, fn func(*syncState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state[userID.String()]
	fn(&st)
	s.state[userID.String()] = st

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("update: encoding: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("update: creating dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("update: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("update: renaming: %w", err)
	}
	return nil
}

var _ mautrix.SyncStore = (*FileSyncStore)(nil)
