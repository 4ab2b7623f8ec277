package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/hirewire/pipeline-server/internal/logger"
	"github.com/hirewire/pipeline-server/internal/model"
)

// SnapshotStore persists a capped per-user snapshot of the most recently
// fetched first page, so a restarted synchronizer can paint before the
// network responds. Snapshots are advisory: read failures of any kind are
// treated as a cache miss, never surfaced.
type SnapshotStore struct {
	dir   string
	clock func() time.Time
}

// NewSnapshotStore creates the snapshot directory if needed.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &SnapshotStore{dir: dir, clock: time.Now}, nil
}

func (s *SnapshotStore) path(userID uuid.UUID) string {
	return filepath.Join(s.dir, userID.String()+".json")
}

// Read returns the user's snapshot, or nil when there is none or it cannot
// be decoded. Corrupt files are removed so they are not re-parsed forever.
func (s *SnapshotStore) Read(userID uuid.UUID) *model.Snapshot {
	path := s.path(userID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Warnf("Discarding corrupt snapshot for user %s: %v", userID, err)
		_ = os.Remove(path)
		return nil
	}
	if snap.UserID != userID {
		return nil
	}
	return &snap
}

// Write stores at most model.SnapshotCap items plus a write timestamp.
// Write failures are logged and swallowed: the snapshot is a latency
// optimization, not a source of truth.
func (s *SnapshotStore) Write(userID uuid.UUID, items []model.TrackedCandidate) {
	if len(items) > model.SnapshotCap {
		items = items[:model.SnapshotCap]
	}
	snap := model.Snapshot{
		UserID:    userID,
		WrittenAt: s.clock(),
		Items:     items,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		logger.Warnf("Failed to encode snapshot for user %s: %v", userID, err)
		return
	}

	path := s.path(userID)
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		logger.Warnf("Failed to lock snapshot for user %s: %v", userID, err)
		return
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warnf("Failed to unlock snapshot for user %s: %v", userID, err)
		}
	}()

	// Write-then-rename keeps readers from ever seeing a torn file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		logger.Warnf("Failed to write snapshot for user %s: %v", userID, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logger.Warnf("Failed to publish snapshot for user %s: %v", userID, err)
		_ = os.Remove(tmp)
	}
}
