// Package status keeps the process-wide Sync Status Record and persists it
// to the sync_status partition.
package status

import (
	"sync"
	"time"

	"github.com/cuemby/amino/pkg/log"
	"github.com/cuemby/amino/pkg/storage"
	"github.com/cuemby/amino/pkg/types"
	"github.com/rs/zerolog"
)

// Partition holds the Sync Status Record
const Partition = "sync_status"

const recordKey = "status"

// Tracker guards the Sync Status Record. The in-progress flag lives in
// memory and is mirrored to storage on every change.
type Tracker struct {
	mu     sync.Mutex
	kv     storage.KV
	status types.SyncStatus
	logger zerolog.Logger
}

// New loads the persisted record. A record left with SyncInProgress set by a
// crashed process is reset, since no drain can be running at startup.
func New(kv storage.KV) *Tracker {
	t := &Tracker{
		kv:     kv,
		logger: log.WithComponent("status"),
		status: types.SyncStatus{ConnectionStatus: types.ConnectionOffline},
	}

	found, err := kv.Get(recordKey, &t.status)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Sync status unreadable, starting fresh")
		t.status = types.SyncStatus{ConnectionStatus: types.ConnectionOffline}
	} else if found && t.status.SyncInProgress {
		t.logger.Warn().Msg("Clearing stale sync-in-progress flag")
		t.status.SyncInProgress = false
		t.persist()
	}

	return t
}

// Get returns a copy of the current record
func (t *Tracker) Get() types.SyncStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Online reports the last recorded connectivity
func (t *Tracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.ConnectionStatus == types.ConnectionOnline
}

// TryBeginSync sets SyncInProgress and reports true, or reports false when a
// sync is already running
func (t *Tracker) TryBeginSync() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.SyncInProgress {
		return false
	}
	t.status.SyncInProgress = true
	t.persist()
	return true
}

// EndSync clears SyncInProgress and stamps LastSyncAt
func (t *Tracker) EndSync(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.SyncInProgress = false
	t.status.LastSyncAt = at
	t.persist()
}

// SetConnection records a connectivity transition and reports whether the
// state actually changed
func (t *Tracker) SetConnection(online bool, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := types.ConnectionOffline
	if online {
		next = types.ConnectionOnline
	}
	if t.status.ConnectionStatus == next {
		return false
	}

	t.status.ConnectionStatus = next
	if online {
		t.status.LastOnline = at
	} else {
		t.status.LastOffline = at
	}
	t.persist()
	return true
}

// TouchQueue stamps LastQueueUpdate
func (t *Tracker) TouchQueue(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.LastQueueUpdate = at
	t.persist()
}

// Reset clears every timestamp and the in-progress flag, keeping the
// connection state
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = types.SyncStatus{ConnectionStatus: t.status.ConnectionStatus}
	t.persist()
}

// persist must be called with mu held. Failures are logged; the in-memory
// record stays authoritative.
func (t *Tracker) persist() {
	if err := t.kv.Set(recordKey, t.status); err != nil {
		t.logger.Error().Err(err).Msg("Failed to persist sync status")
	}
}
