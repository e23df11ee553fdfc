package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/amino/pkg/coalescer"
	"github.com/cuemby/amino/pkg/events"
	"github.com/cuemby/amino/pkg/lifecycle"
	"github.com/cuemby/amino/pkg/log"
	"github.com/cuemby/amino/pkg/storage"
	"github.com/cuemby/amino/pkg/types"
	"github.com/rs/zerolog"
)

// Partition names and keys
const (
	SessionPartition  = "session"
	SettingsPartition = "settings"
	BackupsPartition  = "backups"

	sessionKey = "current"
)

// DataVersion is stamped on sessions, settings, backups and exports
const DataVersion = "1.0.0"

var (
	// ErrInvalidDocument is returned by ImportData for documents without data
	ErrInvalidDocument = errors.New("invalid import document")

	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("session already started")
)

// Records is the dataset the manager backs up and restores
type Records interface {
	AllMembers() ([]*types.Member, error)
	AllPayments() ([]*types.Payment, error)
	RecentActivities(limit int) ([]*types.Activity, error)
	UpsertMember(m *types.Member) error
	UpsertPayment(p *types.Payment) error
	UpsertActivity(a *types.Activity) error
}

// Repairer fixes structurally invalid records
type Repairer interface {
	Cleanup() (int, error)
}

// Syncer is started when connectivity returns
type Syncer interface {
	HandleOnline(ctx context.Context)
}

// Options tunes the manager
type Options struct {
	// SaveInterval is the period of the session heartbeat
	SaveInterval time.Duration

	// BackupRetention is the number of dated backups kept. 0 keeps all.
	BackupRetention int

	// BackupActivities caps the activities captured by a backup or export
	BackupActivities int

	// ValidateActivities is the number of recent activities checked by
	// ValidateDataIntegrity
	ValidateActivities int
}

// DefaultOptions returns a 30s heartbeat, 14 dated backups, 1000 activities
// per backup and 100 validated activities
func DefaultOptions() Options {
	return Options{
		SaveInterval:       30 * time.Second,
		BackupRetention:    14,
		BackupActivities:   1000,
		ValidateActivities: 100,
	}
}

// Manager owns the session record, settings and backups
type Manager struct {
	records  Records
	sessions *coalescer.Coalescer
	settings *storage.Partition
	backups  *storage.Partition
	broker   *events.Broker
	hooks    *lifecycle.Hooks
	syncer   Syncer
	opts     Options
	logger   zerolog.Logger

	mu      sync.Mutex
	current types.SessionRecord
	started bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// New creates a manager. sessions must be the coalescer of the session
// partition. hooks and syncer may be nil.
func New(store *storage.Store, records Records, sessions *coalescer.Coalescer, broker *events.Broker, hooks *lifecycle.Hooks, syncer Syncer, opts Options) *Manager {
	def := DefaultOptions()
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = def.SaveInterval
	}
	if opts.BackupRetention < 0 {
		opts.BackupRetention = 0
	}
	if opts.BackupActivities <= 0 {
		opts.BackupActivities = def.BackupActivities
	}
	if opts.ValidateActivities <= 0 {
		opts.ValidateActivities = def.ValidateActivities
	}

	return &Manager{
		records:  records,
		sessions: sessions,
		settings: store.Partition(SettingsPartition),
		backups:  store.Partition(BackupsPartition),
		broker:   broker,
		hooks:    hooks,
		syncer:   syncer,
		opts:     opts,
		logger:   log.WithComponent("session"),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// newSessionID returns session_<unix ms>_<9 random base36 chars>
func newSessionID(now time.Time) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + string(suffix)
}

// Start opens a new session, persists it, takes a backup, registers the
// lifecycle hooks and starts the heartbeat
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true

	now := m.now()
	m.current = types.SessionRecord{
		SessionID:     newSessionID(now),
		StartTime:     now,
		LastActivity:  now,
		IsActive:      true,
		DataIntegrity: true,
		Version:       DataVersion,
	}
	m.logger = log.WithSessionID(m.current.SessionID)
	m.sessions.SetItem(sessionKey, m.current)
	m.mu.Unlock()

	m.sessions.Flush()

	if _, err := m.CreateBackup(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Initial backup failed")
	}

	m.registerHooks()

	m.wg.Add(1)
	go m.heartbeat()

	m.logger.Info().Dur("save_interval", m.opts.SaveInterval).Msg("Session started")
	return nil
}

func (m *Manager) registerHooks() {
	if m.hooks == nil {
		return
	}
	m.hooks.OnHidden(func(ctx context.Context) {
		m.SaveSession()
		if _, err := m.CreateBackup(ctx); err != nil {
			m.logger.Error().Err(err).Msg("Backup on hide failed")
		}
	})
	m.hooks.OnVisible(func(ctx context.Context) {
		m.TouchActivity()
		if _, err := m.ValidateDataIntegrity(ctx); err != nil {
			m.logger.Error().Err(err).Msg("Integrity check failed")
		}
	})
	if m.syncer != nil {
		m.hooks.OnOnline(m.syncer.HandleOnline)
	}
}

func (m *Manager) heartbeat() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.SaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.SaveSession()
		case <-m.stopCh:
			return
		}
	}
}

// SaveSession bumps the last activity time and the save count
func (m *Manager) SaveSession() {
	m.update(func(s *types.SessionRecord) { s.SaveCount++ })
}

// TouchActivity bumps the last activity time
func (m *Manager) TouchActivity() {
	m.update(nil)
}

// update applies fn and advances LastActivity, which never moves backwards
func (m *Manager) update(fn func(*types.SessionRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.SessionID == "" {
		return
	}
	if now := m.now(); now.After(m.current.LastActivity) {
		m.current.LastActivity = now
	}
	if fn != nil {
		fn(&m.current)
	}
	m.sessions.SetItem(sessionKey, m.current)
}

// Session returns a copy of the current session record
func (m *Manager) Session() types.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) sessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.SessionID
}

// Stats summarizes the session
type Stats struct {
	SessionID       string `json:"sessionId"`
	DurationMinutes int    `json:"duration"`
	IdleMinutes     int    `json:"lastActivity"`
	SaveCount       int    `json:"saveCount"`
	IsActive        bool   `json:"isActive"`
	DataIntegrity   bool   `json:"dataIntegrity"`
}

// Stats returns session age and idle time in whole minutes
func (m *Manager) Stats() (Stats, bool) {
	s := m.Session()
	if s.SessionID == "" {
		return Stats{}, false
	}
	now := m.now()
	return Stats{
		SessionID:       s.SessionID,
		DurationMinutes: int(now.Sub(s.StartTime) / time.Minute),
		IdleMinutes:     int(now.Sub(s.LastActivity) / time.Minute),
		SaveCount:       s.SaveCount,
		IsActive:        s.IsActive,
		DataIntegrity:   s.DataIntegrity,
	}, true
}

// ForceSave saves the session and takes a backup
func (m *Manager) ForceSave(ctx context.Context) error {
	m.SaveSession()
	m.sessions.Flush()
	if _, err := m.CreateBackup(ctx); err != nil {
		return fmt.Errorf("force save: %w", err)
	}
	return nil
}

// Shutdown stops the heartbeat, marks the session inactive and flushes it
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.update(func(s *types.SessionRecord) {
		s.IsActive = false
		s.SaveCount++
	})
	m.sessions.Flush()
	m.logger.Info().Msg("Session closed")
}
