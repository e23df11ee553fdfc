package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/amino/pkg/events"
	"github.com/cuemby/amino/pkg/metrics"
	"github.com/cuemby/amino/pkg/types"
)

const (
	latestBackupKey = "latest"
	datedPrefix     = "backup_"
)

// DatedBackupKey returns the historical slot of a backup, keyed by UTC date
func DatedBackupKey(s *types.BackupSnapshot) string {
	return datedPrefix + s.Timestamp.UTC().Format("2006-01-02")
}

// dataset reads the full current dataset
func (m *Manager) dataset() (*types.Dataset, error) {
	members, err := m.records.AllMembers()
	if err != nil {
		return nil, fmt.Errorf("failed to read members: %w", err)
	}
	payments, err := m.records.AllPayments()
	if err != nil {
		return nil, fmt.Errorf("failed to read payments: %w", err)
	}
	activities, err := m.records.RecentActivities(m.opts.BackupActivities)
	if err != nil {
		return nil, fmt.Errorf("failed to read activities: %w", err)
	}
	settings, err := m.AllSettings()
	if err != nil {
		return nil, err
	}
	return &types.Dataset{
		Members:    members,
		Payments:   payments,
		Activities: activities,
		Settings:   settings,
	}, nil
}

// CreateBackup snapshots the dataset into the latest slot and the slot of
// the current UTC date, then prunes dated slots beyond the retention
func (m *Manager) CreateBackup(ctx context.Context) (*types.BackupSnapshot, error) {
	snap, err := m.createBackup()
	if err != nil {
		metrics.Backups.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.Backups.WithLabelValues("success").Inc()

	if m.opts.BackupRetention > 0 {
		if _, err := m.PruneBackups(m.opts.BackupRetention); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to prune backups")
		}
	}

	m.logger.Info().
		Int("members", snap.Integrity.MembersCount).
		Int("payments", snap.Integrity.PaymentsCount).
		Int("activities", snap.Integrity.ActivitiesCount).
		Msg("Backup created")
	m.broker.Publish(events.New(events.EventBackupCreated, "backup created",
		"slot", DatedBackupKey(snap),
		"members", strconv.Itoa(snap.Integrity.MembersCount),
		"payments", strconv.Itoa(snap.Integrity.PaymentsCount),
		"activities", strconv.Itoa(snap.Integrity.ActivitiesCount)))
	return snap, nil
}

func (m *Manager) createBackup() (*types.BackupSnapshot, error) {
	data, err := m.dataset()
	if err != nil {
		return nil, err
	}

	snap := &types.BackupSnapshot{
		Timestamp: m.now(),
		Version:   DataVersion,
		SessionID: m.sessionID(),
		Data:      *data,
		Integrity: types.Integrity{
			MembersCount:    len(data.Members),
			PaymentsCount:   len(data.Payments),
			ActivitiesCount: len(data.Activities),
		},
	}

	if err := m.backups.Set(latestBackupKey, snap); err != nil {
		return nil, fmt.Errorf("failed to write latest backup: %w", err)
	}
	if err := m.backups.Set(DatedBackupKey(snap), snap); err != nil {
		return nil, fmt.Errorf("failed to write dated backup: %w", err)
	}
	return snap, nil
}

// LatestBackup returns the latest backup, if any
func (m *Manager) LatestBackup() (*types.BackupSnapshot, bool, error) {
	return m.LoadBackup(latestBackupKey)
}

// LoadBackup returns a backup by slot name
func (m *Manager) LoadBackup(slot string) (*types.BackupSnapshot, bool, error) {
	var snap types.BackupSnapshot
	found, err := m.backups.Get(slot, &snap)
	if err != nil || !found {
		return nil, false, err
	}
	return &snap, true, nil
}

// RestoreBackup upserts every record of the latest backup. It returns false
// when there is no backup. Restoring twice leaves the same state.
func (m *Manager) RestoreBackup(ctx context.Context) (bool, error) {
	snap, found, err := m.LatestBackup()
	if err != nil {
		return false, fmt.Errorf("failed to read latest backup: %w", err)
	}
	if !found {
		m.logger.Warn().Msg("No backup to restore")
		return false, nil
	}

	if err := m.apply(&snap.Data); err != nil {
		return false, fmt.Errorf("restore: %w", err)
	}

	m.logger.Info().
		Time("backup_time", snap.Timestamp).
		Int("members", len(snap.Data.Members)).
		Int("payments", len(snap.Data.Payments)).
		Int("activities", len(snap.Data.Activities)).
		Msg("Backup restored")
	return true, nil
}

// apply upserts a dataset by record id and replaces the settings when the
// dataset carries them
func (m *Manager) apply(data *types.Dataset) error {
	for _, rec := range data.Members {
		if err := m.records.UpsertMember(rec); err != nil {
			return err
		}
	}
	for _, rec := range data.Payments {
		if err := m.records.UpsertPayment(rec); err != nil {
			return err
		}
	}
	for _, rec := range data.Activities {
		if err := m.records.UpsertActivity(rec); err != nil {
			return err
		}
	}
	if data.Settings != nil {
		if err := m.replaceSettings(data.Settings); err != nil {
			return err
		}
	}
	return nil
}

// ListBackups returns the dated backup slots, newest first
func (m *Manager) ListBackups() ([]string, error) {
	keys, err := m.backups.Keys()
	if err != nil {
		return nil, err
	}
	var slots []string
	for _, k := range keys {
		if strings.HasPrefix(k, datedPrefix) {
			slots = append(slots, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(slots)))
	return slots, nil
}

// PruneBackups keeps the newest keep dated slots and deletes the rest. The
// latest slot is never touched.
func (m *Manager) PruneBackups(keep int) (int, error) {
	slots, err := m.ListBackups()
	if err != nil {
		return 0, err
	}
	if keep < 0 || len(slots) <= keep {
		return 0, nil
	}

	removed := 0
	for _, slot := range slots[keep:] {
		if err := m.backups.Remove(slot); err != nil {
			return removed, err
		}
		removed++
	}
	m.logger.Debug().Int("removed", removed).Msg("Pruned old backups")
	return removed, nil
}

// ValidateDataIntegrity checks members, payments and recent activities for
// missing required fields. On a violation it runs the repairer and records
// the session as not intact; a failed repair publishes
// data.needs-attention. It returns the validity found before any repair.
func (m *Manager) ValidateDataIntegrity(ctx context.Context) (bool, error) {
	members, err := m.records.AllMembers()
	if err != nil {
		return false, err
	}
	payments, err := m.records.AllPayments()
	if err != nil {
		return false, err
	}
	activities, err := m.records.RecentActivities(m.opts.ValidateActivities)
	if err != nil {
		return false, err
	}

	valid := true
	for _, r := range members {
		valid = valid && r.Valid()
	}
	for _, r := range payments {
		valid = valid && r.Valid()
	}
	for _, r := range activities {
		valid = valid && r.Valid()
	}

	m.update(func(s *types.SessionRecord) { s.DataIntegrity = valid })
	if valid {
		metrics.UpdateComponent(metrics.ComponentData, true, "records valid")
		return true, nil
	}

	m.logger.Warn().Msg("Invalid records found, repairing")
	if err := m.repair(); err != nil {
		m.logger.Error().Err(err).Msg("Data repair failed")
		metrics.UpdateComponent(metrics.ComponentData, false, err.Error())
		m.broker.Publish(events.New(events.EventDataNeedsAttention, "data repair failed",
			"error", err.Error()))
		return false, nil
	}
	metrics.UpdateComponent(metrics.ComponentData, true, "records repaired")
	return false, nil
}

func (m *Manager) repair() error {
	r, ok := m.records.(Repairer)
	if !ok {
		return fmt.Errorf("records cannot be repaired")
	}
	removed, err := r.Cleanup()
	if err != nil {
		return err
	}
	m.logger.Info().Int("removed", removed).Msg("Repaired data")
	return nil
}

// ExportData renders the dataset as an indented export document
func (m *Manager) ExportData(ctx context.Context) ([]byte, error) {
	data, err := m.dataset()
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	doc := types.ExportDocument{
		ExportDate: m.now(),
		Version:    DataVersion,
		SessionID:  m.sessionID(),
		Data:       data,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ImportData applies an export document by record id and takes a backup
// afterwards. Documents that do not parse or lack data return false with
// ErrInvalidDocument.
func (m *Manager) ImportData(ctx context.Context, raw []byte) (bool, error) {
	var doc types.ExportDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if doc.Data == nil {
		return false, fmt.Errorf("%w: missing data section", ErrInvalidDocument)
	}

	if err := m.apply(doc.Data); err != nil {
		return false, fmt.Errorf("import: %w", err)
	}

	m.logger.Info().
		Str("source_session", doc.SessionID).
		Int("members", len(doc.Data.Members)).
		Int("payments", len(doc.Data.Payments)).
		Int("activities", len(doc.Data.Activities)).
		Msg("Data imported")

	if _, err := m.CreateBackup(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Backup after import failed")
	}
	return true, nil
}
