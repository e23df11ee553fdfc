package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DataPath returns the file or directory a driver keeps under dataDir, or ""
// for drivers that keep nothing on disk
func DataPath(driver, dataDir string) string {
	switch driver {
	case DriverBolt:
		return filepath.Join(dataDir, "amino.db")
	case DriverSQLite:
		return filepath.Join(dataDir, "amino.sqlite")
	case DriverFile:
		return filepath.Join(dataDir, "kv")
	default:
		return ""
	}
}

// MigrateReport summarizes a migration
type MigrateReport struct {
	Partitions map[string]int `json:"partitions"`
	Keys       int            `json:"keys"`
	Skipped    []string       `json:"skipped,omitempty"`
}

// Migrate copies every partition of src into dst. Values that are not valid
// JSON are skipped and reported. With dryRun nothing is written.
func Migrate(src, dst *Store, dryRun bool) (*MigrateReport, error) {
	logger := src.logger.With().Str("from", src.Driver()).Str("to", dst.Driver()).Logger()
	report := &MigrateReport{Partitions: make(map[string]int)}

	names, err := src.Partitions()
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	for _, name := range names {
		from := src.Partition(name)
		keys, err := from.Keys()
		if err != nil {
			return report, fmt.Errorf("failed to list keys of %s: %w", name, err)
		}

		if !dryRun {
			if err := dst.EnsurePartition(name); err != nil {
				return report, fmt.Errorf("failed to create partition %s: %w", name, err)
			}
		}

		to := dst.Partition(name)
		copied := 0
		for _, key := range keys {
			data, err := from.GetRaw(key)
			if err != nil {
				return report, fmt.Errorf("failed to read %s/%s: %w", name, key, err)
			}
			if data == nil {
				continue
			}
			if !json.Valid(data) {
				logger.Warn().Str("partition", name).Str("key", key).Msg("Skipping invalid JSON value")
				report.Skipped = append(report.Skipped, name+"/"+key)
				continue
			}
			if !dryRun {
				if err := to.SetRaw(key, data); err != nil {
					return report, err
				}
			}
			copied++
		}

		report.Partitions[name] = copied
		report.Keys += copied
		logger.Debug().Str("partition", name).Int("keys", copied).Bool("dry_run", dryRun).Msg("Partition migrated")
	}

	logger.Info().
		Int("partitions", len(report.Partitions)).
		Int("keys", report.Keys).
		Int("skipped", len(report.Skipped)).
		Bool("dry_run", dryRun).
		Msg("Migration finished")
	return report, nil
}

// BackupPath copies the file or directory at path to dst. A directory is
// copied one level deep, which is all the file driver writes.
func BackupPath(path, dst string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(path, dst)
	}

	if err := os.MkdirAll(dst, 0700); err != nil {
		return err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(path, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
