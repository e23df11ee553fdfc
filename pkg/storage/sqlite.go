package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS partitions (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS kv (
	partition  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (partition, key)
);`

// SQLiteDriver implements Driver on top of a pure Go SQLite database.
// All partitions share one kv table keyed by (partition, key).
type SQLiteDriver struct {
	db *sql.DB
}

// NewSQLiteDriver opens <dataDir>/amino.sqlite in WAL mode
func NewSQLiteDriver(dataDir string) (*SQLiteDriver, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "amino.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=1000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteDriver{db: db}, nil
}

// Name returns the driver name
func (d *SQLiteDriver) Name() string {
	return DriverSQLite
}

// Close closes the database
func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}

func (d *SQLiteDriver) Get(partition, key string) ([]byte, error) {
	var value []byte
	err := d.db.QueryRow(`SELECT value FROM kv WHERE partition = ? AND key = ?`, partition, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return value, err
}

func (d *SQLiteDriver) Put(partition, key string, value []byte) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO partitions (name) VALUES (?)`, partition); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO kv (partition, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (partition, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		partition, key, value, time.Now().UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *SQLiteDriver) Delete(partition, key string) error {
	_, err := d.db.Exec(`DELETE FROM kv WHERE partition = ? AND key = ?`, partition, key)
	return err
}

func (d *SQLiteDriver) Clear(partition string) error {
	_, err := d.db.Exec(`DELETE FROM kv WHERE partition = ?`, partition)
	return err
}

func (d *SQLiteDriver) Keys(partition string) ([]string, error) {
	rows, err := d.db.Query(`SELECT key FROM kv WHERE partition = ? ORDER BY key`, partition)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (d *SQLiteDriver) CreatePartition(partition string) error {
	_, err := d.db.Exec(`INSERT OR IGNORE INTO partitions (name) VALUES (?)`, partition)
	return err
}

func (d *SQLiteDriver) Partitions() ([]string, error) {
	rows, err := d.db.Query(`SELECT name FROM partitions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (d *SQLiteDriver) DropPartition(partition string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM kv WHERE partition = ?`, partition); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM partitions WHERE name = ?`, partition); err != nil {
		return err
	}
	return tx.Commit()
}
