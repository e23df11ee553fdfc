package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
)

// BoltDriver implements Driver using BoltDB. Each partition is a bucket.
type BoltDriver struct {
	db *bolt.DB
}

// NewBoltDriver opens <dataDir>/amino.db. Opening fails after one second if
// another process holds the file lock, which lets Open fall back.
func NewBoltDriver(dataDir string) (*BoltDriver, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "amino.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &BoltDriver{db: db}, nil
}

// Name returns the driver name
func (d *BoltDriver) Name() string {
	return DriverBolt
}

// Close closes the database
func (d *BoltDriver) Close() error {
	return d.db.Close()
}

func (d *BoltDriver) Get(partition, key string) ([]byte, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		// Bolt memory is only valid for the life of the transaction
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

func (d *BoltDriver) Put(partition, key string, value []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(partition))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", partition, err)
		}
		return b.Put([]byte(key), value)
	})
}

func (d *BoltDriver) Delete(partition, key string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Clear empties the bucket but keeps it, so the partition stays listed
func (d *BoltDriver) Clear(partition string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(partition)); err != nil && !errors.Is(err, bolterrors.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket([]byte(partition))
		return err
	})
}

func (d *BoltDriver) Keys(partition string) ([]string, error) {
	var keys []string
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (d *BoltDriver) CreatePartition(partition string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(partition))
		return err
	})
}

func (d *BoltDriver) Partitions() ([]string, error) {
	var names []string
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

func (d *BoltDriver) DropPartition(partition string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(partition))
		if errors.Is(err, bolterrors.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}
