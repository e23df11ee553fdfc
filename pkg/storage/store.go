package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cuemby/amino/pkg/log"
	"github.com/cuemby/amino/pkg/metrics"
	"github.com/rs/zerolog"
)

var (
	// ErrSerialize is returned by Set when the value cannot be encoded.
	// The previously stored value for the key is left untouched.
	ErrSerialize = errors.New("storage: value serialization failed")

	// ErrNoDriver is returned by Open when every configured driver failed
	ErrNoDriver = errors.New("storage: no usable driver")
)

// Driver names, in default preference order
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// DefaultDrivers is the fallback chain used when Options.Drivers is empty
var DefaultDrivers = []string{DriverBolt, DriverSQLite, DriverFile}

// Driver is a byte-level key/value backend with named partitions.
// Get returns (nil, nil) for a missing key or partition.
type Driver interface {
	Name() string
	Get(partition, key string) ([]byte, error)
	Put(partition, key string, value []byte) error
	Delete(partition, key string) error
	Clear(partition string) error
	Keys(partition string) ([]string, error)
	CreatePartition(partition string) error
	Partitions() ([]string, error)
	DropPartition(partition string) error
	Close() error
}

// KV is the per-partition contract consumed by higher components
type KV interface {
	Get(key string, out any) (bool, error)
	Set(key string, value any) error
	Remove(key string) error
	Clear() error
	Keys() ([]string, error)
}

// Options configures Open
type Options struct {
	DataDir string
	Drivers []string
}

// Store is the persistent store. It owns a single driver selected at open
// time and hands out partitions over it.
type Store struct {
	driver Driver
	logger zerolog.Logger
}

// Open tries each configured driver in order and returns a store over the
// first one that opens successfully.
func Open(opts Options) (*Store, error) {
	logger := log.WithComponent("storage")

	drivers := opts.Drivers
	if len(drivers) == 0 {
		drivers = DefaultDrivers
	}

	var errs []error
	for _, name := range drivers {
		d, err := openDriver(name, opts.DataDir)
		if err != nil {
			logger.Warn().Err(err).Str("driver", name).Msg("Storage driver unavailable, falling back")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		logger.Info().Str("driver", name).Str("data_dir", opts.DataDir).Msg("Storage opened")
		metrics.StorageDriver.WithLabelValues(name).Set(1)
		return &Store{driver: d, logger: logger}, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrNoDriver, errors.Join(errs...))
}

// NewStore wraps an already opened driver
func NewStore(d Driver) *Store {
	return &Store{driver: d, logger: log.WithComponent("storage")}
}

func openDriver(name, dataDir string) (Driver, error) {
	switch name {
	case DriverBolt:
		return NewBoltDriver(dataDir)
	case DriverSQLite:
		return NewSQLiteDriver(dataDir)
	case DriverFile:
		return NewFileDriver(dataDir)
	case DriverMemory:
		return NewMemoryDriver(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", name)
	}
}

// Driver returns the name of the driver in use
func (s *Store) Driver() string {
	return s.driver.Name()
}

// Partition returns a handle on the named partition. Partitions are created
// lazily on first write.
func (s *Store) Partition(name string) *Partition {
	return &Partition{driver: s.driver, name: name}
}

// Partitions lists every partition name, sorted
func (s *Store) Partitions() ([]string, error) {
	names, err := s.driver.Partitions()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// PartitionsWithPrefix lists partitions whose names start with prefix
func (s *Store) PartitionsWithPrefix(prefix string) ([]string, error) {
	names, err := s.Partitions()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out, nil
}

// EnsurePartition creates the partition if it does not exist yet
func (s *Store) EnsurePartition(name string) error {
	return s.driver.CreatePartition(name)
}

// DropPartition removes a partition and every key in it
func (s *Store) DropPartition(name string) error {
	if err := s.driver.DropPartition(name); err != nil {
		return fmt.Errorf("failed to drop partition %s: %w", name, err)
	}
	return nil
}

// Close closes the underlying driver
func (s *Store) Close() error {
	return s.driver.Close()
}

// Partition is a named key namespace inside the store. Values are JSON encoded.
type Partition struct {
	driver Driver
	name   string
}

// Name returns the partition name
func (p *Partition) Name() string {
	return p.name
}

// Get decodes the value stored under key into out. It reports false when
// the key does not exist.
func (p *Partition) Get(key string, out any) (bool, error) {
	data, err := p.driver.Get(p.name, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s/%s: %w", p.name, key, err)
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s/%s: %w", p.name, key, err)
	}
	return true, nil
}

// GetRaw returns the stored bytes, or nil when the key does not exist
func (p *Partition) GetRaw(key string) ([]byte, error) {
	return p.driver.Get(p.name, key)
}

// Set encodes value and stores it under key. Encoding happens before the
// driver is touched so a failed encode never clobbers the previous value.
func (p *Partition) Set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrSerialize, p.name, key, err)
	}
	return p.SetRaw(key, data)
}

// SetRaw stores already encoded bytes under key
func (p *Partition) SetRaw(key string, data []byte) error {
	if err := p.driver.Put(p.name, key, data); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", p.name, key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (p *Partition) Remove(key string) error {
	return p.driver.Delete(p.name, key)
}

// Clear removes every key in the partition
func (p *Partition) Clear() error {
	return p.driver.Clear(p.name)
}

// Keys lists the keys in the partition
func (p *Partition) Keys() ([]string, error) {
	return p.driver.Keys(p.name)
}
