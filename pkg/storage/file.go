package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileDriver keeps one JSON document per partition under <dataDir>/kv.
// It is the last on-disk fallback and trades speed for having no locking
// or native dependencies.
type FileDriver struct {
	mu  sync.Mutex
	dir string
}

// NewFileDriver prepares <dataDir>/kv and verifies it is writable
func NewFileDriver(dataDir string) (*FileDriver, error) {
	dir := filepath.Join(dataDir, "kv")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create kv directory: %w", err)
	}

	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("kv directory not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())

	return &FileDriver{dir: dir}, nil
}

// Name returns the driver name
func (d *FileDriver) Name() string {
	return DriverFile
}

// Close is a no-op, every write is already on disk
func (d *FileDriver) Close() error {
	return nil
}

func (d *FileDriver) path(partition string) string {
	return filepath.Join(d.dir, url.PathEscape(partition)+".json")
}

func (d *FileDriver) load(partition string) (map[string]json.RawMessage, bool, error) {
	data, err := os.ReadFile(d.path(partition))
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	m := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, false, fmt.Errorf("corrupt partition file %s: %w", partition, err)
		}
	}
	return m, true, nil
}

// save writes through a temp file and rename so a crash never leaves a
// half written partition behind
func (d *FileDriver) save(partition string, m map[string]json.RawMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), d.path(partition))
}

func (d *FileDriver) Get(partition, key string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, _, err := d.load(partition)
	if err != nil {
		return nil, err
	}
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (d *FileDriver) Put(partition, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("file driver stores JSON values only")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	m, _, err := d.load(partition)
	if err != nil {
		return err
	}
	m[key] = append(json.RawMessage(nil), value...)
	return d.save(partition, m)
}

func (d *FileDriver) Delete(partition, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, exists, err := d.load(partition)
	if err != nil || !exists {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return d.save(partition, m)
}

func (d *FileDriver) Clear(partition string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, exists, err := d.load(partition)
	if err != nil || !exists {
		return err
	}
	return d.save(partition, map[string]json.RawMessage{})
}

func (d *FileDriver) Keys(partition string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, _, err := d.load(partition)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *FileDriver) CreatePartition(partition string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, exists, err := d.load(partition)
	if err != nil || exists {
		return err
	}
	return d.save(partition, map[string]json.RawMessage{})
}

func (d *FileDriver) Partitions() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, ".json") {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(n, ".json"))
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (d *FileDriver) DropPartition(partition string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := os.Remove(d.path(partition))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryDriver keeps everything in process memory. Used by tests and as an
// explicit "memory" driver for throwaway runs.
type MemoryDriver struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryDriver creates an empty in-memory driver
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{data: make(map[string]map[string][]byte)}
}

// Name returns the driver name
func (d *MemoryDriver) Name() string {
	return DriverMemory
}

func (d *MemoryDriver) Close() error {
	return nil
}

func (d *MemoryDriver) Get(partition, key string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	v, ok := d.data[partition][key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (d *MemoryDriver) Put(partition, key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.data[partition]
	if !ok {
		p = make(map[string][]byte)
		d.data[partition] = p
	}
	p[key] = append([]byte(nil), value...)
	return nil
}

func (d *MemoryDriver) Delete(partition, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.data[partition], key)
	return nil
}

func (d *MemoryDriver) Clear(partition string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.data[partition]; ok {
		d.data[partition] = make(map[string][]byte)
	}
	return nil
}

func (d *MemoryDriver) Keys(partition string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.data[partition]))
	for k := range d.data[partition] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *MemoryDriver) CreatePartition(partition string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.data[partition]; !ok {
		d.data[partition] = make(map[string][]byte)
	}
	return nil
}

func (d *MemoryDriver) Partitions() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.data))
	for n := range d.data {
		names = append(names, n)
	}
	return names, nil
}

func (d *MemoryDriver) DropPartition(partition string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.data, partition)
	return nil
}
