package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) *Store {
	t.Helper()
	src := NewStore(NewMemoryDriver())
	require.NoError(t, src.Partition("members").Set("m1", record{Name: "alice", Count: 1}))
	require.NoError(t, src.Partition("members").Set("m2", record{Name: "bob", Count: 2}))
	require.NoError(t, src.Partition("cache/amino-gym-api-v4").Set("GET http://x/api", record{Name: "api"}))
	require.NoError(t, src.Partition("members").SetRaw("broken", []byte("{not json")))
	return src
}

func TestMigrate(t *testing.T) {
	src := seedStore(t)
	fd, err := NewFileDriver(t.TempDir())
	require.NoError(t, err)
	dst := NewStore(fd)
	defer dst.Close()

	report, err := Migrate(src, dst, false)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Keys)
	assert.Equal(t, map[string]int{"members": 2, "cache/amino-gym-api-v4": 1}, report.Partitions)
	assert.Equal(t, []string{"members/broken"}, report.Skipped)

	var out record
	found, err := dst.Partition("members").Get("m2", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "bob", out.Name)

	found, err = dst.Partition("cache/amino-gym-api-v4").Get("GET http://x/api", &out)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMigrateDryRunWritesNothing(t *testing.T) {
	src := seedStore(t)
	dst := NewStore(NewMemoryDriver())

	report, err := Migrate(src, dst, true)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Keys)

	names, err := dst.Partitions()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestBackupPath(t *testing.T) {
	dir := t.TempDir()

	file := filepath.Join(dir, "amino.db")
	require.NoError(t, os.WriteFile(file, []byte("db"), 0600))
	require.NoError(t, BackupPath(file, file+".backup"))
	data, err := os.ReadFile(file + ".backup")
	require.NoError(t, err)
	assert.Equal(t, "db", string(data))

	kv := filepath.Join(dir, "kv")
	require.NoError(t, os.MkdirAll(kv, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(kv, "members.json"), []byte("{}"), 0600))
	require.NoError(t, BackupPath(kv, kv+".backup"))
	data, err = os.ReadFile(filepath.Join(kv+".backup", "members.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	assert.Error(t, BackupPath(filepath.Join(dir, "missing"), filepath.Join(dir, "x")))
}

func TestDataPath(t *testing.T) {
	assert.Equal(t, filepath.Join("d", "amino.db"), DataPath(DriverBolt, "d"))
	assert.Equal(t, filepath.Join("d", "amino.sqlite"), DataPath(DriverSQLite, "d"))
	assert.Equal(t, filepath.Join("d", "kv"), DataPath(DriverFile, "d"))
	assert.Empty(t, DataPath(DriverMemory, "d"))
}
