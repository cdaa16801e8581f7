package vault

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCatalogPersistLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.json")

	c := &catalog{path: path, records: make(map[string]VaultRecord)}
	c.records["abc123"] = VaultRecord{
		Image: VMImage{
			ImagePath:       "/cache/images/bionic-20190101/b.img",
			KernelPath:      "/cache/images/bionic-20190101/vmlinuz",
			ID:              "abc123",
			OriginalRelease: "bionic",
			CurrentRelease:  "bionic",
			ReleaseDate:     "20190101",
			Aliases:         []string{"bionic", "18.04"},
		},
		Query: Query{
			Release:    "bionic",
			Persistent: true,
			RemoteName: "release",
			Type:       QueryTypeAlias,
		},
		LastAccessed: time.Unix(1700000000, 0),
	}

	require.NoError(t, c.persist())

	loaded := loadCatalog(path)
	require.Len(t, loaded.records, 1)

	got := loaded.records["abc123"]
	want := c.records["abc123"]
	require.Equal(t, want.Image, got.Image)
	require.Equal(t, want.Query, got.Query)
	require.True(t, want.LastAccessed.Equal(got.LastAccessed))
}

func TestCatalogLoadMissingFileIsEmpty(t *testing.T) {
	c := loadCatalog(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Empty(t, c.records)
}

func TestCatalogLoadMalformedFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"abc":{"image":{}}}`), 0o644))

	c := loadCatalog(path)
	require.Empty(t, c.records)
}

func TestCatalogLoadFallsBackToLegacyTypeField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.json")
	legacy := `{
		"k1": {
			"image": {"path": "/a/b.img"},
			"query": {"release": "bionic", "type": 0},
			"last_accessed": 1700000000000000000
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	c := loadCatalog(path)
	require.Len(t, c.records, 1)
	require.Equal(t, QueryTypeAlias, c.records["k1"].Query.Type)
}

func TestCatalogPersistIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.json")
	c := &catalog{path: path, records: map[string]VaultRecord{
		"k": {Image: VMImage{ImagePath: "/x"}, Query: Query{Type: QueryTypeAlias}, LastAccessed: time.Now()},
	}}
	require.NoError(t, c.persist())

	_, err := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err), "temp file must not survive a successful persist")

	_, err = os.Stat(path)
	require.NoError(t, err)
}
