package vault

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths lays out the vault's on-disk footprint: prepared images live under
// a cache root (safe to lose), instances under a data root (not safe to
// lose).
type Paths struct {
	CacheDir     string
	DataDir      string
	ImagesDir    string
	InstancesDir string
}

// NewPaths creates (if missing) and returns the vault's directory layout
// rooted at cacheRoot and dataRoot.
func NewPaths(cacheRoot, dataRoot string) (*Paths, error) {
	cacheDir := filepath.Join(cacheRoot, "vault")
	dataDir := filepath.Join(dataRoot, "vault")
	p := &Paths{
		CacheDir:     cacheDir,
		DataDir:      dataDir,
		ImagesDir:    filepath.Join(cacheDir, "images"),
		InstancesDir: filepath.Join(dataDir, "instances"),
	}
	for _, dir := range []string{p.ImagesDir, p.InstancesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create vault directory %s: %w", dir, err)
		}
	}
	return p, nil
}

// ImageRecordsFile is where the prepared-image catalog is persisted.
func (p *Paths) ImageRecordsFile() string {
	return filepath.Join(p.CacheDir, "multipassd-image-records.json")
}

// InstanceRecordsFile is where the per-instance catalog is persisted.
func (p *Paths) InstanceRecordsFile() string {
	return filepath.Join(p.DataDir, "multipassd-instance-image-records.json")
}

// InstanceDir returns the directory an instance's materialized image lives
// under.
func (p *Paths) InstanceDir(name string) string {
	return filepath.Join(p.InstancesDir, name)
}
