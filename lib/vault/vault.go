package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// Vault is a content-addressed cache of VM images, fetched from one or more
// ImageHosts and materialized per-instance on demand.
type Vault struct {
	paths      *Paths
	registry   *hostRegistry
	downloader URLDownloader
	xz         XzDecoder
	policy     Policy
	expiry     time.Duration
	logger     *slog.Logger
	metrics    *Metrics

	mu        sync.Mutex
	images    *catalog
	instances *catalog

	sf       singleflight.Group
	inFlight map[string]bool
}

// NewVault constructs a Vault rooted at paths, resolving aliases against
// hosts. downloader, xz, and policy fall back to their defaults when nil.
func NewVault(
	paths *Paths,
	hosts []ImageHost,
	downloader URLDownloader,
	xz XzDecoder,
	policy Policy,
	expiry time.Duration,
	logger *slog.Logger,
	meter metric.Meter,
) (*Vault, error) {
	if downloader == nil {
		downloader = NewHTTPDownloader(30 * time.Minute)
	}
	if xz == nil {
		xz = NewXzDecoder()
	}
	if policy == nil {
		policy = AllowAllPolicy{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("create vault metrics: %w", err)
	}

	return &Vault{
		paths:      paths,
		registry:   newHostRegistry(hosts),
		downloader: downloader,
		xz:         xz,
		policy:     policy,
		expiry:     expiry,
		logger:     logger,
		metrics:    metrics,
		images:     loadCatalog(paths.ImageRecordsFile()),
		instances:  loadCatalog(paths.InstanceRecordsFile()),
		inFlight:   make(map[string]bool),
	}, nil
}

// HasRecordFor reports whether an instance record exists for name.
func (v *Vault) HasRecordFor(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.instances.records[name]
	return ok
}

// Remove deletes the named instance's materialized image and its catalog
// entry. It is a no-op if no record exists for name.
func (v *Vault) Remove(name string) error {
	v.mu.Lock()
	_, ok := v.instances.records[name]
	v.mu.Unlock()
	if !ok {
		return nil
	}

	if err := os.RemoveAll(v.paths.InstanceDir(name)); err != nil {
		v.logger.Warn("remove instance directory", "name", name, "error", err)
	}

	v.mu.Lock()
	delete(v.instances.records, name)
	err := v.instances.persist()
	v.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrCatalog, err)
	}
	return nil
}

// PruneExpiredImages removes prepared, non-persistent alias images whose
// last access is older than the configured expiry. Images fetched by URL
// or local path, and images backing any Query.Persistent alias, are never
// pruned.
func (v *Vault) PruneExpiredImages() {
	v.mu.Lock()
	now := now()
	var expired []string
	for key, rec := range v.images.records {
		if rec.Query.Type == QueryTypeAlias && !rec.Query.Persistent && now.Sub(rec.LastAccessed) >= v.expiry {
			expired = append(expired, key)
		}
	}
	v.mu.Unlock()

	for _, key := range expired {
		v.mu.Lock()
		rec, ok := v.images.records[key]
		v.mu.Unlock()
		if !ok {
			continue
		}

		v.logger.Info("source image expired, removing from cache", "release", rec.Query.Release)
		if rec.Image.ImagePath != "" {
			if err := os.RemoveAll(filepath.Dir(rec.Image.ImagePath)); err != nil {
				v.logger.Warn("remove expired image directory", "release", rec.Query.Release, "error", err)
			}
		}

		v.mu.Lock()
		delete(v.images.records, key)
		v.mu.Unlock()
	}

	if len(expired) == 0 {
		return
	}

	v.mu.Lock()
	err := v.images.persist()
	v.mu.Unlock()
	if err != nil {
		v.logger.Error("persist image records after prune", "error", err)
	}
}

// UpdateImages re-fetches every cached alias image whose host now reports a
// different id than the one it was cached under.
func (v *Vault) UpdateImages(ctx context.Context, fetchType FetchType, prepare PrepareAction, monitor ProgressMonitor) {
	v.mu.Lock()
	snapshot := make(map[string]VaultRecord, len(v.images.records))
	for key, rec := range v.images.records {
		snapshot[key] = rec
	}
	v.mu.Unlock()

	for key, rec := range snapshot {
		if rec.Query.Type != QueryTypeAlias {
			continue
		}

		info, err := v.registry.infoFor(ctx, rec.Query)
		if err != nil {
			v.logger.Warn("resolve alias while checking for updates", "release", rec.Query.Release, "error", err)
			continue
		}
		if info.ID == key {
			continue
		}

		v.logger.Info("updating source image to latest", "release", rec.Query.Release)
		if _, err := v.FetchImage(ctx, fetchType, rec.Query, prepare, monitor); err != nil {
			v.logger.Error("update image", "release", rec.Query.Release, "error", err)
		}
	}
}

func (v *Vault) recordFetch(ctx context.Context, branch string, start time.Time, err error) {
	v.metrics.recordFetch(ctx, branch, time.Since(start), err)
}

var errUnknownQueryType = errors.New("vault: unknown query type")
