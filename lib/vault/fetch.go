package vault

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FetchImage resolves query to a ready-to-boot VMImage, dispatching to one
// of the three branches described by query.Type. A known instance name is
// served straight from instances_db with no I/O.
func (v *Vault) FetchImage(ctx context.Context, fetchType FetchType, query Query, prepare PrepareAction, monitor ProgressMonitor) (VMImage, error) {
	if prepare == nil {
		prepare = func(img VMImage) (VMImage, error) { return img, nil }
	}

	if query.Name != "" {
		v.mu.Lock()
		rec, ok := v.instances.records[query.Name]
		v.mu.Unlock()
		if ok {
			return rec.Image, nil
		}
	}

	start := time.Now()
	var branch string
	var img VMImage
	var err error

	switch query.Type {
	case QueryTypeAlias:
		branch = "alias"
		img, err = v.fetchAlias(ctx, fetchType, query, prepare, monitor)
	case QueryTypeHttpUrl:
		branch = "http_url"
		img, err = v.fetchHttpUrl(ctx, fetchType, query, prepare, monitor)
	case QueryTypeLocalFile:
		branch = "local_file"
		img, err = v.fetchLocalFile(ctx, fetchType, query, prepare, monitor)
	default:
		branch = "unknown"
		err = errUnknownQueryType
	}

	v.recordFetch(ctx, branch, start, err)
	return img, err
}

// fetchLocalFile implements spec branch A: the source is already on disk,
// so it is extracted or copied straight into the instance directory with
// no prepared-catalog entry at all.
func (v *Vault) fetchLocalFile(ctx context.Context, fetchType FetchType, query Query, prepare PrepareAction, monitor ProgressMonitor) (VMImage, error) {
	if !v.policy.IsImageURLSupported() {
		return VMImage{}, ErrUnsupportedScheme
	}

	path := localFilePath(query.Release)
	if _, err := os.Stat(path); err != nil {
		return VMImage{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	if query.Name == "" {
		return VMImage{ImagePath: path, OriginalRelease: query.Release, CurrentRelease: query.Release}, nil
	}

	dir := v.paths.InstanceDir(query.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return VMImage{}, fmt.Errorf("create instance directory: %w", err)
	}

	var imagePath string
	var guard *deleteGuard
	if strings.HasSuffix(path, ".xz") {
		imagePath = filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), ".xz"))
		guard = guardFile(imagePath)
		if err := v.xz.DecodeTo(path, imagePath, monitor); err != nil {
			guard.release()
			return VMImage{}, err
		}
	} else {
		imagePath = filepath.Join(dir, filepath.Base(path))
		guard = guardFile(imagePath)
		if err := copyFile(path, imagePath); err != nil {
			guard.release()
			return VMImage{}, fmt.Errorf("copy local image: %w", err)
		}
	}
	defer guard.release()

	source := VMImage{ImagePath: imagePath, OriginalRelease: query.Release, CurrentRelease: query.Release}

	var kernelGuard, initrdGuard *deleteGuard
	if fetchType == FetchTypeImageKernelAndInitrd {
		kernelPath, initrdPath, kg, ig, err := v.downloadKernelAndInitrd(ctx, dir, query, monitor)
		if err != nil {
			return VMImage{}, err
		}
		source.KernelPath, source.InitrdPath = kernelPath, initrdPath
		kernelGuard, initrdGuard = kg, ig
	}
	if kernelGuard != nil {
		defer kernelGuard.release()
	}
	if initrdGuard != nil {
		defer initrdGuard.release()
	}

	prepared, err := prepare(source)
	if err != nil {
		return VMImage{}, fmt.Errorf("prepare image: %w", err)
	}

	guard.disarm()
	if kernelGuard != nil {
		kernelGuard.disarm()
	}
	if initrdGuard != nil {
		initrdGuard.disarm()
	}
	removeSourceLeftovers(source, prepared)

	v.mu.Lock()
	v.instances.records[query.Name] = VaultRecord{Image: prepared, Query: query, LastAccessed: now()}
	persistErr := v.instances.persist()
	v.mu.Unlock()
	if persistErr != nil {
		return VMImage{}, fmt.Errorf("%w: %v", ErrCatalog, persistErr)
	}

	return prepared, nil
}

// fetchHttpUrl implements spec branch B: a prepared-catalog entry keyed by
// the SHA-256 of the URL bytes, refreshed only when the remote's
// Last-Modified timestamp moves.
func (v *Vault) fetchHttpUrl(ctx context.Context, fetchType FetchType, query Query, prepare PrepareAction, monitor ProgressMonitor) (VMImage, error) {
	if !v.policy.IsImageURLSupported() {
		return VMImage{}, ErrUnsupportedScheme
	}

	url := query.Release
	key := sha256Hex([]byte(url))

	lastModified, _, err := v.downloader.LastModified(ctx, url)
	if err != nil {
		return VMImage{}, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	v.mu.Lock()
	rec, ok := v.images.records[key]
	v.mu.Unlock()

	if ok && rec.Image.ReleaseDate == lastModified {
		v.mu.Lock()
		rec.LastAccessed = now()
		v.images.records[key] = rec
		v.mu.Unlock()
		return v.finalizeImageRecords(query, rec.Image)
	}

	dateDir := lastModified
	if t, err := http.ParseTime(lastModified); err == nil {
		dateDir = t.Format("20060102")
	}
	imageDir := filepath.Join(v.paths.ImagesDir, fmt.Sprintf("%s-%s", imageBaseName(url), dateDir))

	prepared, err := v.buildHttpImage(ctx, fetchType, query, url, lastModified, imageDir, prepare, monitor)
	if err != nil {
		return VMImage{}, &CreateImageError{Cause: err}
	}

	v.mu.Lock()
	v.images.records[key] = VaultRecord{Image: prepared, Query: query, LastAccessed: now()}
	v.mu.Unlock()

	return v.finalizeImageRecords(query, prepared)
}

func (v *Vault) buildHttpImage(ctx context.Context, fetchType FetchType, query Query, url, lastModified, imageDir string, prepare PrepareAction, monitor ProgressMonitor) (VMImage, error) {
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return VMImage{}, fmt.Errorf("create image directory: %w", err)
	}

	imagePath := filepath.Join(imageDir, filenameFor(url))
	guard := guardFile(imagePath)
	defer guard.release()

	if err := v.downloader.DownloadTo(ctx, url, imagePath, 0, PhaseImage, monitor); err != nil {
		v.metrics.recordDownload(ctx, "error")
		return VMImage{}, err
	}
	v.metrics.recordDownload(ctx, "success")

	source := VMImage{ImagePath: imagePath, OriginalRelease: url, CurrentRelease: url, ReleaseDate: lastModified}

	var kernelGuard, initrdGuard *deleteGuard
	if fetchType == FetchTypeImageKernelAndInitrd {
		kernelPath, initrdPath, kg, ig, err := v.downloadKernelAndInitrd(ctx, imageDir, query, monitor)
		if err != nil {
			return VMImage{}, err
		}
		source.KernelPath, source.InitrdPath = kernelPath, initrdPath
		kernelGuard, initrdGuard = kg, ig
	}
	if kernelGuard != nil {
		defer kernelGuard.release()
	}
	if initrdGuard != nil {
		defer initrdGuard.release()
	}

	if strings.HasSuffix(source.ImagePath, ".xz") {
		dst := strings.TrimSuffix(source.ImagePath, ".xz")
		if err := v.xz.DecodeTo(source.ImagePath, dst, monitor); err != nil {
			return VMImage{}, err
		}
		os.Remove(source.ImagePath)
		source.ImagePath = dst
	}

	prepared, err := prepare(source)
	if err != nil {
		return VMImage{}, fmt.Errorf("prepare image: %w", err)
	}
	prepared.ReleaseDate = lastModified

	guard.disarm()
	if kernelGuard != nil {
		kernelGuard.disarm()
	}
	if initrdGuard != nil {
		initrdGuard.disarm()
	}
	removeSourceLeftovers(source, prepared)

	return prepared, nil
}

// fetchAlias implements spec branch C: resolve via the host registry,
// reuse a matching prepared record if one exists, else build a fresh one
// behind the in-flight dedup map so concurrent callers share one download.
func (v *Vault) fetchAlias(ctx context.Context, fetchType FetchType, query Query, prepare PrepareAction, monitor ProgressMonitor) (VMImage, error) {
	if query.RemoteName != "" && !v.policy.IsRemoteSupported(query.RemoteName) {
		return VMImage{}, fmt.Errorf("%w: %q", ErrUnsupportedRemote, query.RemoteName)
	}

	info, err := v.registry.infoFor(ctx, query)
	if err != nil {
		return VMImage{}, err
	}
	if !v.policy.IsAliasSupported(query.Release, query.RemoteName) {
		return VMImage{}, fmt.Errorf("%w: %q", ErrUnsupportedAlias, query.Release)
	}

	id := info.ID

	if img, ok := v.tryReuseAlias(query, info); ok {
		return img, nil
	}

	v.mu.Lock()
	waiting := v.inFlight[id]
	if !waiting {
		v.inFlight[id] = true
	}
	v.mu.Unlock()
	if waiting && monitor != nil {
		monitor(PhaseWaiting, -1)
	}

	result, err, _ := v.sf.Do(id, func() (any, error) {
		imageDir := filepath.Join(v.paths.ImagesDir, fmt.Sprintf("%s-%s", info.Release, info.Version))
		prepared, buildErr := v.buildAliasImage(ctx, fetchType, query, info, imageDir, prepare, monitor)
		if buildErr != nil {
			return nil, &CreateImageError{Cause: buildErr}
		}
		return prepared, nil
	})

	if err != nil {
		v.mu.Lock()
		delete(v.inFlight, id)
		v.mu.Unlock()
		return VMImage{}, err
	}
	prepared := result.(VMImage)

	// delete(inFlight) and the catalog insert happen under the same lock so a
	// caller that arrives right after this section sees either both still
	// pending (still in flight) or both done (a hit in images.records) —
	// never the gap where neither is visible and it would start a fresh
	// singleflight leader for an id that already has a catalog entry.
	v.mu.Lock()
	delete(v.inFlight, id)
	v.images.records[id] = VaultRecord{Image: prepared, Query: query, LastAccessed: now()}
	v.mu.Unlock()

	return v.finalizeImageRecords(query, prepared)
}

// tryReuseAlias scans the prepared catalog for a record whose remote
// matches query's and whose key equals the resolved info's ID or whose
// aliases include query.Release,
// mirroring the original's alias-catalog reuse scan. A finalize failure on
// the matched record is treated as a miss, falling through to a full
// rebuild.
func (v *Vault) tryReuseAlias(query Query, info *VMImageInfo) (VMImage, bool) {
	if query.Name == "" {
		return VMImage{}, false
	}

	v.mu.Lock()
	var matchKey string
	var rec VaultRecord
	found := false
	for key, r := range v.images.records {
		if r.Query.RemoteName != query.RemoteName {
			continue
		}
		if key == info.ID || containsString(r.Image.Aliases, query.Release) {
			matchKey, rec, found = key, r, true
			break
		}
	}
	if found {
		rec.LastAccessed = now()
		v.images.records[matchKey] = rec
	}
	v.mu.Unlock()

	if !found {
		return VMImage{}, false
	}

	img, err := v.finalizeImageRecords(query, rec.Image)
	if err != nil {
		v.logger.Warn("finalize reused alias image, refetching", "release", query.Release, "error", err)
		return VMImage{}, false
	}
	return img, true
}

func (v *Vault) buildAliasImage(ctx context.Context, fetchType FetchType, query Query, info *VMImageInfo, imageDir string, prepare PrepareAction, monitor ProgressMonitor) (VMImage, error) {
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return VMImage{}, fmt.Errorf("create image directory: %w", err)
	}

	imagePath := filepath.Join(imageDir, filenameFor(info.ImageLocation))
	guard := guardFile(imagePath)
	defer guard.release()

	if err := v.downloader.DownloadTo(ctx, info.ImageLocation, imagePath, info.Size, PhaseImage, monitor); err != nil {
		v.metrics.recordDownload(ctx, "error")
		return VMImage{}, err
	}
	v.metrics.recordDownload(ctx, "success")

	if monitor != nil {
		monitor(PhaseVerify, -1)
	}
	if err := verify(imagePath, info.ID); err != nil {
		return VMImage{}, err
	}
	if monitor != nil {
		monitor(PhaseVerify, 100)
	}

	source := VMImage{
		ImagePath:       imagePath,
		ID:              info.ID,
		OriginalRelease: info.Release,
		CurrentRelease:  info.Release,
		Aliases:         info.Aliases,
	}

	var kernelGuard, initrdGuard *deleteGuard
	if fetchType == FetchTypeImageKernelAndInitrd {
		kernelPath, initrdPath, kg, ig, err := v.downloadKernelAndInitrd(ctx, imageDir, query, monitor)
		if err != nil {
			return VMImage{}, err
		}
		source.KernelPath, source.InitrdPath = kernelPath, initrdPath
		kernelGuard, initrdGuard = kg, ig
	}
	if kernelGuard != nil {
		defer kernelGuard.release()
	}
	if initrdGuard != nil {
		defer initrdGuard.release()
	}

	if strings.HasSuffix(source.ImagePath, ".xz") {
		dst := strings.TrimSuffix(source.ImagePath, ".xz")
		if err := v.xz.DecodeTo(source.ImagePath, dst, monitor); err != nil {
			return VMImage{}, err
		}
		os.Remove(source.ImagePath)
		source.ImagePath = dst
	}

	prepared, err := prepare(source)
	if err != nil {
		return VMImage{}, fmt.Errorf("prepare image: %w", err)
	}

	guard.disarm()
	if kernelGuard != nil {
		kernelGuard.disarm()
	}
	if initrdGuard != nil {
		initrdGuard.disarm()
	}
	removeSourceLeftovers(source, prepared)

	return prepared, nil
}

// downloadKernelAndInitrd resolves the "default" alias with no remote name
// (first registered host that has it) to find a kernel/initrd pair and downloads whichever of the two the host
// reports, mirroring fetch_kernel_and_initrd's separate info lookup.
func (v *Vault) downloadKernelAndInitrd(ctx context.Context, dir string, query Query, monitor ProgressMonitor) (string, string, *deleteGuard, *deleteGuard, error) {
	info, err := v.registry.infoFor(ctx, Query{Name: query.Name, Release: "default", RemoteName: "", Type: QueryTypeAlias})
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("resolve default kernel image: %w", err)
	}

	var kernelPath, initrdPath string
	var kernelGuard, initrdGuard *deleteGuard

	if info.KernelLocation != "" {
		kernelPath = filepath.Join(dir, filenameFor(info.KernelLocation))
		kernelGuard = guardFile(kernelPath)
		if err := v.downloader.DownloadTo(ctx, info.KernelLocation, kernelPath, 0, PhaseKernel, monitor); err != nil {
			v.metrics.recordDownload(ctx, "error")
			kernelGuard.release()
			return "", "", nil, nil, err
		}
		v.metrics.recordDownload(ctx, "success")
	}

	if info.InitrdLocation != "" {
		initrdPath = filepath.Join(dir, filenameFor(info.InitrdLocation))
		initrdGuard = guardFile(initrdPath)
		if err := v.downloader.DownloadTo(ctx, info.InitrdLocation, initrdPath, 0, PhaseInitrd, monitor); err != nil {
			v.metrics.recordDownload(ctx, "error")
			if kernelGuard != nil {
				kernelGuard.release()
			}
			initrdGuard.release()
			return "", "", nil, nil, err
		}
		v.metrics.recordDownload(ctx, "success")
	}

	return kernelPath, initrdPath, kernelGuard, initrdGuard, nil
}

// finalizeImageRecords materializes a per-instance copy of prepared and
// records it in instances_db, persisting both catalogs unconditionally. A
// Query with no Name has no instance to materialize, so it returns an empty
// VMImage, but the images catalog is still persisted.
func (v *Vault) finalizeImageRecords(query Query, prepared VMImage) (VMImage, error) {
	if query.Name == "" {
		v.mu.Lock()
		errInstances := v.instances.persist()
		errImages := v.images.persist()
		v.mu.Unlock()

		if errInstances != nil {
			return VMImage{}, fmt.Errorf("%w: %v", ErrCatalog, errInstances)
		}
		if errImages != nil {
			return VMImage{}, fmt.Errorf("%w: %v", ErrCatalog, errImages)
		}
		return VMImage{}, nil
	}

	instanceImage, err := materializeInstance(v.paths, query.Name, prepared)
	if err != nil {
		return VMImage{}, fmt.Errorf("materialize instance: %w", err)
	}

	v.mu.Lock()
	v.instances.records[query.Name] = VaultRecord{Image: instanceImage, Query: query, LastAccessed: now()}
	errInstances := v.instances.persist()
	errImages := v.images.persist()
	v.mu.Unlock()

	if errInstances != nil {
		return VMImage{}, fmt.Errorf("%w: %v", ErrCatalog, errInstances)
	}
	if errImages != nil {
		return VMImage{}, fmt.Errorf("%w: %v", ErrCatalog, errImages)
	}
	return instanceImage, nil
}
