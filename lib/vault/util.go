package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// now is the clock LastAccessed stamps and expiry checks are taken from. It
// is a package variable so it can be replaced.
var now = time.Now

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// localFilePath strips a file:// scheme if present, otherwise returns
// release unchanged.
func localFilePath(release string) string {
	if u, err := url.Parse(release); err == nil && u.Scheme == "file" {
		return u.Path
	}
	return release
}

// filenameFor returns the basename of a URL or filesystem path.
func filenameFor(location string) string {
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		return filepath.Base(u.Path)
	}
	return filepath.Base(location)
}

// imageBaseName strips the .xz suffix and any remaining extension from a
// URL or path's basename, for use in cache directory naming.
func imageBaseName(location string) string {
	name := filenameFor(location)
	name = strings.TrimSuffix(name, ".xz")
	if ext := filepath.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

// removeSourceLeftovers deletes any source file that prepare did not reuse
// as part of the final image, mirroring remove_source_images.
func removeSourceLeftovers(source, prepared VMImage) {
	removeIfDifferent(source.ImagePath, prepared.ImagePath)
	removeIfDifferent(source.KernelPath, prepared.KernelPath)
	removeIfDifferent(source.InitrdPath, prepared.InitrdPath)
}

func removeIfDifferent(sourcePath, preparedPath string) {
	if sourcePath != "" && sourcePath != preparedPath {
		os.Remove(sourcePath)
	}
}
