package vault

import "context"

// Progress phases reported to a ProgressMonitor. WAITING is only emitted to
// a caller that joined a fetch already in flight for the same image id.
const (
	PhaseImage   = "image"
	PhaseKernel  = "kernel"
	PhaseInitrd  = "initrd"
	PhaseVerify  = "verify"
	PhaseWaiting = "waiting"
)

// ProgressMonitor receives phase/percent updates during a fetch. percent is
// -1 when the size of the remaining work is unknown.
type ProgressMonitor func(phase string, percent int)

// PrepareAction transforms a freshly downloaded or extracted source image
// into the final image this vault will serve. It may be a no-op that
// returns its input unchanged.
type PrepareAction func(source VMImage) (VMImage, error)

// ImageHost resolves alias queries to image metadata. Multiple hosts are
// registered with a Vault; each reports the remote names it answers for.
type ImageHost interface {
	// InfoFor looks up query against this host's catalog. It returns a
	// nil VMImageInfo and nil error when the host has no image matching
	// query; a non-nil error signals a host-side failure (e.g. a remote
	// manifest fetch that errored out).
	InfoFor(ctx context.Context, query Query) (*VMImageInfo, error)

	// SupportedRemotes lists the remote names this host answers for.
	SupportedRemotes() []string
}

// URLDownloader fetches bytes from a URL to a local path, and can report
// the remote's Last-Modified time without downloading the body.
type URLDownloader interface {
	DownloadTo(ctx context.Context, url, dst string, expectedSize int64, phase string, monitor ProgressMonitor) error
	LastModified(ctx context.Context, url string) (t string, ok bool, err error)
}

// XzDecoder decompresses a single .xz file to dst.
type XzDecoder interface {
	DecodeTo(src, dst string, monitor ProgressMonitor) error
}

// Policy gates which remotes, aliases, and non-alias query types this vault
// is willing to fetch, mirroring the host-platform checks the original
// implementation delegates to its platform layer.
type Policy interface {
	IsImageURLSupported() bool
	IsRemoteSupported(remoteName string) bool
	IsAliasSupported(alias, remoteName string) bool
}

// AllowAllPolicy permits every remote, alias, and query type. It is the
// default when a Vault is constructed without an explicit Policy.
type AllowAllPolicy struct{}

func (AllowAllPolicy) IsImageURLSupported() bool                       { return true }
func (AllowAllPolicy) IsRemoteSupported(remoteName string) bool        { return true }
func (AllowAllPolicy) IsAliasSupported(alias, remoteName string) bool  { return true }
