package vault

import "time"

// QueryType selects which of the three fetch branches a Query resolves
// through.
type QueryType int

const (
	QueryTypeAlias QueryType = iota
	QueryTypeHttpUrl
	QueryTypeLocalFile
)

func (t QueryType) String() string {
	switch t {
	case QueryTypeAlias:
		return "alias"
	case QueryTypeHttpUrl:
		return "http_url"
	case QueryTypeLocalFile:
		return "local_file"
	default:
		return "unknown"
	}
}

// FetchType distinguishes requests that only need the root filesystem image
// from ones that also need a kernel and initrd.
type FetchType int

const (
	FetchTypeImageOnly FetchType = iota
	FetchTypeImageKernelAndInitrd
)

// Query describes what the caller is asking FetchImage to resolve.
//
// Release carries different things depending on Type: an alias or release
// name for QueryTypeAlias, a URL for QueryTypeHttpUrl, a filesystem path for
// QueryTypeLocalFile.
type Query struct {
	Name       string
	Release    string
	RemoteName string
	Persistent bool
	Type       QueryType
}

// VMImageInfo is what an ImageHost reports for a resolved alias.
type VMImageInfo struct {
	ID             string
	Release        string
	ReleaseTitle   string
	Version        string
	Aliases        []string
	ImageLocation  string
	KernelLocation string
	InitrdLocation string
	Size           int64
}

// VMImage is a concrete, on-disk image: the root filesystem plus optional
// kernel and initrd, and the bookkeeping fields the catalogs persist.
type VMImage struct {
	ImagePath       string
	KernelPath      string
	InitrdPath      string
	ID              string
	OriginalRelease string
	CurrentRelease  string
	ReleaseDate     string
	Aliases         []string
}

// VaultRecord is one entry of either catalog: the image plus the query that
// produced it and when it was last touched.
type VaultRecord struct {
	Image        VMImage
	Query        Query
	LastAccessed time.Time
}
