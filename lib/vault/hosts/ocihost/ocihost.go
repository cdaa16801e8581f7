// Package ocihost is a demonstration vault.ImageHost that resolves aliases
// against a live OCI registry repository, giving the Vault a runnable
// Alias branch without a Multipass-style simplestreams feed.
package ocihost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/distribution/reference"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/onkernel/hypeman/lib/vault"
)

// supportedManifestTypes are the media types this demonstration host will
// resolve to a VMImageInfo. An image index (multi-arch manifest list) has
// no single digest to verify a download against, so it is rejected rather
// than resolved to one arbitrary child manifest.
var supportedManifestTypes = map[string]bool{
	ocispec.MediaTypeImageManifest: true,
	"application/vnd.docker.distribution.manifest.v2+json": true,
}

// Host treats an alias as the tag of a fixed repository: InfoFor resolves
// "bionic" to "<repository>:bionic", asks the registry for its manifest
// digest, and reports that digest as the VMImageInfo.ID the fetch engine
// verifies the download against.
type Host struct {
	remoteName string
	repository reference.Named
}

// New returns a Host that answers for remoteName, resolving aliases as
// tags under repository (e.g. "docker.io/library/alpine").
func New(remoteName, repository string) (*Host, error) {
	named, err := reference.ParseNormalizedNamed(repository)
	if err != nil {
		return nil, fmt.Errorf("ocihost: parse repository %q: %w", repository, err)
	}
	return &Host{remoteName: remoteName, repository: named}, nil
}

// SupportedRemotes reports the single remote name this Host answers for.
func (h *Host) SupportedRemotes() []string { return []string{h.remoteName} }

// InfoFor resolves q.Release as a tag under the Host's repository. It
// returns a nil VMImageInfo (not an error) when the tag has no manifest,
// so the host registry can fall through to another host.
func (h *Host) InfoFor(ctx context.Context, q vault.Query) (*vault.VMImageInfo, error) {
	if q.RemoteName != "" && q.RemoteName != h.remoteName {
		return nil, nil
	}
	if q.Release == "" {
		return nil, nil
	}

	tagged, err := reference.WithTag(h.repository, q.Release)
	if err != nil {
		return nil, nil
	}

	ref, err := name.ParseReference(tagged.String())
	if err != nil {
		return nil, fmt.Errorf("ocihost: parse reference %q: %w", tagged.String(), err)
	}

	desc, err := remote.Get(ref, remote.WithContext(ctx))
	if err != nil {
		var terr *transport.Error
		if errors.As(err, &terr) && terr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("ocihost: get manifest for %s: %w", tagged.String(), err)
	}
	if !supportedManifestTypes[string(desc.MediaType)] {
		return nil, fmt.Errorf("ocihost: %s has unsupported manifest type %s", tagged.String(), desc.MediaType)
	}

	digestHex := strings.TrimPrefix(desc.Digest.String(), "sha256:")

	return &vault.VMImageInfo{
		ID:            digestHex,
		Release:       q.Release,
		ReleaseTitle:  q.Release,
		Version:       desc.Digest.String(),
		Aliases:       []string{q.Release},
		ImageLocation: fmt.Sprintf("https://%s/v2/%s/manifests/%s", ref.Context().RegistryStr(), ref.Context().RepositoryStr(), desc.Digest.String()),
		Size:          desc.Size,
	}, nil
}
