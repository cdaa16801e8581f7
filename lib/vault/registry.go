package vault

import (
	"context"
	"fmt"
)

// hostRegistry maps a remote name to the ImageHost that answers for it,
// mirroring the original's remote_image_host_map: built once at
// construction from each host's declared remotes.
type hostRegistry struct {
	hosts    []ImageHost
	byRemote map[string]ImageHost
}

func newHostRegistry(hosts []ImageHost) *hostRegistry {
	byRemote := make(map[string]ImageHost)
	for _, h := range hosts {
		for _, remote := range h.SupportedRemotes() {
			byRemote[remote] = h
		}
	}
	return &hostRegistry{hosts: hosts, byRemote: byRemote}
}

// infoFor resolves query against either the host named by its RemoteName,
// or, when RemoteName is empty, the first host in registration order that
// has a match.
func (r *hostRegistry) infoFor(ctx context.Context, q Query) (*VMImageInfo, error) {
	if q.RemoteName != "" {
		h, ok := r.byRemote[q.RemoteName]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRemote, q.RemoteName)
		}
		info, err := h.InfoFor(ctx, q)
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, fmt.Errorf("%w: %q", ErrNoImage, q.Release)
		}
		return info, nil
	}

	for _, h := range r.hosts {
		info, err := h.InfoFor(ctx, q)
		if err != nil {
			continue
		}
		if info != nil {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoImage, q.Release)
}
