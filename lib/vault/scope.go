package vault

import "os"

// deleteGuard removes its path on release unless disarmed, mirroring the
// DeleteOnException scope guard the original vault wraps every partially
// written file in: armed by default, disarmed once the file has been
// successfully handed off to the next stage of a fetch.
type deleteGuard struct {
	path  string
	armed bool
}

func guardFile(path string) *deleteGuard {
	return &deleteGuard{path: path, armed: true}
}

func (g *deleteGuard) disarm() {
	g.armed = false
}

func (g *deleteGuard) release() {
	if g.armed && g.path != "" {
		os.Remove(g.path)
	}
}
