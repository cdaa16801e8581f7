package vault

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyMatchingHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	data := []byte("some image bytes")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.NoError(t, verify(path, sha256Hex(data)))
}

func TestVerifyMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(path, []byte("some image bytes"), 0o644))

	err := verify(path, sha256Hex([]byte("different bytes")))
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestVerifyIsCaseInsensitive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	data := []byte("some image bytes")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	upper := strings.ToUpper(sha256Hex(data))
	require.NoError(t, verify(path, upper))
}

func TestScopeGuardDeletesOnRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.img")
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0o644))

	g := guardFile(path)
	g.release()

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestScopeGuardDisarmKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kept.img")
	require.NoError(t, os.WriteFile(path, []byte("kept"), 0o644))

	g := guardFile(path)
	g.disarm()
	g.release()

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestHostRegistryUnknownRemote(t *testing.T) {
	reg := newHostRegistry(nil)
	_, err := reg.infoFor(context.Background(), Query{RemoteName: "release", Release: "bionic"})
	require.ErrorIs(t, err, ErrUnknownRemote)
}
