package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// materializeInstance copies a prepared image's files into the named
// instance's directory, mirroring image_instance_from: the instance gets
// its own copies, never a shared path with the prepared-image catalog.
func materializeInstance(paths *Paths, name string, prepared VMImage) (VMImage, error) {
	dir := paths.InstanceDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return VMImage{}, fmt.Errorf("create instance directory: %w", err)
	}

	imagePath, err := copyInto(prepared.ImagePath, dir)
	if err != nil {
		return VMImage{}, err
	}
	kernelPath, err := copyInto(prepared.KernelPath, dir)
	if err != nil {
		return VMImage{}, err
	}
	initrdPath, err := copyInto(prepared.InitrdPath, dir)
	if err != nil {
		return VMImage{}, err
	}

	return VMImage{
		ImagePath:       imagePath,
		KernelPath:      kernelPath,
		InitrdPath:      initrdPath,
		ID:              prepared.ID,
		OriginalRelease: prepared.OriginalRelease,
		CurrentRelease:  prepared.CurrentRelease,
		ReleaseDate:     prepared.ReleaseDate,
	}, nil
}

func copyInto(src, dir string) (string, error) {
	if src == "" {
		return "", nil
	}
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, src)
	}

	dst := filepath.Join(dir, filepath.Base(src))
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("copy into instance directory: %w", err)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
