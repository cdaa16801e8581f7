package vault

import (
	"fmt"
	"io"
	"os"

	"github.com/ulikunitz/xz"
)

// defaultXzDecoder decompresses a .xz file in one streamed pass.
type defaultXzDecoder struct{}

// NewXzDecoder returns the default, ulikunitz/xz-backed XzDecoder.
func NewXzDecoder() XzDecoder {
	return defaultXzDecoder{}
}

func (defaultXzDecoder) DecodeTo(src, dst string, monitor ProgressMonitor) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open xz source: %w", err)
	}
	defer in.Close()

	r, err := xz.NewReader(in)
	if err != nil {
		return fmt.Errorf("read xz header: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create xz destination: %w", err)
	}
	defer out.Close()

	if monitor != nil {
		monitor(PhaseImage, -1)
	}

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("decompress xz: %w", err)
	}

	if monitor != nil {
		monitor(PhaseImage, 100)
	}
	return nil
}
