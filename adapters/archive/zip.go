// Package archive packs conversion outputs and tracks downloadable archives.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/xancrypt/xancrypt/domain/conversion"
	"github.com/xancrypt/xancrypt/ports"
)

// Zip writes outputs into a deflate-compressed zip file.
type Zip struct {
	clock ports.Clock
}

// NewZip creates a zip archiver. Entry modification times come from clock.
func NewZip(clock ports.Clock) *Zip {
	return &Zip{clock: clock}
}

// Write creates path atomically: entries go to a temporary file in the same
// directory, which is renamed into place once complete.
func (z *Zip) Write(ctx context.Context, path string, outputs []conversion.Output) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".archive-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	modified := time.Now()
	if z.clock != nil {
		modified = z.clock.Now()
	}

	zw := zip.NewWriter(tmp)
	seen := make(map[string]bool, len(outputs))
	for _, out := range outputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if seen[out.Name] {
			return fmt.Errorf("duplicate archive entry %q", out.Name)
		}
		seen[out.Name] = true

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     out.Name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("add %s: %w", out.Name, err)
		}
		if _, err := w.Write(out.Contents); err != nil {
			return fmt.Errorf("write %s: %w", out.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move archive into place: %w", err)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.Archiver = (*Zip)(nil)
