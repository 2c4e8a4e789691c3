package shader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// seedWorkers bounds concurrent copies during Seed
const seedWorkers = 4

// Seed copies every bundled shader source in src into dst, creating dst if
// needed. Copied files are made world readable. A file that cannot be copied
// is logged and skipped. Returns the number of files copied.
func Seed(ctx context.Context, fs afero.Fs, src, dst string, logger hclog.Logger) (int, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	if err := fs.MkdirAll(dst, 0755); err != nil {
		return 0, fmt.Errorf("failed to create shader directory: %w", err)
	}

	sources, err := afero.Glob(fs, filepath.Join(src, "*"+Extension))
	if err != nil {
		return 0, fmt.Errorf("failed to list seed shaders: %w", err)
	}

	var copied atomic.Int32
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(seedWorkers)
	for _, path := range sources {
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			target := filepath.Join(dst, filepath.Base(path))
			if err := copyFile(fs, path, target); err != nil {
				logger.Debug("could not copy shader", "path", path, "error", err)
				return nil
			}
			copied.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(copied.Load()), err
	}
	return int(copied.Load()), nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile's mode is masked by umask and ignored for existing files
	return fs.Chmod(dst, 0644)
}
