package shader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// Extension is the file extension of reshade effect sources
const Extension = ".fx"

// transientPattern matches per-session CAS variants gamescope generates
// (CAS_ + 4 digits + 4 alphanumerics). They never show up in listings.
var transientPattern = regexp.MustCompile(`^CAS_[0-9]{4}[A-Za-z0-9]{4}\.fx$`)

// watchSettle coalesces bursts of directory events into one listing
const watchSettle = 250 * time.Millisecond

// IsTransient reports whether name is a generated shader variant
func IsTransient(name string) bool {
	return transientPattern.MatchString(name)
}

// Catalog lists the shaders installed in gamescope's shader directory
type Catalog struct {
	fs  afero.Fs
	dir string
	log hclog.Logger
}

// NewCatalog creates a catalog for dir
func NewCatalog(fs afero.Fs, dir string, logger hclog.Logger) *Catalog {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Catalog{fs: fs, dir: dir, log: logger}
}

// Dir returns the catalog directory
func (c *Catalog) Dir() string {
	return c.dir
}

// List returns the sorted shader file names.
// A missing directory is an empty catalog.
func (c *Catalog) List() ([]string, error) {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list shaders: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != Extension || IsTransient(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Watch calls onChange with a fresh listing whenever shader files are
// created, removed or renamed in the directory. It blocks until ctx is done.
// The directory must exist on the OS filesystem.
func (c *Catalog) Watch(ctx context.Context, onChange func([]string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}
	c.log.Debug("watching shader directory", "dir", c.dir)

	// Fires once events have been quiet for watchSettle
	settle := time.NewTimer(watchSettle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !catalogEvent(event) {
				continue
			}
			settle.Reset(watchSettle)
		case <-settle.C:
			names, err := c.List()
			if err != nil {
				c.log.Warn("shader listing failed", "error", err)
				continue
			}
			onChange(names)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("shader watcher error", "error", err)
		}
	}
}

// catalogEvent reports whether event can change the listing.
// Writes are ignored; in-place uniform patches produce them.
func catalogEvent(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if filepath.Ext(name) != Extension || IsTransient(name) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
