// Package pack installs shader packs. A pack is a ZIP, 7z, tar.gz or RAR
// archive (or a single gzipped file) holding ReShade effect sources; every
// effect and include file in it is flattened into a shader directory.
package pack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// Magic bytes for format detection
var (
	magicZIP    = []byte{0x50, 0x4B, 0x03, 0x04}
	magicZIPEnd = []byte{0x50, 0x4B, 0x05, 0x06} // empty zip
	magic7z     = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}
	magicGzip   = []byte{0x1F, 0x8B}
	magicRAR    = []byte{0x52, 0x61, 0x72, 0x21} // "Rar!"
)

// Maximum size of a single shader source (4MB safety limit)
const maxShaderSize = 4 * 1024 * 1024

// Extensions of the files a pack installs
var Extensions = []string{".fx", ".fxh"}

// ErrNoShaders is returned when an archive holds no shader sources
var ErrNoShaders = errors.New("no shader sources found in archive")

// ErrUnsupportedFormat is returned for unrecognized archive formats
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// ErrFileTooLarge is returned when an entry exceeds the size limit
var ErrFileTooLarge = errors.New("file exceeds maximum size limit")

type formatType int

const (
	formatUnknown formatType = iota
	formatZIP
	format7z
	formatGzip
	formatRAR
)

// visitFunc receives each regular file in an archive. name is the entry
// path inside the archive.
type visitFunc func(name string, r io.Reader) error

// walkFunc calls fn for each regular file of the archive in f. path is
// used for naming only.
type walkFunc func(f afero.File, size int64, path string, fn visitFunc) error

// Installer reads packs from fs and extracts them into directories on the
// same fs
type Installer struct {
	fs  afero.Fs
	log hclog.Logger
}

// NewInstaller creates an installer reading and writing through fs
func NewInstaller(fs afero.Fs, logger hclog.Logger) *Installer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Installer{fs: fs, log: logger}
}

// IsArchive reports whether path is a regular file in a supported format
func (i *Installer) IsArchive(path string) bool {
	f, err := i.fs.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	format, err := sniff(f, path)
	return err == nil && format != formatUnknown
}

// Install extracts every shader source in the archive at path into dst,
// creating dst if needed. Directory structure inside the archive is
// dropped. Returns the sorted names written.
func (i *Installer) Install(path, dst string) ([]string, error) {
	f, err := i.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	format, err := sniff(f, path)
	if err != nil {
		return nil, err
	}

	var walk walkFunc
	switch format {
	case formatZIP:
		walk = walkZIP
	case format7z:
		walk = walk7z
	case formatGzip:
		walk = walkGzip
	case formatRAR:
		walk = walkRAR
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if err := i.fs.MkdirAll(dst, 0755); err != nil {
		return nil, fmt.Errorf("failed to create shader directory: %w", err)
	}

	seen := make(map[string]bool)
	err = walk(f, info.Size(), path, func(name string, r io.Reader) error {
		base := filepath.Base(filepath.ToSlash(name))
		if !isShaderFile(base) {
			return nil
		}
		data, err := limitedRead(r)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if seen[base] {
			i.log.Warn("duplicate shader in pack, later entry wins", "name", base)
		}
		if err := afero.WriteFile(i.fs, filepath.Join(dst, base), data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", base, err)
		}
		seen[base] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(seen) == 0 {
		return nil, ErrNoShaders
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	i.log.Info("installed shader pack", "archive", path, "dir", dst, "count", len(names))
	return names, nil
}

// sniff reads the header of f and detects its format
func sniff(f io.ReaderAt, path string) (formatType, error) {
	header := make([]byte, 16)
	n, err := f.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return formatUnknown, fmt.Errorf("failed to read archive header: %w", err)
	}
	return detectFormat(header[:n], path), nil
}

// detectFormat determines the archive format from magic bytes, falling back
// to the extension
func detectFormat(header []byte, path string) formatType {
	if len(header) >= 4 {
		if bytes.HasPrefix(header, magicZIP) || bytes.HasPrefix(header, magicZIPEnd) {
			return formatZIP
		}
		if bytes.HasPrefix(header, magicRAR) {
			return formatRAR
		}
	}
	if len(header) >= 6 && bytes.HasPrefix(header, magic7z) {
		return format7z
	}
	if len(header) >= 2 && bytes.HasPrefix(header, magicGzip) {
		return formatGzip
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return formatZIP
	case ".7z":
		return format7z
	case ".gz", ".tgz":
		return formatGzip
	case ".rar":
		return formatRAR
	}
	return formatUnknown
}

// isShaderFile checks for a shader source extension (case-insensitive)
func isShaderFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// limitedRead reads from r up to maxShaderSize bytes, returning an error if exceeded
func limitedRead(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxShaderSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxShaderSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}
