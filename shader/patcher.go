package shader

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// HeaderWindow is how many bytes from the start of a shader source are
// searched for uniform declarations.
const HeaderWindow = 512

// fractionDigits is the fixed number of decimals in a patchable literal
const fractionDigits = 6

var (
	// ErrShaderNotFound is returned when the shader file does not exist
	ErrShaderNotFound = errors.New("shader file not found")
	// ErrUniformNotFound is returned when no declaration matches in the header window
	ErrUniformNotFound = errors.New("uniform declaration not found")
	// ErrFieldOverflow is returned when a value cannot be written in the
	// width of the existing literal
	ErrFieldOverflow = errors.New("value does not fit uniform field")
)

// Target locates a uniform's numeric literal inside a shader file
type Target struct {
	Path    string
	Uniform string
	Offset  int64   // Absolute byte offset of the literal
	Width   int     // Literal length in bytes
	Value   float64 // Value currently stored in the file
}

// Patcher rewrites uniform default values in shader sources in place.
// Only the bytes of the literal are written, so the file length and every
// other byte stay the same and gamescope's watcher reloads just the values.
type Patcher struct {
	fs  afero.Fs
	log hclog.Logger
}

// NewPatcher creates a patcher operating on fs
func NewPatcher(fs afero.Fs, logger hclog.Logger) *Patcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Patcher{fs: fs, log: logger}
}

// uniformPattern matches `uniform float <name> = <±D.DDDDDD>;`.
// Group 2 is the literal.
func uniformPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(uniform\s+float\s+` + regexp.QuoteMeta(name) +
		`\s*=[^0-9.\-+]*)([-+]?\d+\.\d{6})(\s*;)`)
}

// Patch writes value into the literal of the named uniform.
// Errors are logged here and returned; the file is untouched on any error
// before the write.
func (p *Patcher) Patch(path, uniform string, value float64) error {
	f, err := p.fs.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.log.Error("cannot patch, shader not found", "path", path)
			return fmt.Errorf("%w: %s", ErrShaderNotFound, path)
		}
		p.log.Error("patch failed", "path", path, "error", err)
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	target, err := locate(f, path, uniform)
	if err != nil {
		f.Close()
		p.logLocateError(err, path, uniform)
		return err
	}

	encoded, err := FormatFixed(value, target.Width)
	if err != nil {
		f.Close()
		p.log.Warn("value does not fit", "uniform", uniform, "value", value, "width", target.Width)
		return err
	}

	if _, err := f.WriteAt([]byte(encoded), target.Offset); err != nil {
		f.Close()
		p.log.Error("patch failed", "path", path, "error", err)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		p.log.Error("patch failed", "path", path, "error", err)
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		p.log.Error("patch failed", "path", path, "error", err)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	p.log.Info("uniform patched in place", "uniform", uniform, "value", encoded, "file", filepath.Base(path))
	return nil
}

// Read returns the value currently declared for the uniform
func (p *Patcher) Read(path, uniform string) (float64, error) {
	target, err := p.Locate(path, uniform)
	if err != nil {
		return 0, err
	}
	p.log.Debug("read uniform", "uniform", uniform, "value", target.Value)
	return target.Value, nil
}

// Locate finds the uniform's literal without modifying the file
func (p *Patcher) Locate(path, uniform string) (Target, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.log.Error("cannot read, shader not found", "path", path)
			return Target{}, fmt.Errorf("%w: %s", ErrShaderNotFound, path)
		}
		p.log.Error("read failed", "path", path, "error", err)
		return Target{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	target, err := locate(f, path, uniform)
	if err != nil {
		p.logLocateError(err, path, uniform)
		return Target{}, err
	}
	return target, nil
}

func (p *Patcher) logLocateError(err error, path, uniform string) {
	if errors.Is(err, ErrUniformNotFound) {
		p.log.Warn("uniform not found", "uniform", uniform, "file", filepath.Base(path))
		return
	}
	p.log.Error("read failed", "path", path, "error", err)
}

// locate scans the header window of f. Matching runs on the raw bytes and
// the window starts at offset 0, so match indices are file offsets.
func locate(f io.ReaderAt, path, uniform string) (Target, error) {
	header := make([]byte, HeaderWindow)
	n, err := f.ReadAt(header, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return Target{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	header = header[:n]

	m := uniformPattern(uniform).FindSubmatchIndex(header)
	if m == nil {
		return Target{}, fmt.Errorf("%w: %s in %s", ErrUniformNotFound, uniform, filepath.Base(path))
	}
	start, end := m[4], m[5]

	value, err := strconv.ParseFloat(string(header[start:end]), 64)
	if err != nil {
		return Target{}, fmt.Errorf("failed to parse %s literal %q: %w", uniform, header[start:end], err)
	}

	return Target{
		Path:    path,
		Uniform: uniform,
		Offset:  int64(start),
		Width:   end - start,
		Value:   value,
	}, nil
}

// FormatFixed renders value with 6 decimals in exactly width bytes.
// The sign is always written and the integer part is zero padded, e.g.
// 0.5 in width 10 is "+00.500000". When the field has no room for a sign a
// non-negative value is written without one. Values that still do not fit
// return ErrFieldOverflow.
func FormatFixed(value float64, width int) (string, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "", fmt.Errorf("%w: %v", ErrFieldOverflow, value)
	}

	digits := strconv.FormatFloat(math.Abs(value), 'f', fractionDigits, 64)
	sign := "+"
	if value < 0 && strings.Trim(digits, "0.") != "" {
		sign = "-"
	}

	switch {
	case len(digits)+1 <= width:
		return sign + strings.Repeat("0", width-1-len(digits)) + digits, nil
	case len(digits) == width && sign == "+":
		return digits, nil
	}
	return "", fmt.Errorf("%w: %v in %d bytes", ErrFieldOverflow, value, width)
}
