package pack

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
	"github.com/spf13/afero"
)

func walkZIP(f afero.File, size int64, path string, fn visitFunc) error {
	r, err := zip.NewReader(f, size)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}

	for _, e := range r.File {
		if e.FileInfo().IsDir() {
			continue
		}
		if err := visitOpener(e.Name, e.Open, fn); err != nil {
			return err
		}
	}
	return nil
}

func walk7z(f afero.File, size int64, path string, fn visitFunc) error {
	r, err := sevenzip.NewReader(f, size)
	if err != nil {
		return fmt.Errorf("failed to open 7z: %w", err)
	}

	for _, e := range r.File {
		if e.FileInfo().IsDir() {
			continue
		}
		if err := visitOpener(e.Name, e.Open, fn); err != nil {
			return err
		}
	}
	return nil
}

// visitOpener opens a single entry, hands it to fn and closes it
func visitOpener(name string, open func() (io.ReadCloser, error), fn visitFunc) error {
	if !isShaderFile(name) {
		return nil
	}
	rc, err := open()
	if err != nil {
		return fmt.Errorf("failed to open %s in archive: %w", name, err)
	}
	defer rc.Close()
	return fn(name, rc)
}

// walkGzip handles tar.gz archives and single gzipped files
func walkGzip(f afero.File, size int64, path string, fn visitFunc) error {
	gr, err := gzip.NewReader(io.NewSectionReader(f, 0, size))
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gr.Close()

	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") {
		return walkTar(gr, fn)
	}

	// Plain .gz holds one file named after the archive
	name := filepath.Base(path)
	if strings.HasSuffix(strings.ToLower(name), ".gz") {
		name = name[:len(name)-3]
	}
	return fn(name, gr)
}

func walkTar(r io.Reader, fn visitFunc) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if err := fn(header.Name, tr); err != nil {
			return err
		}
	}
}

func walkRAR(f afero.File, size int64, path string, fn visitFunc) error {
	r, err := rardecode.NewReader(io.NewSectionReader(f, 0, size))
	if err != nil {
		return fmt.Errorf("failed to open rar: %w", err)
	}

	for {
		header, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read rar entry: %w", err)
		}
		if header.IsDir {
			continue
		}
		if err := fn(header.Name, r); err != nil {
			return err
		}
	}
}
