package download

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnsafePath = errors.New("archive entry escapes destination")
	ErrSymlink    = errors.New("archive symlink entries are not supported")
)

// extractZip unpacks archive into dst, keeping the archive's folder
// structure. progress receives the fraction of entries written.
func extractZip(archive, dst string, progress func(float64)) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	base := filepath.Clean(dst) + string(os.PathSeparator)
	for i, f := range r.File {
		target, err := entryPath(base, f.Name)
		if err != nil {
			return err
		}
		if err := extractEntry(f, target); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
		if progress != nil {
			progress(float64(i+1) / float64(len(r.File)))
		}
	}
	return nil
}

func entryPath(base, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(base, filepath.FromSlash(name))
	if !strings.HasPrefix(target+string(os.PathSeparator), base) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func extractEntry(f *zip.File, target string) error {
	mode := f.Mode()
	switch {
	case mode.IsDir():
		return os.MkdirAll(target, 0755)
	case mode&os.ModeSymlink != 0:
		return ErrSymlink
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
