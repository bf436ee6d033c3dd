package apply

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// FS is the filesystem surface used while swapping trees.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	MkdirAll(path string, perm fs.FileMode) error
	Rename(oldpath, newpath string) error
	Remove(name string) error
	RemoveAll(path string) error
	// CopyFile copies src over dst, creating parent directories.
	CopyFile(src, dst string) error
	WriteFile(name string, data []byte, perm fs.FileMode) error
	// WalkFiles calls fn with the path, relative to root, of every
	// regular file below root.
	WalkFiles(root string, fn func(rel string) error) error
}

// OSFS implements FS on the host filesystem.
type OSFS struct{}

func (OSFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

func (OSFS) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }

func (OSFS) Remove(name string) error { return os.Remove(name) }

func (OSFS) RemoveAll(path string) error { return os.RemoveAll(path) }

func (OSFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(name, data, perm)
}

// Rename moves oldpath to newpath. When the two sit on different devices
// the tree is copied and the source removed afterwards.
func (o OSFS) Rename(oldpath, newpath string) error {
	err := os.Rename(oldpath, newpath)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	info, serr := os.Stat(oldpath)
	if serr != nil {
		return serr
	}
	if !info.IsDir() {
		if err := o.CopyFile(oldpath, newpath); err != nil {
			return err
		}
		return os.Remove(oldpath)
	}
	if err := o.WalkFiles(oldpath, func(rel string) error {
		return o.CopyFile(filepath.Join(oldpath, rel), filepath.Join(newpath, rel))
	}); err != nil {
		return fmt.Errorf("copy across devices: %w", err)
	}
	return os.RemoveAll(oldpath)
}

func (OSFS) CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (OSFS) WalkFiles(root string, fn func(rel string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(rel)
	})
}
