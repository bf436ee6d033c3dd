// Package staging owns the on-disk working area of an update and prepares
// migrated backup copies inside it.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// PayloadDirName is the application payload folder shipped in a build.
	PayloadDirName = "_internal"
	// VersionFile holds the version string of a build, inside the payload.
	VersionFile = "version.txt"
)

var ErrEmptyVersion = errors.New("version marker is empty")

// Tree is the staging area of one update session.
type Tree struct {
	// Root is the staging directory. Everything below it is disposable.
	Root string
	// PayloadDir is the extracted _internal folder of the new build.
	PayloadDir string
	// BackupsDir receives the migrated backup copies.
	BackupsDir string
	// VersionMarker is the plain-text file naming the staged version.
	VersionMarker string
	// Executable is the staged main executable, next to PayloadDir.
	Executable string
	// Archive is the downloaded release archive.
	Archive string
}

// NewTree lays out a tree whose payload was extracted to payloadDir.
func NewTree(root, payloadDir, backupsDirName, executableName, archiveName string) *Tree {
	t := &Tree{
		Root:          root,
		PayloadDir:    payloadDir,
		BackupsDir:    filepath.Join(root, backupsDirName),
		VersionMarker: filepath.Join(payloadDir, VersionFile),
		Executable:    filepath.Join(filepath.Dir(payloadDir), executableName),
	}
	if archiveName != "" {
		t.Archive = filepath.Join(root, archiveName)
	}
	return t
}

// TargetVersion reads the staged build's version marker.
func (t *Tree) TargetVersion() (string, error) {
	data, err := os.ReadFile(t.VersionMarker)
	if err != nil {
		return "", fmt.Errorf("read version marker: %w", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyVersion, t.VersionMarker)
	}
	return v, nil
}

// Remove deletes the whole staging directory.
func (t *Tree) Remove() error {
	if t.Root == "" {
		return nil
	}
	return os.RemoveAll(t.Root)
}
