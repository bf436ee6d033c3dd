// Package backup parses database backup file names and exposes the set of
// backups known when the process started.
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"spese-desktop/internal/core"
	"spese-desktop/internal/log"
)

const (
	// FilePrefix is the first segment of every backup file name.
	FilePrefix = "Accounts"
	// FileExt is the backup file extension.
	FileExt = ".sqlite"
	// TimestampLayout is the Go layout of the timestamp part of a name.
	TimestampLayout = "02-01-2006_15-04-05"
)

var ErrInvalidName = errors.New("invalid backup file name")

// FileName builds the backup file name for timestamp and appVersion.
func FileName(timestamp, appVersion string) string {
	return FilePrefix + "_" + timestamp + "_" + appVersion + FileExt
}

// Parse extracts timestamp and app version from a backup path named
// Accounts_<DD-MM-YYYY_HH-MM-SS>_<version>.sqlite.
func Parse(path string) (core.Backup, error) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, FileExt) {
		return core.Backup{}, fmt.Errorf("%w: %s: missing %s suffix", ErrInvalidName, name, FileExt)
	}

	parts := strings.Split(name, "_")
	if len(parts) != 4 || parts[0] != FilePrefix {
		return core.Backup{}, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}

	b := core.Backup{
		Path:       path,
		Timestamp:  parts[1] + "_" + parts[2],
		AppVersion: strings.TrimSuffix(parts[3], FileExt),
	}
	if _, err := time.Parse(TimestampLayout, b.Timestamp); err != nil {
		return core.Backup{}, fmt.Errorf("%w: %s: bad timestamp: %v", ErrInvalidName, name, err)
	}
	if err := b.Validate(); err != nil {
		return core.Backup{}, fmt.Errorf("%w: %s: %v", ErrInvalidName, name, err)
	}
	return b, nil
}

// Time returns the moment encoded in a backup timestamp.
func Time(b core.Backup) (time.Time, error) {
	return time.Parse(TimestampLayout, b.Timestamp)
}

// Registry is an immutable snapshot of known backups. It is not kept in
// sync with the filesystem after construction.
type Registry struct {
	dir     string
	backups []core.Backup
	byKey   map[string]core.Backup
}

// NewRegistry builds a registry from already parsed backups. Duplicate
// (timestamp, version) pairs are rejected.
func NewRegistry(dir string, backups []core.Backup) (*Registry, error) {
	r := &Registry{
		dir:   dir,
		byKey: make(map[string]core.Backup, len(backups)),
	}
	for _, b := range backups {
		if _, dup := r.byKey[b.Key()]; dup {
			return nil, fmt.Errorf("duplicate backup %s", b.Key())
		}
		r.byKey[b.Key()] = b
		r.backups = append(r.backups, b)
	}

	sort.SliceStable(r.backups, func(i, j int) bool {
		ti, ei := Time(r.backups[i])
		tj, ej := Time(r.backups[j])
		if ei != nil || ej != nil || ti.Equal(tj) {
			return r.backups[i].Key() < r.backups[j].Key()
		}
		return ti.Before(tj)
	})
	return r, nil
}

// Scan reads dir once and returns a registry of every file matching the
// backup naming convention. A missing directory yields an empty registry.
func Scan(dir string, logger *log.Logger) (*Registry, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentBackup)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("Backups directory does not exist", log.FieldPath, dir)
		return NewRegistry(dir, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("read backups directory: %w", err)
	}

	var backups []core.Backup
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		b, err := Parse(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Debug("Skipping file in backups directory", log.FieldPath, entry.Name(), log.FieldError, err)
			continue
		}
		backups = append(backups, b)
	}

	logger.Info("Backup registry loaded", log.FieldPath, dir, log.FieldCount, len(backups))
	return NewRegistry(dir, backups)
}

// Dir returns the directory the registry was built from.
func (r *Registry) Dir() string {
	return r.dir
}

// Backups returns a copy of the snapshot, oldest first.
func (r *Registry) Backups() []core.Backup {
	out := make([]core.Backup, len(r.backups))
	copy(out, r.backups)
	return out
}

func (r *Registry) Len() int {
	return len(r.backups)
}

// Lookup finds the backup with the given timestamp and version.
func (r *Registry) Lookup(timestamp, appVersion string) (core.Backup, bool) {
	b, ok := r.byKey[timestamp+"_"+appVersion]
	return b, ok
}
