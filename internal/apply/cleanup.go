package apply

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"spese-desktop/internal/log"
)

// CleanupPendingDeletions removes marker files and a leftover helper
// script from installDir. It runs at startup, when no handle from the
// previous process can still be open. Files that cannot be removed are
// reported and left for the next run.
func CleanupPendingDeletions(fsys FS, installDir string, logger *log.Logger) (int, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentApply)

	var targets []string
	err := fsys.WalkFiles(installDir, func(rel string) error {
		if strings.HasSuffix(rel, MarkerSuffix) {
			targets = append(targets, filepath.Join(installDir, rel))
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, err
	}
	if _, err := fsys.Stat(filepath.Join(installDir, ScriptName)); err == nil {
		targets = append(targets, filepath.Join(installDir, ScriptName))
	}

	removed := 0
	var merr *multierror.Error
	for _, path := range targets {
		if err := fsys.Remove(path); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		removed++
	}

	if removed > 0 || merr != nil {
		logger.Info("Pending deletions cleaned up",
			log.FieldOperation, log.OpCleanup,
			log.FieldCount, removed,
			"failed", len(targets)-removed)
	}
	return removed, merr.ErrorOrNil()
}
