package apply

import (
	"context"
	"fmt"
	"path/filepath"

	"spese-desktop/internal/log"
	"spese-desktop/internal/staging"
)

// MarkerSuffix is appended to files that are replaced while still open.
const MarkerSuffix = ".pending-delete"

// ResidentFiles stay mapped by the running process until it exits. They
// are neither renamed nor deleted in process; the helper script swaps them.
var ResidentFiles = []string{"base_library.zip"}

// IsResident reports whether the file at path is on the resident list.
func IsResident(path string) bool {
	base := filepath.Base(path)
	for _, name := range ResidentFiles {
		if base == name {
			return true
		}
	}
	return false
}

// Windows replaces files the running process holds open. Open files can be
// renamed but not deleted, so each replaced file is renamed to a marker
// name first and the markers are deleted when their handles are gone.
type Windows struct {
	fs     FS
	proc   Process
	logger *log.Logger
}

func NewWindows(fsys FS, proc Process, logger *log.Logger) *Windows {
	if logger == nil {
		logger = log.Discard()
	}
	return &Windows{fs: fsys, proc: proc, logger: logger.WithComponent(log.ComponentApply)}
}

func (w *Windows) Name() string { return "windows" }

// BackupOldTree copies the payload and executable, which may be locked for
// writing but can be read, and moves the backups directory.
func (w *Windows) BackupOldTree(ctx context.Context, req *Request, prevDir string) error {
	if w.exists(req.livePayload()) {
		dst := filepath.Join(prevDir, staging.PayloadDirName)
		if err := w.fs.WalkFiles(req.livePayload(), func(rel string) error {
			return w.fs.CopyFile(filepath.Join(req.livePayload(), rel), filepath.Join(dst, rel))
		}); err != nil {
			return fmt.Errorf("copy payload to previous version: %w", err)
		}
	}
	if w.exists(req.liveExecutable()) {
		if err := w.fs.CopyFile(req.liveExecutable(), filepath.Join(prevDir, req.ExecutableName)); err != nil {
			return fmt.Errorf("copy executable to previous version: %w", err)
		}
	}
	if w.exists(req.liveBackups()) {
		if err := w.fs.Rename(req.liveBackups(), filepath.Join(prevDir, req.BackupsDirName)); err != nil {
			return fmt.Errorf("move backups to previous version: %w", err)
		}
	}
	return nil
}

func (w *Windows) CopyNewTree(ctx context.Context, req *Request) error {
	var files []string
	if err := w.fs.WalkFiles(req.Tree.PayloadDir, func(rel string) error {
		if !IsResident(rel) {
			files = append(files, rel)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("list staged payload: %w", err)
	}

	var markers []string
	for _, rel := range files {
		live := filepath.Join(req.livePayload(), rel)
		if !w.exists(live) {
			continue
		}
		marker, err := w.mark(live)
		if err != nil {
			return err
		}
		markers = append(markers, marker)
	}

	for _, rel := range files {
		if err := w.fs.CopyFile(filepath.Join(req.Tree.PayloadDir, rel), filepath.Join(req.livePayload(), rel)); err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
	}

	kept := w.sweep(markers)
	w.logger.Info("Payload replaced",
		log.FieldCount, len(files),
		"pending_delete", kept)

	if w.exists(req.Tree.BackupsDir) {
		if err := w.fs.Rename(req.Tree.BackupsDir, req.liveBackups()); err != nil {
			return fmt.Errorf("move staged backups: %w", err)
		}
	}
	return nil
}

func (w *Windows) SwapExecutable(ctx context.Context, req *Request) error {
	live := req.liveExecutable()
	var marker string
	if w.exists(live) {
		m, err := w.mark(live)
		if err != nil {
			return err
		}
		marker = m
	}
	if err := w.fs.CopyFile(req.Tree.Executable, live); err != nil {
		return fmt.Errorf("copy staged executable: %w", err)
	}
	if marker != "" {
		w.sweep([]string{marker})
	}
	return nil
}

// Relaunch hands the last swap to a detached helper script and exits.
func (w *Windows) Relaunch(ctx context.Context, req *Request) error {
	var resident []ResidentSwap
	if err := w.fs.WalkFiles(req.Tree.PayloadDir, func(rel string) error {
		if IsResident(rel) {
			resident = append(resident, ResidentSwap{
				Live:   filepath.Join(req.livePayload(), rel),
				Staged: filepath.Join(req.Tree.PayloadDir, rel),
			})
		}
		return nil
	}); err != nil {
		return fmt.Errorf("list resident files: %w", err)
	}

	script, err := Script(ScriptParams{
		Delay:      ScriptDelay,
		Resident:   resident,
		InstallDir: req.InstallDir,
		Marker:     MarkerSuffix,
		Executable: req.liveExecutable(),
		StagingDir: req.Tree.Root,
	})
	if err != nil {
		return fmt.Errorf("render helper script: %w", err)
	}

	path := filepath.Join(req.InstallDir, ScriptName)
	if err := w.fs.WriteFile(path, []byte(script), 0644); err != nil {
		return fmt.Errorf("write helper script: %w", err)
	}
	if err := w.proc.SpawnDetached(path); err != nil {
		return fmt.Errorf("spawn helper script: %w", err)
	}

	w.logger.Info("Helper script started, exiting", log.FieldPath, path)
	req.endSession()
	w.proc.Exit(0)
	return nil
}

// mark renames path to its marker name, replacing a stale marker.
func (w *Windows) mark(path string) (string, error) {
	marker := path + MarkerSuffix
	if w.exists(marker) {
		if err := w.fs.Remove(marker); err != nil {
			return "", fmt.Errorf("remove stale marker %s: %w", marker, err)
		}
	}
	if err := w.fs.Rename(path, marker); err != nil {
		return "", fmt.Errorf("mark %s for deletion: %w", path, err)
	}
	return marker, nil
}

// sweep deletes what it can and returns how many markers remain.
func (w *Windows) sweep(markers []string) int {
	kept := 0
	for _, m := range markers {
		if err := w.fs.Remove(m); err != nil {
			kept++
			w.logger.Debug("Marker still in use", log.FieldPath, m, log.FieldError, err)
		}
	}
	return kept
}

func (w *Windows) exists(path string) bool {
	_, err := w.fs.Stat(path)
	return err == nil
}
