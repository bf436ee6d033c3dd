package apply

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"spese-desktop/internal/log"
	"spese-desktop/internal/staging"
)

// POSIX swaps trees with renames. Open files keep their inode, so the
// running process is unaffected and no helper script is needed.
type POSIX struct {
	fs     FS
	logger *log.Logger
}

func NewPOSIX(fsys FS, logger *log.Logger) *POSIX {
	if logger == nil {
		logger = log.Discard()
	}
	return &POSIX{fs: fsys, logger: logger.WithComponent(log.ComponentApply)}
}

func (p *POSIX) Name() string { return "posix" }

func (p *POSIX) BackupOldTree(ctx context.Context, req *Request, prevDir string) error {
	moves := [][2]string{
		{req.livePayload(), filepath.Join(prevDir, staging.PayloadDirName)},
		{req.liveBackups(), filepath.Join(prevDir, req.BackupsDirName)},
		{req.liveExecutable(), filepath.Join(prevDir, req.ExecutableName)},
	}
	for _, m := range moves {
		if err := p.moveIfExists(m[0], m[1]); err != nil {
			return err
		}
	}
	return nil
}

func (p *POSIX) CopyNewTree(ctx context.Context, req *Request) error {
	if err := p.fs.Rename(req.Tree.PayloadDir, req.livePayload()); err != nil {
		return fmt.Errorf("move staged payload: %w", err)
	}
	return p.moveIfExists(req.Tree.BackupsDir, req.liveBackups())
}

func (p *POSIX) SwapExecutable(ctx context.Context, req *Request) error {
	if err := p.fs.Rename(req.Tree.Executable, req.liveExecutable()); err != nil {
		return fmt.Errorf("move staged executable: %w", err)
	}
	return nil
}

func (p *POSIX) Relaunch(ctx context.Context, req *Request) error {
	if err := p.fs.RemoveAll(req.Tree.Root); err != nil {
		p.logger.Warn("Failed to remove staging directory", log.FieldPath, req.Tree.Root, log.FieldError, err)
	}
	req.endSession()
	if req.RestartProcess == nil {
		return nil
	}
	return req.RestartProcess(req.liveExecutable())
}

func (p *POSIX) moveIfExists(from, to string) error {
	if _, err := p.fs.Stat(from); errors.Is(err, fs.ErrNotExist) {
		p.logger.Debug("Nothing to move", log.FieldPath, from)
		return nil
	}
	if err := p.fs.Rename(from, to); err != nil {
		return fmt.Errorf("move %s: %w", from, err)
	}
	return nil
}
