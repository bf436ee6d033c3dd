// Package apply swaps a prepared staging tree into the live installation.
//
// Once Apply starts the live installation is being modified. Failures are
// reported but never rolled back; the previous-version copy made in the
// first step is the recovery path.
package apply

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"spese-desktop/internal/core"
	"spese-desktop/internal/log"
	"spese-desktop/internal/staging"
)

// PreviousVersionDir is created in the install directory and holds one
// copy of the pre-update tree per update.
const PreviousVersionDir = "PreviousVersion"

type State int

const (
	NotStarted State = iota
	BackingUpOldTree
	CopyingNewTree
	SwappingExecutable
	Relaunching
	Done
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case BackingUpOldTree:
		return "backing_up_old_tree"
	case CopyingNewTree:
		return "copying_new_tree"
	case SwappingExecutable:
		return "swapping_executable"
	case Relaunching:
		return "relaunching"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Request describes one swap of a staged tree into an installation.
type Request struct {
	InstallDir     string
	ExecutableName string
	BackupsDirName string
	CurrentVersion string
	Tree           *staging.Tree

	// EndSession releases application resources before the process goes away.
	EndSession func()
	// RestartProcess starts exe in place of the current process.
	RestartProcess func(exe string) error
}

func (r *Request) livePayload() string {
	return filepath.Join(r.InstallDir, staging.PayloadDirName)
}

func (r *Request) liveBackups() string {
	return filepath.Join(r.InstallDir, r.BackupsDirName)
}

func (r *Request) liveExecutable() string {
	return filepath.Join(r.InstallDir, r.ExecutableName)
}

func (r *Request) endSession() {
	if r.EndSession != nil {
		r.EndSession()
	}
}

// PlatformStrategy performs the platform specific part of every step.
type PlatformStrategy interface {
	Name() string
	BackupOldTree(ctx context.Context, req *Request, prevDir string) error
	CopyNewTree(ctx context.Context, req *Request) error
	SwapExecutable(ctx context.Context, req *Request) error
	Relaunch(ctx context.Context, req *Request) error
}

// StrategyFor returns the strategy for goos.
func StrategyFor(goos string, fsys FS, proc Process, logger *log.Logger) PlatformStrategy {
	if goos == "windows" {
		return NewWindows(fsys, proc, logger)
	}
	return NewPOSIX(fsys, logger)
}

type Applier struct {
	strategy PlatformStrategy
	fs       FS
	sink     core.ProgressSink
	logger   *log.Logger
	now      func() time.Time

	state State
}

func NewApplier(strategy PlatformStrategy, fsys FS, sink core.ProgressSink, logger *log.Logger) *Applier {
	if sink == nil {
		sink = core.NopSink{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Applier{
		strategy: strategy,
		fs:       fsys,
		sink:     sink,
		logger:   logger.WithComponent(log.ComponentApply),
		now:      time.Now,
	}
}

// State reports the last step entered.
func (a *Applier) State() State {
	return a.state
}

// PreviousVersionPath returns where the pre-update tree of req is kept.
func (a *Applier) PreviousVersionPath(req *Request) string {
	name := req.CurrentVersion + "_" + strconv.FormatInt(a.now().Unix(), 10)
	return filepath.Join(req.InstallDir, PreviousVersionDir, name)
}

// Apply runs the swap steps in order. The first failing step stops the
// sequence and is returned wrapped in core.ErrApply.
func (a *Applier) Apply(ctx context.Context, req *Request) error {
	if req.Tree == nil {
		return fmt.Errorf("%w: no staging tree", core.ErrApply)
	}

	prev := a.PreviousVersionPath(req)
	steps := []struct {
		state State
		run   func() error
	}{
		{BackingUpOldTree, func() error {
			if err := a.fs.MkdirAll(prev, 0755); err != nil {
				return err
			}
			return a.strategy.BackupOldTree(ctx, req, prev)
		}},
		{CopyingNewTree, func() error { return a.strategy.CopyNewTree(ctx, req) }},
		{SwappingExecutable, func() error { return a.strategy.SwapExecutable(ctx, req) }},
		{Relaunching, func() error { return a.strategy.Relaunch(ctx, req) }},
	}

	a.sink.SetStage(core.StageApply)
	a.logger.InfoContext(ctx, "Applying update",
		log.FieldPlatform, a.strategy.Name(),
		log.FieldPath, req.InstallDir,
		"previous_copy", prev)

	for i, step := range steps {
		a.state = step.state
		if step.state == Relaunching {
			a.sink.SetStage(core.StageRestart)
		}
		a.logger.DebugContext(ctx, "Apply step", log.FieldStep, step.state.String())

		if err := step.run(); err != nil {
			a.logger.ErrorContext(ctx, "Apply step failed",
				log.NewFields().
					WithOperation(log.OpApply).
					WithError(err).
					WithErrorType(log.ErrorTypeFilesystem).
					ToSlice()...)
			return fmt.Errorf("%w: %s: %w", core.ErrApply, step.state, err)
		}
		a.sink.SetProgress(float64(i+1) / float64(len(steps)))
	}

	a.state = Done
	a.logger.InfoContext(ctx, "Update applied", log.FieldPlatform, a.strategy.Name())
	return nil
}
