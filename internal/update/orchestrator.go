package update

import (
	"context"
	"time"

	"spese-desktop/internal/apply"
	"spese-desktop/internal/core"
	"spese-desktop/internal/log"
	"spese-desktop/internal/staging"
)

type Checker interface {
	Check(ctx context.Context, currentVersion string) (*core.Release, error)
}

type Downloader interface {
	Download(ctx context.Context, rel *core.Release) (*staging.Tree, error)
}

type Preparer interface {
	Prepare(ctx context.Context, tree *staging.Tree, source staging.BackupSource) (*staging.Result, error)
}

type Applier interface {
	Apply(ctx context.Context, req *apply.Request) error
}

// Deps are the pipeline stages, in the order they run.
type Deps struct {
	Checker    Checker
	Downloader Downloader
	Preparer   Preparer
	Applier    Applier
}

// Config describes the live installation.
type Config struct {
	InstallDir     string
	ExecutableName string
	BackupsDirName string
}

type Orchestrator struct {
	cfg    Config
	app    AppContext
	deps   Deps
	sink   core.ProgressSink
	logger *log.Logger
}

func NewOrchestrator(cfg Config, app AppContext, deps Deps, sink core.ProgressSink, logger *log.Logger) *Orchestrator {
	if sink == nil {
		sink = core.NopSink{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Orchestrator{
		cfg:    cfg,
		app:    app,
		deps:   deps,
		sink:   sink,
		logger: logger.WithComponent(log.ComponentUpdate),
	}
}

// Check runs only the release check.
func (o *Orchestrator) Check(ctx context.Context) (*core.Release, error) {
	o.sink.SetStage(core.StageChecking)
	return o.deps.Checker.Check(ctx, o.app.CurrentVersion())
}

// Run performs a full update. It returns the session in its final state;
// the error, if any, is also stored in the session. On Windows a
// successful run does not return: the process exits after handing over to
// the helper script.
func (o *Orchestrator) Run(ctx context.Context) (*Session, error) {
	start := time.Now()
	s := &Session{State: Idle, CurrentVersion: o.app.CurrentVersion()}

	o.enter(ctx, s, Checking, core.StageChecking)
	rel, err := o.deps.Checker.Check(ctx, s.CurrentVersion)
	if err != nil {
		return o.fail(ctx, s, err)
	}
	if rel == nil {
		s.State = Completed
		o.sink.SetStage(core.StageCompleted)
		return s, nil
	}
	s.Release = rel
	s.TargetVersion = rel.Tag

	o.enter(ctx, s, Downloading, "")
	tree, err := o.deps.Downloader.Download(ctx, rel)
	if err != nil {
		return o.fail(ctx, s, err)
	}
	s.Tree = tree

	o.enter(ctx, s, Preparing, "")
	res, err := o.deps.Preparer.Prepare(ctx, tree, o.app)
	if err != nil {
		o.logger.WarnContext(ctx, "Staging tree kept for inspection", log.FieldPath, tree.Root)
		return o.fail(ctx, s, err)
	}
	s.Result = res
	if res.TargetVersion != "" {
		s.TargetVersion = res.TargetVersion
	}

	o.enter(ctx, s, Applying, "")
	err = o.deps.Applier.Apply(ctx, &apply.Request{
		InstallDir:     o.cfg.InstallDir,
		ExecutableName: o.cfg.ExecutableName,
		BackupsDirName: o.cfg.BackupsDirName,
		CurrentVersion: s.CurrentVersion,
		Tree:           tree,
		EndSession:     o.app.EndSession,
		RestartProcess: o.app.RestartProcess,
	})
	if err != nil {
		return o.fail(ctx, s, err)
	}

	s.State = Completed
	o.sink.SetStage(core.StageCompleted)
	o.logger.InfoContext(ctx, "Update completed",
		log.NewFields().
			WithVersions(s.CurrentVersion, s.TargetVersion).
			WithResult(time.Since(start).Milliseconds(), true).
			ToSlice()...)
	return s, nil
}

// enter moves s to state. Stages run by the components report their own
// stage names, so stage is only set for the orchestrator's own steps.
func (o *Orchestrator) enter(ctx context.Context, s *Session, state State, stage string) {
	o.logger.DebugContext(ctx, "Session state changed", "from", s.State.String(), "to", state.String())
	s.State = state
	if stage != "" {
		o.sink.SetStage(stage)
	}
}

func (o *Orchestrator) fail(ctx context.Context, s *Session, err error) (*Session, error) {
	failedIn := s.State
	s.State = Failed
	s.Err = err
	o.sink.SetStage(core.StageFailed)

	level := o.logger.ErrorContext
	if core.Recoverable(err) {
		level = o.logger.WarnContext
	}
	level(ctx, "Update failed",
		log.FieldStep, failedIn.String(),
		log.FieldVersion, s.CurrentVersion,
		log.FieldError, err,
		"message", UserMessage(err),
		"live_install_changed", !core.Recoverable(err))
	return s, err
}
