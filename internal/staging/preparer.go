package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"spese-desktop/internal/backup"
	"spese-desktop/internal/core"
	"spese-desktop/internal/log"
	"spese-desktop/internal/storage"
)

// BackupSource enumerates the backups known to the running application.
type BackupSource interface {
	Backups() []core.Backup
}

type Config struct {
	CopyWorkers    int
	MigrateWorkers int
	// DevMode copies history files instead of hard-linking them.
	DevMode bool
}

// Result summarises a successful preparation.
type Result struct {
	TargetVersion string
	// Copied lists the migrated copies, one per forward backup.
	Copied []string
	// Migrated counts copies that needed schema changes.
	Migrated int
	// Skipped counts copies that were already at head.
	Skipped int
	// Legacy lists files carried over unmodified.
	Legacy []string
}

// Preparer fills a staging tree with migrated copies of every backup.
// It never writes outside the tree.
type Preparer struct {
	cfg    Config
	sink   core.ProgressSink
	logger *log.Logger

	copyDB    func(ctx context.Context, src, dst string) error
	migrateDB func(path string) (bool, error)
}

func NewPreparer(cfg Config, sink core.ProgressSink, logger *log.Logger) *Preparer {
	if cfg.CopyWorkers < 1 {
		cfg.CopyWorkers = runtime.NumCPU()
	}
	if cfg.MigrateWorkers < 1 {
		cfg.MigrateWorkers = runtime.NumCPU()
	}
	if sink == nil {
		sink = core.NopSink{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Preparer{
		cfg:       cfg,
		sink:      sink,
		logger:    logger.WithComponent(log.ComponentStaging),
		copyDB:    storage.BackupTo,
		migrateDB: storage.MigrateToHead,
	}
}

type copyTask struct {
	src core.Backup
	dst string
	err error
}

type migrateTask struct {
	path     string
	migrated bool
	err      error
}

// Prepare copies every forward backup into tree.BackupsDir under the
// staged version, then migrates each copy to head. All copies finish
// before any migration starts. A failing task does not stop its siblings;
// errors are reported once the whole phase is done.
func (p *Preparer) Prepare(ctx context.Context, tree *Tree, source BackupSource) (*Result, error) {
	start := time.Now()

	target, err := tree.TargetVersion()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrBackupCopy, err)
	}
	if err := os.MkdirAll(tree.BackupsDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create staged backups directory: %w", core.ErrBackupCopy, err)
	}

	forward, history := backup.Classify(source.Backups())
	p.logger.InfoContext(ctx, "Preparing staged backups",
		log.FieldTargetVersion, target,
		"forward", len(forward),
		"history", len(history))

	copies, err := p.copyPhase(ctx, forward, tree.BackupsDir, target)
	if err != nil {
		return nil, err
	}

	res := &Result{TargetVersion: target}
	for _, c := range copies {
		res.Copied = append(res.Copied, c.dst)
	}

	migrations, err := p.migratePhase(ctx, res.Copied)
	if err != nil {
		return nil, err
	}
	for _, m := range migrations {
		if m.migrated {
			res.Migrated++
		} else {
			res.Skipped++
		}
	}

	// Sources of this run's copies become history for the next one.
	carry := history
	for _, c := range copies {
		if filepath.Base(c.src.Path) != filepath.Base(c.dst) {
			carry = append(carry, c.src)
		}
	}
	legacy, err := p.carryLegacy(carry, tree.BackupsDir)
	if err != nil {
		return nil, err
	}
	res.Legacy = legacy

	p.logger.InfoContext(ctx, "Staged backups ready",
		log.NewFields().
			WithVersions("", target).
			WithResult(time.Since(start).Milliseconds(), true).
			ToSlice()...)
	p.logger.Info("Preparation summary",
		log.FieldCount, len(res.Copied),
		"migrated", res.Migrated,
		"skipped", res.Skipped,
		"legacy", len(res.Legacy))
	return res, nil
}

func (p *Preparer) copyPhase(ctx context.Context, forward []core.Backup, dir, target string) ([]*copyTask, error) {
	p.sink.SetStage(core.StageCopy)
	p.sink.SetProgress(0)

	tasks := make([]*copyTask, len(forward))
	for i, b := range forward {
		tasks[i] = &copyTask{src: b, dst: filepath.Join(dir, backup.FileName(b.Timestamp, target))}
	}

	var done atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.cfg.CopyWorkers)
	for _, task := range tasks {
		g.Go(func() error {
			task.err = p.copyDB(ctx, task.src.Path, task.dst)
			if task.err != nil {
				p.logger.ErrorContext(ctx, "Backup copy failed",
					log.NewFields().
						WithOperation(log.OpCopy).
						WithBackup(task.src.Path, task.src.AppVersion).
						WithError(task.err).
						WithErrorType(log.ErrorTypeDatabase).
						ToSlice()...)
			} else {
				p.logger.DebugContext(ctx, "Backup copied", log.FieldBackup, task.src.Path, log.FieldPath, task.dst)
			}
			p.sink.SetProgress(float64(done.Add(1)) / float64(len(tasks)))
			return nil
		})
	}
	g.Wait()

	var merr *multierror.Error
	for _, task := range tasks {
		if task.err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", filepath.Base(task.src.Path), task.err))
		}
	}
	if merr != nil {
		return nil, fmt.Errorf("%w: %d of %d copies failed: %w", core.ErrBackupCopy, merr.Len(), len(tasks), merr)
	}
	return tasks, nil
}

func (p *Preparer) migratePhase(ctx context.Context, paths []string) ([]*migrateTask, error) {
	p.sink.SetStage(core.StageMigrate)
	p.sink.SetProgress(0)

	tasks := make([]*migrateTask, len(paths))
	for i, path := range paths {
		tasks[i] = &migrateTask{path: path}
	}

	var done atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.cfg.MigrateWorkers)
	for _, task := range tasks {
		g.Go(func() error {
			task.migrated, task.err = p.migrateDB(task.path)
			if task.err != nil {
				p.logger.ErrorContext(ctx, "Backup migration failed",
					log.NewFields().
						WithOperation(log.OpMigrate).
						WithError(task.err).
						WithErrorType(log.ErrorTypeDatabase).
						ToSlice()...)
			} else {
				p.logger.DebugContext(ctx, "Backup migrated", log.FieldPath, task.path, "changed", task.migrated)
			}
			p.sink.SetProgress(float64(done.Add(1)) / float64(len(tasks)))
			return nil
		})
	}
	g.Wait()

	var merr *multierror.Error
	for _, task := range tasks {
		if task.err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", filepath.Base(task.path), task.err))
		}
	}
	if merr != nil {
		return nil, fmt.Errorf("%w: %d of %d migrations failed: %w", core.ErrBackupMigration, merr.Len(), len(tasks), merr)
	}
	return tasks, nil
}

// carryLegacy places history files in dir unmodified. Hard links leave
// the live files alone; dev mode always copies.
func (p *Preparer) carryLegacy(files []core.Backup, dir string) ([]string, error) {
	var out []string
	for _, b := range files {
		dst := filepath.Join(dir, filepath.Base(b.Path))
		if err := p.place(b.Path, dst); err != nil {
			return out, fmt.Errorf("%w: carry %s: %w", core.ErrBackupCopy, filepath.Base(b.Path), err)
		}
		out = append(out, dst)
	}
	return out, nil
}

func (p *Preparer) place(src, dst string) error {
	if !p.cfg.DevMode {
		err := os.Link(src, dst)
		if err == nil {
			return nil
		}
		p.logger.Debug("Hard link failed, copying", log.FieldPath, src, log.FieldError, err)
	}
	return storage.CopyFile(src, dst)
}
