package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spese-desktop/internal/amqp"
	"spese-desktop/internal/apply"
	"spese-desktop/internal/backup"
	"spese-desktop/internal/cli"
	"spese-desktop/internal/config"
	"spese-desktop/internal/core"
	"spese-desktop/internal/download"
	xhttp "spese-desktop/internal/http"
	"spese-desktop/internal/log"
	"spese-desktop/internal/release"
	"spese-desktop/internal/staging"
	"spese-desktop/internal/update"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether a newer release is published",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}
			defer env.close()

			ctx, cancel := cli.SignalContext(cmd.Context(), env.logger)
			defer cancel()

			rel, err := env.orchestrator.Check(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", update.UserMessage(err), err)
			}
			if rel == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Already running the latest version (%s)\n", env.cfg.CurrentVersion)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Update available: %s -> %s\n", env.cfg.CurrentVersion, rel.Tag)
			return nil
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Download, prepare and apply the latest release",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}
			defer env.close()

			ctx, cancel := cli.SignalContext(cmd.Context(), env.logger)
			defer cancel()

			s, err := env.orchestrator.Run(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", update.UserMessage(err), err)
			}
			if s.UpToDate() {
				fmt.Fprintf(cmd.OutOrStdout(), "Already running the latest version (%s)\n", s.CurrentVersion)
			}
			return nil
		},
	}
}

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove files left pending deletion by a previous update",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli.LoadEnvFile(envFiles()...)
			cfg := config.Load()
			logger := cli.SetupLogger(levelFor(cfg))

			n, err := apply.CleanupPendingDeletions(apply.OSFS{}, cfg.InstallDir, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d pending files\n", n)
			return nil
		},
	}
}

// environment is the wired update pipeline for one command run.
type environment struct {
	cfg          *config.Config
	logger       *log.Logger
	orchestrator *update.Orchestrator
	closers      []func() error
}

func (e *environment) close() {
	for _, c := range e.closers {
		if err := c(); err != nil {
			e.logger.Warn("Close failed", log.FieldError, err)
		}
	}
}

func setup() (*environment, error) {
	cli.LoadEnvFile(envFiles()...)
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	if devMode {
		cfg.DevMode = true
	}
	logger := cli.SetupLogger(levelFor(cfg))
	env := &environment{cfg: cfg, logger: logger}

	sink := core.MultiSink{log.NewProgressSink(logger)}
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			// Progress publishing is optional.
			logger.Warn("AMQP progress publishing disabled", log.FieldError, err)
		} else {
			updateID := fmt.Sprintf("%s-%d", cfg.CurrentVersion, time.Now().Unix())
			sink = append(sink, amqp.NewProgressSink(client, updateID))
			env.closers = append(env.closers, client.Close)
		}
	}

	registry, err := backup.Scan(cfg.BackupsDir(), logger)
	if err != nil {
		env.close()
		return nil, fmt.Errorf("scan backups: %w", err)
	}

	httpClient := xhttp.NewClient(xhttp.Config{
		Retries:        cfg.HTTPRetries,
		Timeout:        cfg.HTTPTimeout,
		InitialBackoff: cfg.RetryBackoff,
		UserAgent:      "spese-updater/" + version,
		Token:          cfg.FeedToken,
	}, logger)

	fsys := apply.OSFS{}
	proc := apply.OSProcess{}

	deps := update.Deps{
		Checker: release.NewClient(release.Config{
			FeedURL:      cfg.FeedURL,
			ProbeURL:     cfg.ProbeURL,
			ProbeTimeout: cfg.ProbeTimeout,
		}, httpClient, logger),
		Downloader: download.NewDownloader(download.Config{
			StagingDir:     cfg.StagingDir,
			GOOS:           cfg.TargetOS,
			BackupsDirName: cfg.BackupsDirName,
			ExecutableName: cfg.ExecutableName,
			ExtractRetries: cfg.ExtractRetries,
		}, httpClient, sink, logger),
		Preparer: staging.NewPreparer(staging.Config{
			CopyWorkers:    cfg.CopyWorkers,
			MigrateWorkers: cfg.MigrateWorkers,
			DevMode:        cfg.DevMode,
		}, sink, logger),
		Applier: apply.NewApplier(apply.StrategyFor(cfg.TargetOS, fsys, proc, logger), fsys, sink, logger),
	}

	app := &installedApp{cfg: cfg, registry: registry, proc: proc, env: env}
	env.orchestrator = update.NewOrchestrator(update.Config{
		InstallDir:     cfg.InstallDir,
		ExecutableName: cfg.ExecutableName,
		BackupsDirName: cfg.BackupsDirName,
	}, app, deps, sink, logger)

	logger.Info("Updater ready",
		log.FieldVersion, cfg.CurrentVersion,
		log.FieldPlatform, cfg.TargetOS,
		log.FieldCount, registry.Len(),
		log.FieldPath, cfg.InstallDir)
	return env, nil
}

// installedApp is the installation the updater runs against.
type installedApp struct {
	cfg      *config.Config
	registry *backup.Registry
	proc     apply.Process
	env      *environment
}

func (a *installedApp) CurrentVersion() string { return a.cfg.CurrentVersion }

func (a *installedApp) Backups() []core.Backup { return a.registry.Backups() }

// EndSession closes the broker connection; the process is about to be
// replaced or to exit.
func (a *installedApp) EndSession() {
	a.env.close()
	a.env.closers = nil
}

func (a *installedApp) RestartProcess(exe string) error {
	return a.proc.Exec(exe, []string{exe})
}

func envFiles() []string {
	if envFile != "" {
		return []string{envFile}
	}
	return nil
}

func levelFor(cfg *config.Config) string {
	if logLevel != "" {
		return logLevel
	}
	return cfg.LogLevel
}

var _ update.AppContext = (*installedApp)(nil)
