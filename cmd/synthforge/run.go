package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/internal/checkpoint"
	"github.com/lamim/synthforge/internal/config"
	"github.com/lamim/synthforge/internal/metrics"
	"github.com/lamim/synthforge/internal/orchestrator"
	"github.com/lamim/synthforge/internal/quality"
	"github.com/lamim/synthforge/internal/strategy"
	"github.com/lamim/synthforge/internal/tracker"
	"github.com/lamim/synthforge/internal/writer"
	"github.com/lamim/synthforge/pkg/models"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const defaultOutputDir = "output"

func runGeneration(cmd *cobra.Command, args []string) error {
	loadEnv()

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	if cfg.Job.ResumeFromJob != "" {
		dir, err := writer.OpenJobDir(cfg.Output.Dir, cfg.Job.ResumeFromJob, slog.Default())
		if err != nil {
			return errors.Wrap(err, "failed to open job directory")
		}
		return executeJob(cfg, secrets, dir)
	}

	dir, err := writer.NewJobDir(cfg.Output.Dir, time.Now(), slog.Default())
	if err != nil {
		return errors.Wrap(err, "failed to create job directory")
	}
	if err := dir.BackupConfig(configPath); err != nil {
		return errors.Wrap(err, "failed to backup config")
	}
	return executeJob(cfg, secrets, dir)
}

func resumeJob(cmd *cobra.Command, args []string) error {
	loadEnv()

	dir, err := resolveJobDir(args[0])
	if err != nil {
		return err
	}

	path := resumeConfig
	if path == "" {
		path = dir.ConfigBackupPath()
	}
	cfg, secrets, err := config.Load(path)
	if err != nil {
		return errors.Wrapf(err, "failed to load configuration %s", path)
	}

	fmt.Printf("Resuming job %s\n\n", dir.Name())
	return executeJob(cfg, secrets, dir)
}

func loadEnv() {
	if err := config.LoadEnvFile(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	} else if verbose && envFile != "" {
		fmt.Fprintf(os.Stderr, "Loaded env file: %s\n", envFile)
	}
}

// resolveJobDir accepts either a path to a job directory or a bare job
// name under the default output directory
func resolveJobDir(arg string) (*writer.JobDir, error) {
	parent, name := writer.SplitJobPath(arg)
	if parent == "." {
		if info, err := os.Stat(arg); err != nil || !info.IsDir() {
			parent = defaultOutputDir
		}
	}
	dir, err := writer.OpenJobDir(parent, name, slog.Default())
	if err != nil {
		return nil, errors.Wrapf(err, "invalid job directory %s", arg)
	}
	return dir, nil
}

// executeJob wires every component for one job in dir and runs it until
// it finishes or the process is interrupted
func executeJob(cfg *config.Config, secrets *config.Secrets, dir *writer.JobDir) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	logger, logFile, err := writer.SetupLogger(dir, logLevel)
	if err != nil {
		return errors.Wrap(err, "failed to setup logger")
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Sync()
			_ = logFile.Close()
		}
	}()

	logger.Info("synthforge starting",
		"version", Version,
		"job_dir", dir.Path(),
		"strategy", cfg.Strategy.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(logger)
	addr := metricsAddr
	if addr == "" {
		addr = cfg.Metrics.ListenAddr
	}
	if addr != "" {
		go func() {
			if err := collector.Serve(ctx, addr); err != nil {
				logger.Error("Metrics endpoint stopped", "error", err)
			}
		}()
	}

	pool := backend.NewPool(logger, backend.WithObserver(collector))
	if err := pool.BuildAll(backend.DefaultRegistry(), cfg.Backends, secrets); err != nil {
		return errors.Wrap(err, "failed to build backends")
	}

	strat, err := strategy.New(cfg.Strategy)
	if err != nil {
		return errors.Wrap(err, "failed to build strategy")
	}

	store, err := openStore(ctx, cfg, dir, logger)
	if err != nil {
		return err
	}
	checkpoints := checkpoint.NewManager(store, dir.Name(), checkpoint.ComputeConfigHash(cfg), logger)
	defer func() {
		if err := checkpoints.Close(); err != nil {
			logger.Error("Failed to close checkpoint store", "error", err)
		}
	}()

	sink, err := writer.NewJSONLSink(dir.DatasetPath(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error("Failed to close dataset", "error", err)
		}
	}()
	ledger, err := writer.NewLedger(dir.FailuresPath(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error("Failed to close failure ledger", "error", err)
		}
	}()

	spec := orchestrator.SpecFromConfig(cfg, dir.Name())
	spec.Force = force

	tr := tracker.New(time.Now)
	job, err := orchestrator.New(orchestrator.Deps{
		Backends:    pool,
		Strategy:    strat,
		Evaluator:   quality.NewEvaluator(quality.FromConfig(cfg)),
		Checkpoints: checkpoints,
		Sink:        sink,
		Ledger:      ledger,
		Tracker:     tr,
		Metrics:     collector,
		JobDir:      dir,
		Logger:      logger,
	}, spec)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	progressCtx, stopProgress := context.WithCancel(ctx)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		showProgress(progressCtx, tr, job.ID())
	}()

	runErr := job.Run(ctx)
	stopProgress()
	<-progressDone

	stats := job.Stats()
	switch {
	case runErr == nil:
		logger.Info("Generation complete",
			"processed", stats.Processed,
			"accepted", stats.Accepted,
			"flagged", stats.Flagged,
			"failed", stats.Failed,
			"outputs", stats.OutputsWritten,
			"dataset", dir.DatasetPath())
		return nil
	case errors.Is(runErr, orchestrator.ErrJobCancelled):
		logger.Warn("Generation interrupted - resume from checkpoint",
			"job_dir", dir.Path(),
			"resume_command", fmt.Sprintf("synthforge resume %s", dir.Path()))
		return errors.Newf("generation interrupted (resume with: synthforge resume %s)", dir.Path())
	case errors.Is(runErr, checkpoint.ErrConfigMismatch):
		return errors.Wrap(runErr, "configuration changed since the checkpoint (use --force to resume anyway)")
	}
	return errors.Wrap(runErr, "generation failed")
}

// openStore returns the checkpoint store selected by [checkpoint].store
func openStore(ctx context.Context, cfg *config.Config, dir *writer.JobDir, logger *slog.Logger) (checkpoint.Store, error) {
	if cfg.Checkpoint.Store == config.StoreSQLite {
		path := cfg.Checkpoint.Path
		if path == "" {
			path = filepath.Join(dir.Path(), "checkpoints.db")
		}
		store, err := checkpoint.OpenSQLite(ctx, path, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open checkpoint database")
		}
		return store, nil
	}
	store, err := checkpoint.NewFileStore(dir.OutputDir(), logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint store")
	}
	return store, nil
}

// showProgress renders committed progress from tracker snapshots until the
// job reaches a terminal state
func showProgress(ctx context.Context, tr *tracker.Tracker, jobID string) {
	var (
		updates <-chan tracker.Snapshot
		cancel  func()
	)
	// The job registers itself once Run starts
	for updates == nil {
		ch, c, err := tr.Subscribe(jobID)
		if err == nil {
			updates, cancel = ch, c
			break
		}
		if !errors.Is(err, tracker.ErrJobNotFound) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	defer cancel()

	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription("Processing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)

	for snap := range updates {
		if snap.TotalEstimate > 0 && bar.GetMax64() != snap.TotalEstimate {
			bar.ChangeMax64(snap.TotalEstimate)
		}
		_ = bar.Set64(snap.Offset)
		bar.Describe(fmt.Sprintf("%s: %d accepted, %d failed", snap.State, snap.Accepted, snap.Failed))

		if snap.State.IsTerminal() {
			if snap.State == models.JobStateCompleted {
				_ = bar.Finish()
			}
			return
		}
	}
}
