package writer

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
)

// JobDirPrefix starts every job directory name
const JobDirPrefix = "job_"

// JobDirTimeLayout formats the timestamp part of a job directory name
const JobDirTimeLayout = "2006-01-02T15-04-05"

// File names inside a job directory
const (
	DatasetFilename      = "dataset.jsonl"
	FailuresFilename     = "failures.jsonl"
	LogFilename          = "session.log"
	ConfigBackupFilename = "config.toml.bak"
	ReportFilename       = "quality_report.json"
	MetaFilename         = "meta.json"
)

// ErrJobDirNotFound is returned when resuming a job whose directory is missing
var ErrJobDirNotFound = errors.New("job directory not found")

// JobDir is the on-disk home of one job. Its name doubles as the job ID.
type JobDir struct {
	outputDir string
	name      string
	logger    *slog.Logger
}

// NewJobDir creates output/job_<timestamp> for a new job
func NewJobDir(outputDir string, now time.Time, logger *slog.Logger) (*JobDir, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create output directory")
	}

	name := JobDirPrefix + now.Format(JobDirTimeLayout)
	dir := filepath.Join(outputDir, name)
	if err := os.Mkdir(dir, 0755); err != nil {
		if os.IsExist(err) {
			return nil, errors.Newf("job directory %s already exists", dir)
		}
		return nil, errors.Wrap(err, "failed to create job directory")
	}

	logger.Info("Created job directory", "path", dir)
	return &JobDir{outputDir: outputDir, name: name, logger: logger}, nil
}

// OpenJobDir reopens an existing job directory by name
func OpenJobDir(outputDir, name string, logger *slog.Logger) (*JobDir, error) {
	if err := ValidateJobDirName(outputDir, name); err != nil {
		return nil, err
	}
	dir := filepath.Join(outputDir, name)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, errors.WithDetailf(ErrJobDirNotFound, "path: %s", dir)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", dir)
	}
	if !info.IsDir() {
		return nil, errors.Newf("%s is not a directory", dir)
	}

	logger.Info("Resuming from existing job directory", "path", dir)
	return &JobDir{outputDir: outputDir, name: name, logger: logger}, nil
}

// SplitJobPath turns a path such as output/job_2026-01-02T03-04-05 into
// its output directory and job name
func SplitJobPath(path string) (outputDir, name string) {
	clean := filepath.Clean(path)
	return filepath.Dir(clean), filepath.Base(clean)
}

// Name is the job ID
func (d *JobDir) Name() string { return d.name }

// OutputDir is the directory holding every job directory
func (d *JobDir) OutputDir() string { return d.outputDir }

func (d *JobDir) Path() string { return filepath.Join(d.outputDir, d.name) }

func (d *JobDir) DatasetPath() string { return filepath.Join(d.Path(), DatasetFilename) }

func (d *JobDir) FailuresPath() string { return filepath.Join(d.Path(), FailuresFilename) }

func (d *JobDir) LogPath() string { return filepath.Join(d.Path(), LogFilename) }

func (d *JobDir) ConfigBackupPath() string { return filepath.Join(d.Path(), ConfigBackupFilename) }

func (d *JobDir) ReportPath() string { return filepath.Join(d.Path(), ReportFilename) }

func (d *JobDir) MetaPath() string { return filepath.Join(d.Path(), MetaFilename) }

// BackupConfig copies the job configuration into the job directory so a
// resume reuses exactly the same settings
func (d *JobDir) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config file")
	}

	backupPath := d.ConfigBackupPath()
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return errors.Wrap(err, "failed to write config backup")
	}

	d.logger.Info("Backed up config file", "path", backupPath)
	return nil
}
