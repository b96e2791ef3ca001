package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/checkpoint"
	"github.com/lamim/synthforge/internal/config"
	"github.com/lamim/synthforge/internal/input"
	"github.com/lamim/synthforge/internal/strategy"
	"github.com/lamim/synthforge/internal/writer"
	"github.com/lamim/synthforge/pkg/models"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05"

// inspector is a checkpoint store that can enumerate its contents
type inspector interface {
	checkpoint.Store
	checkpoint.Inspector
}

// openInspector opens the --db database when given, else the file store
// under dir
func openInspector(ctx context.Context, dir string) (inspector, error) {
	logger := slog.Default()
	if dbPath != "" {
		store, err := checkpoint.OpenSQLite(ctx, dbPath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := checkpoint.NewFileStore(dir, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// jobConfig reads the configuration backed up in dir without validating
// paths, which may have moved since the job ran
func jobConfig(dir *writer.JobDir) (*config.Config, error) {
	data, err := os.ReadFile(dir.ConfigBackupPath())
	if err != nil {
		return nil, err
	}
	return config.Parse(data)
}

// loadJobCheckpoint finds the checkpoint of dir in the store the job was
// configured with
func loadJobCheckpoint(ctx context.Context, dir *writer.JobDir, cfg *config.Config) (*models.Checkpoint, error) {
	var store checkpoint.Store
	var err error
	if dbPath == "" && cfg != nil && cfg.Checkpoint.Store == config.StoreSQLite {
		path := cfg.Checkpoint.Path
		if path == "" {
			path = filepath.Join(dir.Path(), "checkpoints.db")
		}
		store, err = checkpoint.OpenSQLite(ctx, path, slog.Default())
	} else {
		store, err = openInspector(ctx, dir.OutputDir())
	}
	if err != nil {
		return nil, err
	}
	defer store.Close()

	cp, err := store.Load(ctx, dir.Name())
	if err != nil {
		return nil, errors.Wrap(err, "failed to load checkpoint")
	}
	return cp, nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir, err := resolveJobDir(args[0])
	if err != nil {
		return err
	}

	cfg, err := jobConfig(dir)
	if err != nil {
		pterm.Warning.Printf("Could not read the job configuration: %v\n", err)
	}

	cp, err := loadJobCheckpoint(ctx, dir, cfg)
	if err != nil {
		return err
	}
	report, err := dir.ReadReport()
	if err != nil {
		return errors.Wrap(err, "failed to read quality report")
	}

	pterm.DefaultSection.Printf("Job %s", dir.Name())
	if cp == nil {
		pterm.Info.Println("No checkpoint has been written for this job yet.")
	} else {
		rows := checkpointRows(cp)
		if cfg != nil {
			if total, err := input.CountRecords(cfg.Input.Path, cfg.InputFormat()); err == nil {
				rows = append(rows, []string{"Progress", fmt.Sprintf("%.1f%% of %d", checkpoint.ProgressPercentage(cp, total), total)})
			}
		}
		if err := renderKeyValues(rows); err != nil {
			return err
		}
	}

	if report != nil {
		pterm.DefaultSection.Println("Quality report")
		m := report.QualityMetrics
		if err := renderKeyValues([][]string{
			{"State", string(report.State)},
			{"Partial", strconv.FormatBool(report.IsPartial)},
			{"Strategy", report.Strategy},
			{"Backend", report.Backend},
			{"Model", report.Model},
			{"Generated", strconv.FormatInt(m.TotalGeneratedItems, 10)},
			{"Passed", strconv.FormatInt(m.QualityPassedItems, 10)},
			{"Rejected", strconv.FormatInt(m.QualityFailedItems, 10)},
			{"Flagged", strconv.FormatInt(m.FlaggedItems, 10)},
			{"Pass rate", fmt.Sprintf("%.1f%%", m.QualityPassRate)},
			{"Success rate", fmt.Sprintf("%.1f%%", m.GenerationSuccessRate)},
			{"Outputs per input", fmt.Sprintf("%.2f", m.AverageGenerationsPerInput)},
			{"Generated at", report.GeneratedTime.Format(timeLayout)},
		}); err != nil {
			return err
		}
	}

	if cp != nil && cp.Status != models.JobStateCompleted {
		fmt.Println()
		pterm.Info.Printf("Resume with: synthforge resume %s\n", dir.Path())
	}
	return nil
}

// listCheckpoints lists all jobs that have committed a checkpoint
func listCheckpoints(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if _, err := os.Stat(outputDir); os.IsNotExist(err) && dbPath == "" {
		pterm.Info.Println("No output directory found. Run a generation first.")
		return nil
	}

	store, err := openInspector(ctx, outputDir)
	if err != nil {
		return err
	}
	defer store.Close()

	cps, err := store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list checkpoints")
	}
	if len(cps) == 0 {
		pterm.Info.Println("No checkpoints found.")
		return nil
	}

	data := pterm.TableData{{"JOB", "STATUS", "CHUNK", "OFFSET", "PROCESSED", "ACCEPTED", "FAILED", "UPDATED"}}
	for _, cp := range cps {
		data = append(data, []string{
			cp.JobID,
			string(cp.Status),
			strconv.Itoa(cp.ChunkIndex),
			strconv.FormatInt(cp.Offset, 10),
			strconv.FormatInt(cp.Stats.Processed, 10),
			strconv.FormatInt(cp.Stats.Accepted, 10),
			strconv.FormatInt(cp.Stats.Failed, 10),
			cp.UpdatedAt.Local().Format(timeLayout),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// inspectCheckpoint shows the live checkpoint of a job and every commit
// that led to it
func inspectCheckpoint(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir, err := resolveJobDir(args[0])
	if err != nil {
		return err
	}

	store, err := openInspector(ctx, dir.OutputDir())
	if err != nil {
		return err
	}
	defer store.Close()

	history, err := store.History(ctx, dir.Name())
	if err != nil {
		return errors.Wrap(err, "failed to read checkpoint history")
	}
	if len(history) == 0 {
		return errors.Newf("no checkpoint found for %s", dir.Name())
	}
	cp := history[len(history)-1]

	pterm.DefaultSection.Printf("Checkpoint %s", cp.JobID)
	if err := renderKeyValues(checkpointRows(cp)); err != nil {
		return err
	}

	pterm.DefaultSection.Println("History")
	data := pterm.TableData{{"UPDATED", "STATUS", "CHUNK", "OFFSET", "PROCESSED", "OUTPUTS", "SINK BYTES"}}
	for _, h := range history {
		data = append(data, []string{
			h.UpdatedAt.Local().Format(timeLayout),
			string(h.Status),
			strconv.Itoa(h.ChunkIndex),
			strconv.FormatInt(h.Offset, 10),
			strconv.FormatInt(h.Stats.Processed, 10),
			strconv.FormatInt(h.Stats.OutputsWritten, 10),
			strconv.FormatInt(h.SinkSize, 10),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	fmt.Println()
	if cp.Status == models.JobStateCompleted {
		pterm.Success.Println("This job is complete.")
	} else {
		pterm.Info.Printf("To resume this job, run: synthforge resume %s\n", dir.Path())
	}
	return nil
}

func listStrategies(cmd *cobra.Command, args []string) error {
	data := pterm.TableData{{"KIND", "DESCRIPTION", "OUTPUT", "REQUIRED", "OPTIONAL"}}
	for _, d := range strategy.Descriptions() {
		data = append(data, []string{
			string(d.Kind),
			d.Summary,
			d.Output,
			orNone(d.Required),
			orNone(d.Optional),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func checkpointRows(cp *models.Checkpoint) [][]string {
	return [][]string{
		{"Status", string(cp.Status)},
		{"Offset", strconv.FormatInt(cp.Offset, 10)},
		{"Last chunk", strconv.Itoa(cp.ChunkIndex)},
		{"Config hash", cp.ConfigHash},
		{"Processed", strconv.FormatInt(cp.Stats.Processed, 10)},
		{"Accepted", strconv.FormatInt(cp.Stats.Accepted, 10)},
		{"Flagged", strconv.FormatInt(cp.Stats.Flagged, 10)},
		{"Failed", strconv.FormatInt(cp.Stats.Failed, 10)},
		{"Outputs written", strconv.FormatInt(cp.Stats.OutputsWritten, 10)},
		{"Outputs flagged", strconv.FormatInt(cp.Stats.OutputsFlagged, 10)},
		{"Outputs rejected", strconv.FormatInt(cp.Stats.OutputsRejected, 10)},
		{"Requests", strconv.FormatInt(cp.Stats.Requests, 10)},
		{"Retries", strconv.FormatInt(cp.Stats.Retries, 10)},
		{"Tokens", fmt.Sprintf("%d prompt / %d completion", cp.Stats.PromptTokens, cp.Stats.CompletionTokens)},
		{"Created", cp.CreatedAt.Local().Format(timeLayout)},
		{"Updated", cp.UpdatedAt.Local().Format(timeLayout)},
	}
}

func renderKeyValues(rows [][]string) error {
	return pterm.DefaultTable.WithData(pterm.TableData(rows)).Render()
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
