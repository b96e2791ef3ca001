package writer

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/pkg/models"
)

// QualityMetrics summarises how many generated outputs survived the
// quality battery. Rates are percentages.
type QualityMetrics struct {
	TotalInputItems            int64   `json:"total_input_items"`
	TotalGeneratedItems        int64   `json:"total_generated_items"`
	QualityPassedItems         int64   `json:"quality_passed_items"`
	QualityFailedItems         int64   `json:"quality_failed_items"`
	FlaggedItems               int64   `json:"flagged_items"`
	QualityPassRate            float64 `json:"quality_pass_rate"`
	GenerationSuccessRate      float64 `json:"generation_success_rate"`
	AverageGenerationsPerInput float64 `json:"average_generations_per_input"`
}

// ComputeQualityMetrics derives report metrics from job statistics.
// Flagged outputs are written to the dataset and count as passed; an input
// succeeded when it was accepted or flagged.
func ComputeQualityMetrics(stats models.JobStats) QualityMetrics {
	generated := stats.OutputsWritten + stats.OutputsRejected
	m := QualityMetrics{
		TotalInputItems:     stats.Processed,
		TotalGeneratedItems: generated,
		QualityPassedItems:  stats.OutputsWritten,
		QualityFailedItems:  stats.OutputsRejected,
		FlaggedItems:        stats.OutputsFlagged,
	}
	if generated > 0 {
		m.QualityPassRate = float64(stats.OutputsWritten) / float64(generated) * 100
	}
	if stats.Processed > 0 {
		m.GenerationSuccessRate = float64(stats.Accepted+stats.Flagged) / float64(stats.Processed) * 100
		m.AverageGenerationsPerInput = float64(generated) / float64(stats.Processed)
	}
	return m
}

// Report is the content of quality_report.json
type Report struct {
	JobID          string          `json:"job_id"`
	State          models.JobState `json:"state"`
	Strategy       string          `json:"generation_strategy"`
	Backend        string          `json:"backend"`
	Model          string          `json:"model_id"`
	Statistics     models.JobStats `json:"statistics"`
	QualityMetrics QualityMetrics  `json:"quality_metrics"`
	Parameters     any             `json:"parameters,omitempty"`
	GeneratedTime  time.Time       `json:"generated_time"`
	IsPartial      bool            `json:"is_partial"`
}

// Meta is the content of meta.json
type Meta struct {
	JobID           string          `json:"job_id"`
	RunID           string          `json:"run_id"`
	TaskType        string          `json:"task_type"`
	Strategy        string          `json:"strategy"`
	Backend         string          `json:"backend"`
	Model           string          `json:"model_id"`
	OutputPath      string          `json:"output_path"`
	State           models.JobState `json:"state"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	InputItemCount  int64           `json:"input_item_count"`
	OutputItemCount int64           `json:"output_item_count"`
	FileSize        int64           `json:"file_size"`
}

// WriteReport writes quality_report.json, filling QualityMetrics from
// Statistics
func (d *JobDir) WriteReport(r *Report) error {
	if r.JobID == "" {
		r.JobID = d.name
	}
	r.QualityMetrics = ComputeQualityMetrics(r.Statistics)
	if err := writeJSONFile(d.ReportPath(), r); err != nil {
		return errors.Wrap(err, "failed to write quality report")
	}
	d.logger.Info("Wrote quality report", "path", d.ReportPath(), "partial", r.IsPartial)
	return nil
}

// WriteMeta writes meta.json. OutputPath and FileSize default to the
// dataset file.
func (d *JobDir) WriteMeta(m *Meta) error {
	if m.JobID == "" {
		m.JobID = d.name
	}
	if m.TaskType == "" {
		m.TaskType = "synthesis"
	}
	if m.OutputPath == "" {
		m.OutputPath = d.DatasetPath()
	}
	if info, err := os.Stat(m.OutputPath); err == nil {
		m.FileSize = info.Size()
	}
	if err := writeJSONFile(d.MetaPath(), m); err != nil {
		return errors.Wrap(err, "failed to write metadata")
	}
	return nil
}

// ReadReport loads quality_report.json. A missing report returns nil, nil.
func (d *JobDir) ReadReport() (*Report, error) {
	data, err := os.ReadFile(d.ReportPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read quality report")
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "failed to parse quality report")
	}
	return &r, nil
}

// writeJSONFile replaces path atomically with indented JSON
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
