// Package quality decides whether a generated output record is kept,
// dropped or kept for manual review.
package quality

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lamim/synthforge/internal/config"
	"github.com/lamim/synthforge/pkg/models"
)

// Reason codes attached to rejected or flagged outputs
const (
	ReasonEmpty         = "quality:empty"
	ReasonNulBytes      = "quality:nul-bytes"
	ReasonMinLength     = "quality:min-length"
	ReasonMaxLength     = "quality:max-length"
	ReasonRequiredField = "quality:required-field"
	ReasonDuplicate     = "quality:duplicate-of-input"
	ReasonLabelSet      = "quality:label-set"
	ReasonPairing       = "quality:pairing"
	ReasonRefusal       = "quality:refusal"
	ReasonIncomplete    = "quality:incomplete"
	ReasonScore         = "quality:score"
)

// Config is the evaluator configuration: the [quality] section plus the
// strategy details the structural checks need.
type Config struct {
	config.QualityConfig

	Strategy      string
	LabelSet      []string
	TargetField   string
	QuestionField string
}

// FromConfig extracts the evaluator configuration from a job configuration
func FromConfig(cfg *config.Config) Config {
	return Config{
		QualityConfig: cfg.Quality,
		Strategy:      cfg.Strategy.Kind,
		LabelSet:      cfg.Strategy.LabelSet,
		TargetField:   cfg.Strategy.TargetField,
		QuestionField: cfg.Strategy.QuestionField,
	}
}

// Result is the outcome of evaluating one output record
type Result struct {
	Verdict models.Verdict
	Reasons []string
	Score   float64
}

// Evaluator runs the quality battery. It is stateless and safe for
// concurrent use.
type Evaluator struct {
	cfg    Config
	labels map[string]bool
}

// NewEvaluator creates an evaluator, filling unset thresholds with defaults
func NewEvaluator(cfg Config) *Evaluator {
	if cfg.MinLength <= 0 {
		cfg.MinLength = config.DefaultMinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = config.DefaultMaxLength
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = config.DefaultDuplicateThreshold
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = config.DefaultMinScore
	}
	if cfg.TargetField == "" {
		cfg.TargetField = "output"
	}

	labels := make(map[string]bool, len(cfg.LabelSet))
	for _, l := range cfg.LabelSet {
		labels[l] = true
	}
	return &Evaluator{cfg: cfg, labels: labels}
}

// Evaluate classifies out, produced from src. Reject checks win over flag
// checks; every failing check contributes a reason.
func (e *Evaluator) Evaluate(out models.OutputRecord, src models.Record) Result {
	var rejects, flags []string
	generated := e.generatedText(out, src)

	if strings.TrimSpace(generated) == "" {
		rejects = append(rejects, ReasonEmpty)
	}
	if containsNul(out.Fields) {
		rejects = append(rejects, ReasonNulBytes)
	}

	switch e.cfg.Strategy {
	case config.StrategyClassify:
		label, _ := out.Fields[e.cfg.TargetField].(string)
		if !e.labels[label] {
			rejects = append(rejects, ReasonLabelSet)
		}
	default:
		n := utf8.RuneCountInString(generated)
		if n < e.cfg.MinLength {
			rejects = append(rejects, ReasonMinLength)
		}
		if n > e.cfg.MaxLength {
			rejects = append(rejects, ReasonMaxLength)
		}
		if !e.cfg.DisableRefusalCheck && IsRefusal(generated) {
			rejects = append(rejects, ReasonRefusal)
		}
	}

	if e.cfg.Strategy == config.StrategyQA {
		q := strings.TrimSpace(stringify(out.Fields[e.cfg.QuestionField]))
		a := strings.TrimSpace(stringify(out.Fields[e.cfg.TargetField]))
		if q == "" || a == "" {
			rejects = append(rejects, ReasonPairing)
		}
	}

	for _, field := range e.cfg.RequiredFields {
		if strings.TrimSpace(stringify(out.Fields[field])) == "" {
			rejects = append(rejects, ReasonRequiredField)
			break
		}
	}

	if !e.cfg.DisableDuplicateCheck && e.cfg.Strategy != config.StrategyClassify {
		if sourceSimilarity(generated, src) >= e.cfg.DuplicateThreshold {
			rejects = append(rejects, ReasonDuplicate)
		}
	}

	if e.cfg.FlagIncomplete {
		if incomplete, _ := IsIncomplete(generated); incomplete {
			flags = append(flags, ReasonIncomplete)
		}
	}

	score := Score(out.Fields)
	if !e.cfg.DisableHeuristicScore && score < e.cfg.MinScore {
		flags = append(flags, ReasonScore)
	}

	switch {
	case len(rejects) > 0:
		return Result{Verdict: models.VerdictReject, Reasons: append(rejects, flags...), Score: score}
	case len(flags) > 0:
		return Result{Verdict: models.VerdictFlag, Reasons: flags, Score: score}
	}
	return Result{Verdict: models.VerdictAccept, Score: score}
}

// generatedText joins the values the backend produced: every field except
// "original" whose value is new or differs from the source record.
func (e *Evaluator) generatedText(out models.OutputRecord, src models.Record) string {
	if e.cfg.Strategy == config.StrategyQA {
		return strings.Join(flatten(out.Fields[e.cfg.TargetField]), "\n")
	}

	keys := make([]string, 0, len(out.Fields))
	for k := range out.Fields {
		if k == "original" {
			continue
		}
		if prev, ok := src.Fields[k]; ok && k != e.cfg.TargetField && stringify(prev) == stringify(out.Fields[k]) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, flatten(out.Fields[k])...)
	}
	return strings.Join(parts, "\n")
}

// sourceSimilarity is the highest similarity between generated and any
// single source field, or the whole record, so unrelated fields cannot
// dilute an echo of the field being rewritten
func sourceSimilarity(generated string, src models.Record) float64 {
	best := Similarity(generated, strings.Join(flatten(src.Fields), "\n"))
	for _, v := range src.Fields {
		if sim := Similarity(generated, strings.Join(flatten(v), "\n")); sim > best {
			best = sim
		}
	}
	return best
}

// flatten collects the scalar leaves of v in key order, leaving out keys
func flatten(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			out = append(out, flatten(t[k])...)
		}
		return out
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, flatten(item)...)
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

func containsNul(fields map[string]any) bool {
	for k, v := range fields {
		if k == "original" {
			continue
		}
		for _, s := range flatten(v) {
			if strings.ContainsRune(s, 0) {
				return true
			}
		}
	}
	return false
}

// Score is a coarse heuristic in [0, 1]: small records, thin content and
// repeated values lower it. The echoed "original" field is not scored.
func Score(fields map[string]any) float64 {
	total, count := 0, 0
	values := make(map[string]struct{}, len(fields))
	for k, v := range fields {
		if k == "original" {
			continue
		}
		count++
		s := stringify(v)
		total += utf8.RuneCountInString(s)
		values[strings.ToLower(s)] = struct{}{}
	}

	score := 1.0
	if count < 2 {
		score *= 0.8
	}
	switch {
	case total < 50:
		score *= 0.7
	case total > 1000:
		score *= 1.1
	}
	if len(values) < count {
		score *= 0.9
	}
	return min(score, 1.0)
}
