// Package strategy turns input records into backend requests and turns
// backend responses back into output records.
package strategy

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/internal/config"
	"github.com/lamim/synthforge/internal/util"
	"github.com/lamim/synthforge/pkg/models"
)

// Kind names a generation strategy
type Kind string

const (
	KindExpand   Kind = config.StrategyExpand
	KindAugment  Kind = config.StrategyAugment
	KindRewrite  Kind = config.StrategyRewrite
	KindClassify Kind = config.StrategyClassify
	KindQA       Kind = config.StrategyQA
	KindCustom   Kind = config.StrategyCustom
)

// Strategy renders requests for a record and materialises responses.
// Render must depend only on the record and the configuration.
type Strategy interface {
	Name() string
	Kind() Kind
	Render(rec models.Record) ([]backend.Request, error)
	Materialize(rec models.Record, variant int, resp *backend.Response) ([]models.OutputRecord, error)
}

var (
	ErrRenderFailed      = errors.New("failed to render prompt")
	ErrMalformedResponse = errors.New("malformed response")
	ErrLabelOutOfSet     = errors.New("label outside the allowed set")
	ErrPairingIncomplete = errors.New("question/answer pairing incomplete")
	ErrUnknownKind       = errors.New("unknown strategy kind")
)

// ReasonOf maps a strategy error to its failure ledger reason code
func ReasonOf(err error) string {
	switch {
	case errors.Is(err, ErrLabelOutOfSet):
		return models.ReasonLabelOutOfSet
	case errors.Is(err, ErrPairingIncomplete):
		return models.ReasonPairingIncomplete
	case errors.Is(err, ErrRenderFailed):
		return models.ReasonRenderFailed
	}
	return models.ReasonMalformedResponse
}

// New builds the strategy selected by cfg.Kind
func New(cfg config.StrategyConfig) (Strategy, error) {
	b, err := newBase(cfg)
	if err != nil {
		return nil, err
	}

	var s Strategy
	switch Kind(cfg.Kind) {
	case KindExpand:
		s = &expand{base: b}
	case KindAugment:
		s = &augment{base: b}
	case KindRewrite:
		s = &rewrite{base: b}
	case KindClassify:
		s = newClassify(b)
	case KindQA:
		s = &qa{base: b}
	case KindCustom:
		s = &custom{base: b}
	default:
		return nil, errors.WithDetailf(ErrUnknownKind, "kind: %s", cfg.Kind)
	}

	// Dry-run built-in templates so a bad key fails at startup instead of
	// per record. Custom templates may index arbitrary record fields.
	if cfg.Kind == config.StrategyCustom {
		return s, nil
	}
	probe := models.Record{ID: "probe", Fields: map[string]any{"text": "probe", "question": "probe"}}
	if cfg.SourceField != "" {
		probe.Fields[cfg.SourceField] = "probe"
	}
	for _, f := range cfg.SelectedFields {
		probe.Fields[f] = "probe"
	}
	if _, err := s.Render(probe); err != nil {
		return nil, errors.Wrap(err, "template check failed")
	}
	return s, nil
}

// base carries what every kind shares: configuration, the prompt template
// and response cleaning options.
type base struct {
	cfg          config.StrategyConfig
	template     string
	system       string
	systemInline bool // the template prints .System itself
	count        int
	clean        util.CleanOptions
	now          func() time.Time
}

func newBase(cfg config.StrategyConfig) (*base, error) {
	b := &base{
		cfg:      cfg,
		template: cfg.Template,
		system:   cfg.SystemPrompt,
		count:    max(cfg.Count, 1),
		clean: util.CleanOptions{
			StripReasoning: cfg.StripReasoning,
			KeepReasoning:  cfg.KeepReasoning,
			CleanMeta:      cfg.CleanMeta,
		},
		now: time.Now,
	}

	if cfg.Kind == config.StrategyCustom && cfg.TemplatePack != "" {
		pack, err := LoadTemplatePack(cfg.TemplatePack)
		if err != nil {
			return nil, err
		}
		entry, err := pack.Get(cfg.TemplateName)
		if err != nil {
			return nil, err
		}
		b.template = entry.Prompt
		if entry.System != "" {
			b.system = entry.System
		}
		if entry.TargetField != "" {
			b.cfg.TargetField = entry.TargetField
		}
		if entry.Count > 0 {
			b.count = entry.Count
		}
		if entry.MergeJSON {
			b.cfg.MergeJSON = true
		}
	}

	if b.template == "" {
		b.template = config.GetDefaultTemplate(cfg.Kind)
	}
	if b.system == "" {
		b.system = config.GetDefaultSystemPrompt(cfg.Kind)
	}
	if _, err := util.ParseTemplate(b.template); err != nil {
		return nil, errors.Wrap(err, "invalid strategy template")
	}
	b.systemInline = strings.Contains(b.template, ".System")
	return b, nil
}

func (b *base) Name() string { return b.cfg.Kind }

func (b *base) Kind() Kind { return Kind(b.cfg.Kind) }

// templateData supplies every key a template may reference. Templates run
// with missingkey=error, so absent keys are filled with empty values.
func (b *base) templateData(rec models.Record, variant int) map[string]any {
	fields := b.visibleFields(rec)
	return map[string]any{
		"System":         b.system,
		"Count":          b.count,
		"Variant":        variant,
		"Sample":         renderJSON(fields),
		"Text":           b.sourceText(rec),
		"Question":       "",
		"Labels":         strings.Join(b.cfg.LabelSet, ", "),
		"FieldHint":      "",
		"QuestionPrompt": b.cfg.QuestionPrompt,
		"AnswerPrompt":   b.cfg.AnswerPrompt,
		"Fields":         fields,
		"Record":         rec.Fields,
		"ID":             rec.ID,
	}
}

// request renders one prompt from data
func (b *base) request(rec models.Record, variant int, data map[string]any) (backend.Request, error) {
	prompt, err := util.RenderTemplate(b.template, data)
	if err != nil {
		return backend.Request{}, errors.Mark(errors.Wrapf(err, "record %s", rec.ID), ErrRenderFailed)
	}
	req := backend.Request{
		Prompt: prompt,
		Metadata: map[string]string{
			"record_id": rec.ID,
			"strategy":  b.cfg.Kind,
			"variant":   strconv.Itoa(variant),
		},
	}
	if !b.systemInline {
		req.System = b.system
	}
	return req, nil
}

// cleanText applies reasoning and meta cleanup to a response
func (b *base) cleanText(resp *backend.Response) string {
	if resp == nil {
		return ""
	}
	return util.CleanResponse(resp.Text, resp.Reasoning, b.clean)
}

// output assembles an output record; the verdict is set later by the evaluator
func (b *base) output(rec models.Record, variant int, fields map[string]any, resp *backend.Response) models.OutputRecord {
	out := models.OutputRecord{
		SourceID:  rec.ID,
		Offset:    rec.Offset,
		Strategy:  b.cfg.Kind,
		Variant:   variant,
		Fields:    fields,
		CreatedAt: b.now().UTC(),
	}
	if resp != nil {
		out.Usage = &models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			Estimated:        resp.Usage.Estimated,
		}
	}
	return out
}

// visibleFields restricts the record to selected_fields when configured
func (b *base) visibleFields(rec models.Record) map[string]any {
	if len(b.cfg.SelectedFields) == 0 {
		return rec.Fields
	}
	out := make(map[string]any, len(b.cfg.SelectedFields))
	for _, k := range b.cfg.SelectedFields {
		if v, ok := rec.Fields[k]; ok {
			out[k] = v
		}
	}
	return out
}

var textKeys = []string{"text", "content", "input", "instruction", "prompt", "question"}

// sourceText is the single text value a strategy works on
func (b *base) sourceText(rec models.Record) string {
	if b.cfg.SourceField != "" {
		return stringify(rec.Fields[b.cfg.SourceField])
	}
	fields := b.visibleFields(rec)
	if len(fields) == 1 {
		for _, v := range fields {
			return stringify(v)
		}
	}
	if v, ok := lookupField(fields, textKeys); ok {
		return v
	}
	return renderJSON(fields)
}

// sourceValue is the value recorded as "original" in expand outputs
func (b *base) sourceValue(rec models.Record) any {
	if b.cfg.SourceField != "" {
		return rec.Fields[b.cfg.SourceField]
	}
	return b.visibleFields(rec)
}

// lookupField returns the first non-empty value among keys, also trying
// the capitalised spelling of each key.
func lookupField(fields map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		for _, candidate := range []string{k, strings.ToUpper(k[:1]) + k[1:]} {
			if v, ok := fields[candidate]; ok {
				if s := strings.TrimSpace(stringify(v)); s != "" {
					return s, true
				}
			}
		}
	}
	return "", false
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
			return ""
		}
		return string(data)
	}
}

// renderJSON serialises fields with sorted keys so prompts are stable
func renderJSON(fields map[string]any) string {
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func fieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
