package strategy

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/internal/util"
	"github.com/lamim/synthforge/pkg/models"
)

var questionKeys = []string{"question", "instruction", "input", "query", "prompt"}

// qa answers a question taken from the record
type qa struct {
	*base
}

// question picks the question text: the source field, then the selected
// fields, then the usual keys.
func (s *qa) question(rec models.Record) string {
	if s.cfg.SourceField != "" {
		return strings.TrimSpace(stringify(rec.Fields[s.cfg.SourceField]))
	}
	if len(s.cfg.SelectedFields) > 0 {
		parts := make([]string, 0, len(s.cfg.SelectedFields))
		for _, k := range s.cfg.SelectedFields {
			if v := strings.TrimSpace(stringify(rec.Fields[k])); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, "\n\n")
	}
	q, _ := lookupField(rec.Fields, questionKeys)
	return q
}

func (s *qa) Render(rec models.Record) ([]backend.Request, error) {
	q := s.question(rec)
	if q == "" {
		return nil, errors.Mark(errors.Newf("record %s has no question field", rec.ID), ErrRenderFailed)
	}
	data := s.templateData(rec, 1)
	data["Question"] = q
	req, err := s.request(rec, 1, data)
	if err != nil {
		return nil, err
	}
	return []backend.Request{req}, nil
}

func (s *qa) Materialize(rec models.Record, variant int, resp *backend.Response) ([]models.OutputRecord, error) {
	text := s.cleanText(resp)
	question := s.question(rec)
	answer := text

	// Some models answer with a {"question": ..., "answer": ...} pair
	if obj, err := util.DecodeObject(text); err == nil {
		_, hasQ := obj["question"]
		_, hasA := obj["answer"]
		if hasQ || hasA {
			if q := strings.TrimSpace(stringify(obj["question"])); q != "" {
				question = q
			}
			answer = stringify(obj["answer"])
			if !hasQ || !hasA {
				return nil, errors.WithDetailf(ErrPairingIncomplete, "record %s: JSON pair missing a side", rec.ID)
			}
		}
	}

	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return nil, errors.WithDetailf(ErrPairingIncomplete, "record %s: empty question or answer", rec.ID)
	}

	fields := map[string]any{
		s.cfg.QuestionField: question,
		s.cfg.TargetField:   answer,
	}
	return []models.OutputRecord{s.output(rec, variant, fields, resp)}, nil
}
