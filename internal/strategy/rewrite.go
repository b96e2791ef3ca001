package strategy

import (
	"strings"

	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/pkg/models"
)

// rewrite paraphrases the source text into the target field
type rewrite struct {
	*base
}

func (s *rewrite) Render(rec models.Record) ([]backend.Request, error) {
	req, err := s.request(rec, 1, s.templateData(rec, 1))
	if err != nil {
		return nil, err
	}
	return []backend.Request{req}, nil
}

func (s *rewrite) Materialize(rec models.Record, variant int, resp *backend.Response) ([]models.OutputRecord, error) {
	text := strings.Trim(s.cleanText(resp), "\"")
	fields := copyFields(rec.Fields)
	fields[s.cfg.TargetField] = text
	return []models.OutputRecord{s.output(rec, variant, fields, resp)}, nil
}
