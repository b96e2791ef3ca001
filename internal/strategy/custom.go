package strategy

import (
	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/internal/util"
	"github.com/lamim/synthforge/pkg/models"
)

// custom renders a user template, inline or from a template pack
type custom struct {
	*base
}

func (s *custom) Render(rec models.Record) ([]backend.Request, error) {
	reqs := make([]backend.Request, 0, s.count)
	for v := 1; v <= s.count; v++ {
		req, err := s.request(rec, v, s.templateData(rec, v))
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (s *custom) Materialize(rec models.Record, variant int, resp *backend.Response) ([]models.OutputRecord, error) {
	text := s.cleanText(resp)
	fields := copyFields(rec.Fields)

	if s.cfg.MergeJSON {
		if obj, err := util.DecodeObject(text); err == nil {
			for k, v := range obj {
				fields[k] = v
			}
			return []models.OutputRecord{s.output(rec, variant, fields, resp)}, nil
		}
	}

	fields[s.cfg.TargetField] = text
	return []models.OutputRecord{s.output(rec, variant, fields, resp)}, nil
}
