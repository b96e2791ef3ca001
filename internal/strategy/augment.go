package strategy

import (
	"fmt"

	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/internal/util"
	"github.com/lamim/synthforge/pkg/models"
)

// augment enriches a record with generated fields. Original keys are kept
// unless the target field names them.
type augment struct {
	*base
}

func (s *augment) Render(rec models.Record) ([]backend.Request, error) {
	data := s.templateData(rec, 1)
	data["FieldHint"] = fmt.Sprintf("Add a field named %q.", s.cfg.TargetField)
	req, err := s.request(rec, 1, data)
	if err != nil {
		return nil, err
	}
	return []backend.Request{req}, nil
}

func (s *augment) Materialize(rec models.Record, variant int, resp *backend.Response) ([]models.OutputRecord, error) {
	text := s.cleanText(resp)
	fields := copyFields(rec.Fields)

	obj, err := util.DecodeObject(text)
	if err != nil {
		fields[s.cfg.TargetField] = text
		return []models.OutputRecord{s.output(rec, variant, fields, resp)}, nil
	}

	for k, v := range obj {
		if _, exists := rec.Fields[k]; exists && k != s.cfg.TargetField {
			continue
		}
		fields[k] = v
	}
	return []models.OutputRecord{s.output(rec, variant, fields, resp)}, nil
}
