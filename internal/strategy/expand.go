package strategy

import (
	"fmt"
	"strings"

	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/internal/util"
	"github.com/lamim/synthforge/pkg/models"
)

// expand asks for count new samples modelled on each record
type expand struct {
	*base
}

func (s *expand) Render(rec models.Record) ([]backend.Request, error) {
	reqs := make([]backend.Request, 0, s.count)
	for v := 1; v <= s.count; v++ {
		data := s.templateData(rec, v)
		data["FieldHint"] = s.fieldHint(rec)
		req, err := s.request(rec, v, data)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (s *expand) fieldHint(rec models.Record) string {
	if s.cfg.SourceField != "" {
		return fmt.Sprintf("Write a new value comparable to the %q field.", s.cfg.SourceField)
	}
	fields := s.visibleFields(rec)
	if len(fields) < 2 {
		return ""
	}
	return "Keep the same fields: " + strings.Join(fieldNames(fields), ", ") + "."
}

func (s *expand) Materialize(rec models.Record, variant int, resp *backend.Response) ([]models.OutputRecord, error) {
	text := s.cleanText(resp)

	var generated any = text
	if s.cfg.SourceField == "" && len(s.visibleFields(rec)) > 1 {
		if obj, err := util.DecodeObject(text); err == nil {
			generated = obj
		}
	}

	fields := map[string]any{
		"original":        s.sourceValue(rec),
		s.cfg.TargetField: generated,
	}
	return []models.OutputRecord{s.output(rec, variant, fields, resp)}, nil
}
