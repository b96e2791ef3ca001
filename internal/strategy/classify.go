package strategy

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/lamim/synthforge/internal/backend"
	"github.com/lamim/synthforge/internal/util"
	"github.com/lamim/synthforge/pkg/models"
)

var boxedRegex = regexp.MustCompile(`\\boxed\{(.*?)\}`)

// classify assigns one label from a fixed set
type classify struct {
	*base
	labels map[string]string // lower-cased label -> canonical label
}

func newClassify(b *base) *classify {
	labels := make(map[string]string, len(b.cfg.LabelSet))
	for _, l := range b.cfg.LabelSet {
		labels[strings.ToLower(strings.TrimSpace(l))] = l
	}
	return &classify{base: b, labels: labels}
}

func (s *classify) Render(rec models.Record) ([]backend.Request, error) {
	req, err := s.request(rec, 1, s.templateData(rec, 1))
	if err != nil {
		return nil, err
	}
	return []backend.Request{req}, nil
}

func (s *classify) Materialize(rec models.Record, variant int, resp *backend.Response) ([]models.OutputRecord, error) {
	text := s.cleanText(resp)
	raw := ExtractLabel(util.StripThinkTags(text))

	label, ok := s.labels[strings.ToLower(raw)]
	if !ok {
		return nil, errors.WithDetailf(ErrLabelOutOfSet, "record %s: got %q", rec.ID, util.TruncateString(raw, 80))
	}

	fields := copyFields(rec.Fields)
	fields[s.cfg.TargetField] = label
	return []models.OutputRecord{s.output(rec, variant, fields, resp)}, nil
}

// ExtractLabel returns the content of the last \boxed{} in text, or the
// first non-empty line with common decoration removed.
func ExtractLabel(text string) string {
	if matches := boxedRegex.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		return cleanLabel(matches[len(matches)-1][1])
	}
	for _, line := range strings.Split(text, "\n") {
		if l := cleanLabel(line); l != "" {
			return l
		}
	}
	return ""
}

func cleanLabel(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, prefix := range []string{"label:", "category:", "answer:", "class:"} {
		if strings.HasPrefix(lower, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			break
		}
	}
	return strings.Trim(s, " \t*`'\".。")
}
