package util

import (
	"bytes"
	"strings"
	"sync"
	"text/template"

	"github.com/cockroachdb/errors"
)

// ErrForbiddenDirective is returned when a prompt template tries to call
// functions or define/include other templates.
var ErrForbiddenDirective = errors.New("template contains forbidden directive")

var forbiddenDirectives = []string{"{{call", "{{define", "{{template", "{{block"}

// parsed templates keyed by their source text
var templateCache sync.Map

// RenderTemplate renders a prompt template against data. Missing keys are
// an error so a typo in a user template fails the job at startup rather
// than producing empty prompts.
func RenderTemplate(tmpl string, data map[string]any) (string, error) {
	t, err := ParseTemplate(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "failed to execute template")
	}
	return buf.String(), nil
}

// ParseTemplate validates and parses a template, reusing a cached parse
// when the same source was seen before.
func ParseTemplate(tmpl string) (*template.Template, error) {
	if cached, ok := templateCache.Load(tmpl); ok {
		return cached.(*template.Template), nil
	}

	for _, directive := range forbiddenDirectives {
		if strings.Contains(tmpl, directive) {
			return nil, errors.WithDetailf(ErrForbiddenDirective, "directive: %s", directive)
		}
	}

	t, err := template.New("prompt").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse template")
	}

	actual, _ := templateCache.LoadOrStore(tmpl, t)
	return actual.(*template.Template), nil
}

// ClearTemplateCache drops all cached templates
func ClearTemplateCache() {
	templateCache.Range(func(key, _ any) bool {
		templateCache.Delete(key)
		return true
	})
}

// TruncateString truncates a string to maxLen runes (Unicode-safe)
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
