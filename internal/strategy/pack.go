package strategy

import (
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// ErrTemplateNotFound is returned when a pack has no entry with the requested name
var ErrTemplateNotFound = errors.New("template not found in pack")

// TemplatePack is a YAML file of named custom templates:
//
//	templates:
//	  summarize:
//	    system: You write concise summaries.
//	    prompt: "Summarize:\n{{.Text}}"
//	    target_field: summary
//	    count: 1
type TemplatePack struct {
	Templates map[string]TemplateEntry `yaml:"templates"`
}

// TemplateEntry is one named template
type TemplateEntry struct {
	System      string `yaml:"system"`
	Prompt      string `yaml:"prompt"`
	TargetField string `yaml:"target_field"`
	Count       int    `yaml:"count"`
	MergeJSON   bool   `yaml:"merge_json"`
}

// LoadTemplatePack reads and validates a template pack
func LoadTemplatePack(path string) (*TemplatePack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read template pack %s", path)
	}

	var pack TemplatePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, errors.Wrapf(err, "failed to parse template pack %s", path)
	}
	if len(pack.Templates) == 0 {
		return nil, errors.Newf("template pack %s defines no templates", path)
	}
	for name, entry := range pack.Templates {
		if entry.Prompt == "" {
			return nil, errors.Newf("template %q in %s has an empty prompt", name, path)
		}
		if entry.Count < 0 {
			return nil, errors.Newf("template %q in %s has a negative count", name, path)
		}
	}
	return &pack, nil
}

// Get returns the named entry
func (p *TemplatePack) Get(name string) (TemplateEntry, error) {
	entry, ok := p.Templates[name]
	if !ok {
		return TemplateEntry{}, errors.WithDetailf(ErrTemplateNotFound, "template: %s, available: %v", name, p.Names())
	}
	return entry, nil
}

// Names returns the template names in sorted order
func (p *TemplatePack) Names() []string {
	names := make([]string, 0, len(p.Templates))
	for name := range p.Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
