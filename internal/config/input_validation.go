package config

import (
	"net/url"
	"os"
	"unicode"

	"github.com/cockroachdb/errors"
)

const (
	// MaxJobNameLength is the maximum allowed length for job names
	MaxJobNameLength = 200

	// MaxModelNameLength is the maximum allowed length for model names
	MaxModelNameLength = 100

	// MaxTemplateSize is the maximum allowed size for template content
	MaxTemplateSize = 50 * 1024 // 50KB

	// MaxLabelCount is the maximum number of labels for classify
	MaxLabelCount = 1000
)

// ValidateInputs performs additional validation on user-controllable fields
// and checks that referenced files exist.
func (c *Config) ValidateInputs() error {
	if err := validateJobName(c.Job.Name); err != nil {
		return errors.Wrap(err, "invalid job.name")
	}

	for name, bc := range c.Backends {
		if err := validateModelName(bc.ModelName, name); err != nil {
			return err
		}
		if err := validateBaseURL(bc.BaseURL, name); err != nil {
			return err
		}
	}

	if err := c.validateTemplateSizes(); err != nil {
		return err
	}

	if len(c.Strategy.LabelSet) > MaxLabelCount {
		return errors.Newf("strategy.label_set exceeds %d labels (got %d)", MaxLabelCount, len(c.Strategy.LabelSet))
	}
	for _, label := range c.Strategy.LabelSet {
		if label == "" || containsControlChars(label) {
			return errors.Newf("strategy.label_set contains an empty or invalid label %q", label)
		}
	}

	if _, err := os.Stat(c.Input.Path); err != nil {
		return errors.Wrapf(err, "input.path %s is not readable", c.Input.Path)
	}
	if c.Strategy.TemplatePack != "" {
		if _, err := os.Stat(c.Strategy.TemplatePack); err != nil {
			return errors.Wrapf(err, "strategy.template_pack %s is not readable", c.Strategy.TemplatePack)
		}
	}

	return nil
}

func validateJobName(name string) error {
	if len(name) > MaxJobNameLength {
		return errors.Newf("exceeds maximum length of %d characters (got %d)", MaxJobNameLength, len(name))
	}
	if containsControlChars(name) {
		return errors.New("contains invalid control characters")
	}
	return nil
}

// validateModelName checks model name for security issues
func validateModelName(modelName, configKey string) error {
	if len(modelName) > MaxModelNameLength {
		return errors.Newf("backend '%s' model name exceeds maximum length of %d (got %d)",
			configKey, MaxModelNameLength, len(modelName))
	}

	if containsControlChars(modelName) {
		return errors.Newf("backend '%s' model name contains invalid control characters", configKey)
	}

	return nil
}

// validateBaseURL checks that the base URL is properly formatted and safe
func validateBaseURL(baseURL, configKey string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return errors.Wrapf(err, "backend '%s' has invalid base_url", configKey)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("backend '%s' base_url must use http or https scheme (got %s)",
			configKey, u.Scheme)
	}

	if u.Host == "" {
		return errors.Newf("backend '%s' base_url must have a host", configKey)
	}

	return nil
}

// validateTemplateSizes checks that templates are within reasonable size limits
func (c *Config) validateTemplateSizes() error {
	templates := []struct {
		name  string
		value string
	}{
		{"template", c.Strategy.Template},
		{"system_prompt", c.Strategy.SystemPrompt},
		{"question_prompt", c.Strategy.QuestionPrompt},
		{"answer_prompt", c.Strategy.AnswerPrompt},
	}

	for _, tmpl := range templates {
		if len(tmpl.value) > MaxTemplateSize {
			return errors.Newf("strategy.%s exceeds maximum size of %d bytes (got %d)",
				tmpl.name, MaxTemplateSize, len(tmpl.value))
		}
	}

	return nil
}

// containsControlChars checks if a string contains control characters
// (excluding newlines, tabs, and carriage returns which are acceptable)
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
