package writer

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

// Job directory name format: job_2026-10-30T14-30-00
var jobDirNameRegex = regexp.MustCompile(`^job_\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}$`)

// ValidateJobDirName rejects job names that could address anything other
// than a direct child of outputDir:
//   - path traversal (..)
//   - absolute paths
//   - path separators
//   - names not in the job_YYYY-MM-DDTHH-MM-SS format
func ValidateJobDirName(outputDir, name string) error {
	if name == "" {
		return errors.New("job name cannot be empty")
	}

	if strings.Contains(name, "..") {
		return errors.New("invalid job name: contains '..' (path traversal attempt)")
	}

	if filepath.IsAbs(name) {
		return errors.New("invalid job name: must be relative path")
	}

	if strings.ContainsAny(name, "/\\") {
		return errors.New("invalid job name: must be directory name without path separators")
	}

	if !jobDirNameRegex.MatchString(name) {
		return errors.Newf("invalid job name format: expected 'job_YYYY-MM-DDTHH-MM-SS', got '%s'", name)
	}

	absOutput, err := filepath.Abs(outputDir)
	if err != nil {
		return errors.Wrap(err, "failed to resolve output directory")
	}
	absPath, err := filepath.Abs(filepath.Join(outputDir, name))
	if err != nil {
		return errors.Wrap(err, "failed to resolve job path")
	}

	// Separator suffix so "/out" does not accept "/out-other"
	if !strings.HasPrefix(absPath, absOutput+string(filepath.Separator)) {
		return errors.New("job path escapes output directory")
	}

	return nil
}
