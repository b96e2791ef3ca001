package writer

import (
	"strings"
	"testing"
)

func TestValidateJobDirName_Valid(t *testing.T) {
	tests := []string{
		"job_2026-10-30T14-30-00",
		"job_2024-01-01T00-00-00",
		"job_2023-12-31T23-59-59",
	}

	for _, tt := range tests {
		t.Run(tt, func(t *testing.T) {
			if err := ValidateJobDirName("output", tt); err != nil {
				t.Errorf("ValidateJobDirName(%q) returned unexpected error: %v", tt, err)
			}
		})
	}
}

func TestValidateJobDirName_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string // substring of expected error message
	}{
		{name: "empty", input: "", want: "cannot be empty"},
		{name: "traversal_double_dot", input: "../etc", want: "path traversal"},
		{name: "traversal_in_middle", input: "job_2026-10-30T14-30-00/../etc", want: "path traversal"},
		{name: "absolute_unix", input: "/etc/passwd", want: "must be relative"},
		// Caught by the separator check before the absolute check
		{name: "absolute_windows", input: "C:\\Windows\\System32", want: "without path separators"},
		{name: "with_forward_slash", input: "job/2026", want: "without path separators"},
		{name: "with_backslash", input: "job\\2026", want: "without path separators"},
		{name: "wrong_format_no_prefix", input: "my-job", want: "invalid job name format"},
		{name: "old_session_prefix", input: "session_2026-10-30T14-30-00", want: "invalid job name format"},
		{name: "missing_separator", input: "job_20261030T143000", want: "invalid job name format"},
		{name: "null_byte", input: "job_2026-10-30T14-30-00\x00", want: "invalid job name format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJobDirName("output", tt.input)
			if err == nil {
				t.Errorf("ValidateJobDirName(%q) expected error containing %q, got nil", tt.input, tt.want)
			} else if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ValidateJobDirName(%q) error = %v, want substring %q", tt.input, err, tt.want)
			}
		})
	}
}
