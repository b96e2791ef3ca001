package util

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

var jsonCodeBlockRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// ErrNoJSON is returned when a model response holds no decodable JSON value
var ErrNoJSON = errors.New("response contains no JSON value")

// ExtractJSON pulls the first JSON array or object out of a model response.
// Markdown fences and leading chatter are dropped. A truncated array whose
// last element is complete gets its closing bracket back.
func ExtractJSON(s string) string {
	if matches := jsonCodeBlockRegex.FindStringSubmatch(s); len(matches) > 1 {
		s = strings.TrimSpace(matches[1])
	} else {
		s = strings.TrimSpace(s)
	}

	arrayStart := strings.IndexByte(s, '[')
	objectStart := strings.IndexByte(s, '{')

	if arrayStart != -1 && (objectStart == -1 || arrayStart < objectStart) {
		if end := findMatchingBracket(s, arrayStart, '[', ']'); end != -1 {
			return s[arrayStart : end+1]
		}
		// Truncated: drop the dangling partial element and close the array
		if cut := lastTopLevelComma(s, arrayStart); cut != -1 {
			return strings.TrimRight(s[arrayStart:cut], " \n\t") + "]"
		}
		return s
	}

	if objectStart != -1 {
		if end := findMatchingBracket(s, objectStart, '{', '}'); end != -1 {
			return s[objectStart : end+1]
		}
	}

	return s
}

// DecodeObject extracts and decodes a single JSON object from a response
func DecodeObject(response string) (map[string]any, error) {
	raw := ExtractJSON(response)
	if !strings.HasPrefix(raw, "{") {
		return nil, ErrNoJSON
	}
	var obj map[string]any
	if err := unmarshalLenient(raw, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// DecodeArray extracts and decodes a JSON array of arbitrary values
func DecodeArray(response string) ([]any, error) {
	raw := ExtractJSON(response)
	if !strings.HasPrefix(raw, "[") {
		return nil, ErrNoJSON
	}
	var arr []any
	if err := unmarshalLenient(raw, &arr); err != nil {
		return nil, err
	}
	return arr, nil
}

func unmarshalLenient(raw string, v any) error {
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	if retryErr := json.Unmarshal([]byte(SanitizeJSON(raw)), v); retryErr == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, "failed to decode JSON"), ErrNoJSON)
}

// findMatchingBracket returns the index of the bracket closing the one at
// startPos, ignoring brackets inside strings, or -1 when unbalanced.
func findMatchingBracket(s string, startPos int, openChar, closeChar byte) int {
	depth := 0
	inString := false
	escaped := false

	for i := startPos; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == openChar:
			depth++
		case ch == closeChar:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// lastTopLevelComma returns the index of the last comma separating elements
// of the array opened at start, or -1 if there is none.
func lastTopLevelComma(s string, start int) int {
	last := -1
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '[' || ch == '{':
			depth++
		case ch == ']' || ch == '}':
			depth--
		case ch == ',' && depth == 1:
			last = i
		}
	}
	return last
}

// SanitizeJSON escapes raw newlines that models leave inside string values
func SanitizeJSON(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			result.WriteByte(ch)
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString && (ch == '\n' || ch == '\r'):
			result.WriteString("\\n")
			if ch == '\r' && i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			continue
		}
		result.WriteByte(ch)
	}

	return result.String()
}
