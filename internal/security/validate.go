package security

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/evocrew/evocrew/internal/domainerr"
)

// Schema is a minimal per-tool argument contract: which keys are required,
// and which free-text keys get the denylist/length checks applied. This
// intentionally stays a plain Go struct rather than a JSON-Schema
// document — mcp-go's mcp.WithString/mcp.Enum already carries the
// client-facing schema metadata; this is the second, server-side
// enforcement layer.
type Schema struct {
	Required  []string
	FreeText  []string // keys validated with ValidateString
}

// dangerousSubstrings is the denylist applied to free-text fields: control
// characters, NUL, and markers associated with shell/SQL injection
// attempts. Grounded on original_source/security.py's validate_string,
// which strips control characters and rejects NUL outright.
var dangerousSubstrings = []string{
	"\x00", "${", "$(", "`", "; rm ", "; drop ", "' OR '1'='1", "--\n",
}

// ValidateString enforces the length bound and denylist scan shared by
// every free-text argument: string length at most 10,000 characters and a
// dangerous-pattern denylist.
func ValidateString(field, value string, limits Limits) error {
	if utf8.RuneCountInString(value) > limits.MaxStringLength {
		return domainerr.Newf(domainerr.InvalidArgument, "%s exceeds max length of %d characters", field, limits.MaxStringLength)
	}
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return domainerr.Newf(domainerr.InvalidArgument, "%s contains a disallowed control character", field)
		}
	}
	lower := strings.ToLower(value)
	for _, pattern := range dangerousSubstrings {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return domainerr.Newf(domainerr.InvalidArgument, "%s contains a disallowed pattern", field)
		}
	}
	return nil
}

// Sanitize strips NUL bytes and trims surrounding whitespace.
func Sanitize(value string) string {
	value = strings.ReplaceAll(value, "\x00", "")
	return strings.TrimSpace(value)
}

// SanitizeList caps a string slice to maxLen entries, sanitizing each.
func SanitizeList(values []string, maxLen int) []string {
	if len(values) > maxLen {
		values = values[:maxLen]
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = Sanitize(v)
	}
	return out
}

// ValidateJSONDepth recursively checks a decoded JSON value's nesting
// depth and collection sizes against limits, rejecting pathological
// payloads before they reach a handler. Grounded on
// original_source/security.py's validate_json recursive depth check.
func ValidateJSONDepth(v any, limits Limits) error {
	return validateDepth(v, 0, limits)
}

func validateDepth(v any, depth int, limits Limits) error {
	if depth > limits.MaxJSONDepth {
		return domainerr.Newf(domainerr.InvalidArgument, "argument nesting exceeds max depth of %d", limits.MaxJSONDepth)
	}
	switch t := v.(type) {
	case map[string]any:
		if len(t) > limits.MaxListLength {
			return domainerr.Newf(domainerr.InvalidArgument, "object has more than %d keys", limits.MaxListLength)
		}
		for _, val := range t {
			if err := validateDepth(val, depth+1, limits); err != nil {
				return err
			}
		}
	case []any:
		if len(t) > limits.MaxListLength {
			return domainerr.Newf(domainerr.InvalidArgument, "array has more than %d elements", limits.MaxListLength)
		}
		for _, val := range t {
			if err := validateDepth(val, depth+1, limits); err != nil {
				return err
			}
		}
	case string:
		if utf8.RuneCountInString(t) > limits.MaxStringLength {
			return domainerr.Newf(domainerr.InvalidArgument, "string value exceeds max length of %d characters", limits.MaxStringLength)
		}
	}
	return nil
}

// RequireFields returns InvalidArgument if any required key is absent or
// blank in args.
func RequireFields(args map[string]string, required []string) error {
	for _, key := range required {
		if strings.TrimSpace(args[key]) == "" {
			return domainerr.Newf(domainerr.InvalidArgument, "%q is required", key)
		}
	}
	return nil
}

// ValidatePriority checks an instruction priority is in the valid 1..5
// range.
func ValidatePriority(p int) error {
	if p < 1 || p > 5 {
		return domainerr.New(domainerr.InvalidArgument, fmt.Sprintf("priority must be in 1..5, got %d", p))
	}
	return nil
}
