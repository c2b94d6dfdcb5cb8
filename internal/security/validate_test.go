package security

import "testing"

func TestValidateStringLengthBoundary(t *testing.T) {
	limits := DefaultLimits()

	ok := make([]byte, limits.MaxStringLength)
	for i := range ok {
		ok[i] = 'a'
	}
	if err := ValidateString("field", string(ok), limits); err != nil {
		t.Errorf("string at max length rejected: %v", err)
	}

	tooLong := append(ok, 'a')
	if err := ValidateString("field", string(tooLong), limits); err == nil {
		t.Error("string one over max length accepted, want error")
	}
}

func TestValidateStringDenylist(t *testing.T) {
	limits := DefaultLimits()
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"clean text", "please summarize the quarterly report", false},
		{"nul byte", "hello\x00world", true},
		{"shell substitution", "echo $(whoami)", true},
		{"backtick", "run `ls`", true},
		{"sql injection marker", "' OR '1'='1", true},
		{"drop table", "; drop table agents", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateString("field", tt.value, limits)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateString(%q) error = %v, wantErr = %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeStripsNULAndTrims(t *testing.T) {
	got := Sanitize("  hello\x00world  ")
	if want := "helloworld"; got != want {
		t.Errorf("Sanitize() = %q, want %q", got, want)
	}
}

func TestValidatePriorityRange(t *testing.T) {
	for p := 1; p <= 5; p++ {
		if err := ValidatePriority(p); err != nil {
			t.Errorf("ValidatePriority(%d) = %v, want nil", p, err)
		}
	}
	if err := ValidatePriority(0); err == nil {
		t.Error("ValidatePriority(0) = nil, want error")
	}
	if err := ValidatePriority(6); err == nil {
		t.Error("ValidatePriority(6) = nil, want error")
	}
}

func TestValidateJSONDepthRejectsDeepNesting(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxJSONDepth = 2

	shallow := map[string]any{"a": map[string]any{"b": "leaf"}}
	if err := ValidateJSONDepth(shallow, limits); err != nil {
		t.Errorf("shallow nesting rejected: %v", err)
	}

	deep := map[string]any{"a": map[string]any{"b": map[string]any{"c": "leaf"}}}
	if err := ValidateJSONDepth(deep, limits); err == nil {
		t.Error("deep nesting accepted, want error")
	}
}
