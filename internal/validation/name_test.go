package validation

import (
	"strings"
	"testing"
)

func TestIsValidStudentName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "simple", input: "Aruzhan", want: true},
		{name: "with spaces inside", input: "Daniyar K.", want: true},
		{name: "unicode", input: "Алия Ержанова", want: true},
		{name: "empty", input: "", want: false},
		{name: "too long", input: strings.Repeat("a", MaxStudentNameLength+1), want: false},
		{name: "max length", input: strings.Repeat("a", MaxStudentNameLength), want: true},
		{name: "newline", input: "bad\nname", want: false},
		{name: "tab", input: "bad\tname", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidStudentName(tt.input); got != tt.want {
				t.Errorf("IsValidStudentName(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeStudentName(t *testing.T) {
	if got := NormalizeStudentName("  Aruzhan  "); got != "Aruzhan" {
		t.Errorf("NormalizeStudentName() = %q, want %q", got, "Aruzhan")
	}
}
