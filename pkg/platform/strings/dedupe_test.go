package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{"nil slice", nil, nil},
		{"empty slice", []string{}, []string{}},
		{"trims whitespace", []string{" penicillin ", "latex"}, []string{"penicillin", "latex"}},
		{"keeps first occurrence", []string{"Zoloft", "Lustral", "Zoloft"}, []string{"Zoloft", "Lustral"}},
		{"drops blanks", []string{"", "  ", "0093-7146"}, []string{"0093-7146"}},
		{"case sensitive", []string{"Sulfa", "sulfa"}, []string{"Sulfa", "sulfa"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}
