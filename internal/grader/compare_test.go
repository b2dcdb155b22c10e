package grader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputsMatch(t *testing.T) {
	cases := []struct {
		name     string
		expected string
		actual   string
		match    bool
	}{
		{"exact", "2\n", "2\n", true},
		{"missing final newline", "2\n", "2", true},
		{"extra final newlines", "2", "2\n\n\n", true},
		{"trailing spaces per line", "a\nb", "a   \nb\t", true},
		{"carriage returns", "a\nb", "a\r\nb\r\n", true},
		{"different value", "2", "3", false},
		{"leading whitespace counts", " 2", "2", false},
		{"interior spacing counts", "a b", "a  b", false},
		{"line order counts", "a\nb", "b\na", false},
		{"empty vs blank", "", "\n", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.match, OutputsMatch(tc.expected, tc.actual))
		})
	}
}
