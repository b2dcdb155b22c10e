package grader

import "strings"

// OutputsMatch compares program output to the expected output with trailing
// whitespace trimmed: per line and at the end of the whole text. Everything
// else is exact — leading whitespace and interior spacing count.
func OutputsMatch(expected, actual string) bool {
	return normalizeOutput(expected) == normalizeOutput(actual)
}

func normalizeOutput(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	out := strings.Join(lines, "\n")
	return strings.TrimRight(out, "\n")
}
