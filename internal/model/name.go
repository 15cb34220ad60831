package model

import (
	"strings"

	"golang.org/x/text/cases"
)

// FoldName produces the case-insensitive identity of a sponsor or company
// name: surrounding space trimmed, inner runs of whitespace collapsed, and
// Unicode case folded. A Caser is stateful, so one is built per call.
func FoldName(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}
