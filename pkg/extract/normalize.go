package extract

import (
	"regexp"
	"strings"
)

var (
	horizontalWS = regexp.MustCompile(`[ \t]+`)
	newlineRuns  = regexp.MustCompile(`\n{3,}`)
)

// Normalize collapses runs of horizontal whitespace to a single space and
// runs of 3+ newlines to exactly two, then trims leading and trailing
// whitespace. It is idempotent: Normalize(Normalize(x)) == Normalize(x).
// Chunk offsets always refer to normalized text.
func Normalize(text string) string {
	text = horizontalWS.ReplaceAllString(text, " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
