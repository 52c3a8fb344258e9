package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_CollapsesHorizontalWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("a \t  b\t\tc"))
}

func TestNormalize_CollapsesNewlineRuns(t *testing.T) {
	// Three or more newlines become a paragraph break; two stay as-is.
	assert.Equal(t, "a\n\nb", Normalize("a\n\n\n\n\nb"))
	assert.Equal(t, "a\n\nb", Normalize("a\n\nb"))
	assert.Equal(t, "a\nb", Normalize("a\nb"))
}

func TestNormalize_TrimsEdges(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  \t hello world \n\n "))
}

func TestNormalize_EmptyAndWhitespaceOnly(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize(" \t\n\n\n \t"))
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"plain text",
		"a \t b\n\n\n\nc   d",
		"  leading and trailing  ",
		"line one\nline two\n\nline three",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "normalize must be idempotent for %q", in)
	}
}
