package classify

import (
	"regexp"

	"github.com/topos-sec/topos-engine/pkg/models"
)

// Finding is one detected instance of a sensitive-data category in a piece
// of chunk text.
type Finding struct {
	Type    models.SensitivityType
	Level   models.SensitivityLevel
	Snippet string
}

// Classifier detects sensitive-data categories in chunk text. The pipeline
// treats it as a synchronous capability call per chunk; implementations may
// be rule engines or model-backed services.
type Classifier interface {
	Classify(text string) []Finding
}

// Rule is one detection pattern with its category and severity.
type Rule struct {
	Name    string
	Type    models.SensitivityType
	Level   models.SensitivityLevel
	Pattern *regexp.Regexp
}

// RuleClassifier matches chunk text against an ordered list of regular
// expression rules. Each rule reports at most one finding per chunk (the
// first match), keeping output deterministic and bounded.
type RuleClassifier struct {
	rules []Rule
}

// snippetContext is how many characters of surrounding text a snippet
// carries on each side of the match.
const snippetContext = 40

// NewRuleClassifier creates a classifier with the given rules, evaluated
// in order.
func NewRuleClassifier(rules []Rule) *RuleClassifier {
	return &RuleClassifier{rules: rules}
}

// DefaultRules returns the built-in detection patterns for the shipped
// sensitivity categories.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "us_ssn",
			Type:    models.SensitivityPersonalData,
			Level:   models.SensitivityHigh,
			Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		},
		{
			Name:    "email_address",
			Type:    models.SensitivityPersonalData,
			Level:   models.SensitivityLow,
			Pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
		},
		{
			Name:    "payment_card",
			Type:    models.SensitivityFinancialData,
			Level:   models.SensitivityHigh,
			Pattern: regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`),
		},
		{
			Name:    "iban",
			Type:    models.SensitivityFinancialData,
			Level:   models.SensitivityMedium,
			Pattern: regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
		},
		{
			Name:    "aws_access_key",
			Type:    models.SensitivitySecrets,
			Level:   models.SensitivityHigh,
			Pattern: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		},
		{
			Name:    "private_key_block",
			Type:    models.SensitivitySecrets,
			Level:   models.SensitivityHigh,
			Pattern: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
		},
		{
			Name:    "password_assignment",
			Type:    models.SensitivitySecrets,
			Level:   models.SensitivityMedium,
			Pattern: regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`),
		},
		{
			Name:    "health_terms",
			Type:    models.SensitivityHealthData,
			Level:   models.SensitivityMedium,
			Pattern: regexp.MustCompile(`(?i)\b(diagnosis|prescription|medical record|patient id)\b`),
		},
	}
}

// Classify checks the text against every rule and returns one finding per
// matching rule with a snippet of surrounding context.
func (c *RuleClassifier) Classify(text string) []Finding {
	var findings []Finding
	for _, rule := range c.rules {
		loc := rule.Pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		findings = append(findings, Finding{
			Type:    rule.Type,
			Level:   rule.Level,
			Snippet: snippet(text, loc[0], loc[1]),
		})
	}
	return findings
}

// snippet cuts the match plus up to snippetContext characters of context on
// each side, clamped to the text bounds.
func snippet(text string, start, end int) string {
	from := start - snippetContext
	if from < 0 {
		from = 0
	}
	to := end + snippetContext
	if to > len(text) {
		to = len(text)
	}
	return text[from:to]
}
