// Package text cleans input text before it is handed to the speech models.
//
// The models read punctuation literally, so typographic dashes, bracketed
// references and stray line breaks produce audible artifacts. Normalization is
// opt-in through the models.normalize_text setting.
package text

import (
	"regexp"
	"strings"
)

const englishCode = "EN"

// Regex patterns for text normalization.
const (
	referenceRegexPattern  = `\[\d+(?:,\s*\d+)*\]`
	whitespaceRegexPattern = `\s+`
	spaceBeforePunctuation = `\s+([,.;:!?])`
)

// Normalizer rewrites text into a form the speech models pronounce cleanly.
type Normalizer struct {
	referencePattern   *regexp.Regexp
	whitespacePattern  *regexp.Regexp
	punctuationPattern *regexp.Regexp
	typography         *strings.Replacer
	abbreviations      *strings.Replacer
}

// NewNormalizer creates a Normalizer with precompiled patterns.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		referencePattern:   regexp.MustCompile(referenceRegexPattern),
		whitespacePattern:  regexp.MustCompile(whitespaceRegexPattern),
		punctuationPattern: regexp.MustCompile(spaceBeforePunctuation),
		typography: strings.NewReplacer(
			"—", ", ",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`,
			"”", `"`,
			"‘", "'",
			"’", "'",
		),
		abbreviations: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Ms.", "Miss",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Co.", "Company",
			"Ltd.", "Limited",
			"Corp.", "Corporation",
			"Inc.", "Incorporated",
		),
	}
}

// Normalize returns text cleaned for the given upper-case language code.
// Abbreviations are only expanded for English.
func (n *Normalizer) Normalize(text, language string) string {
	if text == "" {
		return text
	}

	normalized := n.typography.Replace(text)

	if language == englishCode {
		normalized = n.abbreviations.Replace(normalized)
	}

	normalized = n.referencePattern.ReplaceAllString(normalized, "")
	normalized = n.whitespacePattern.ReplaceAllString(normalized, " ")
	normalized = n.punctuationPattern.ReplaceAllString(normalized, "$1")

	return strings.TrimSpace(normalized)
}
