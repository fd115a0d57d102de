package sanitizer

import (
	"strings"
	"unicode"
)

const MaxFreeTextRunes = 500

func TrimAndNormalize(s string) string {
	s = strings.TrimSpace(s)

	if s == "" {
		return ""
	}

	var result strings.Builder
	var lastWasSpace bool

	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				result.WriteRune(' ')
				lastWasSpace = true
			}
		} else {
			result.WriteRune(r)
			lastWasSpace = false
		}
	}

	return result.String()
}

func NormalizeName(name string) string {
	return TrimAndNormalize(name)
}

// NormalizeFreeText collapses whitespace and caps the result at MaxFreeTextRunes.
func NormalizeFreeText(text string) string {
	text = TrimAndNormalize(text)
	runes := []rune(text)
	if len(runes) > MaxFreeTextRunes {
		return strings.TrimSpace(string(runes[:MaxFreeTextRunes]))
	}
	return text
}

func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
