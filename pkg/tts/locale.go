package tts

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Locale identifies a supported synthesis language/region pair in BCP 47
// form, e.g. "hi-IN".
type Locale string

const (
	LocaleEnIN Locale = "en-IN"
	LocaleHiIN Locale = "hi-IN"
	LocaleMrIN Locale = "mr-IN"
)

// localeSuggestionThreshold is the minimum Jaro-Winkler similarity required
// before an unknown locale value earns a "did you mean" suggestion.
const localeSuggestionThreshold = 0.70

// SupportedLocales returns the locales every provider must accept.
func SupportedLocales() []Locale {
	return []Locale{LocaleEnIN, LocaleHiIN, LocaleMrIN}
}

// IsValid reports whether l is one of the supported locales.
func (l Locale) IsValid() bool {
	switch l {
	case LocaleEnIN, LocaleHiIN, LocaleMrIN:
		return true
	}
	return false
}

// Language returns the ISO 639-1 language part of the locale, e.g. "hi" for
// "hi-IN".
func (l Locale) Language() string {
	if i := strings.IndexByte(string(l), '-'); i > 0 {
		return string(l)[:i]
	}
	return string(l)
}

// ParseLocale maps s onto a supported Locale. Matching ignores case and
// surrounding whitespace, so "EN-in" parses as "en-IN". Unknown values
// return an *UnsupportedLocaleError that carries the closest supported
// locale as a suggestion when one is similar enough.
func ParseLocale(s string) (Locale, error) {
	norm := strings.TrimSpace(s)
	for _, l := range SupportedLocales() {
		if strings.EqualFold(norm, string(l)) {
			return l, nil
		}
	}

	perr := &UnsupportedLocaleError{Locale: s}
	lower := strings.ToLower(norm)
	best := 0.0
	for _, l := range SupportedLocales() {
		score := matchr.JaroWinkler(lower, strings.ToLower(string(l)), false)
		if score > best {
			best = score
			if score >= localeSuggestionThreshold {
				perr.Suggestion = l
			}
		}
	}
	return "", perr
}
