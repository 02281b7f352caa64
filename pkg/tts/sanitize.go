package tts

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Placeholder expressions in {braces} survive sanitization byte for byte:
// they are lifted out before cleanup and restored afterwards, bracketed by
// private-use runes that no cleanup step rewrites.
const (
	markerOpen  = ""
	markerClose = ""
)

var (
	placeholderRe = regexp.MustCompile(`\{[^{}]*\}`)
	markupRe      = regexp.MustCompile(`<[^<>]*>`)
	markerRe      = regexp.MustCompile(`\x{E000}[0-9]+\x{E001}`)
)

// asciiPunct maps typographic punctuation to its ASCII rendering.
var asciiPunct = map[rune]string{
	'‘': "'", '’': "'", '‚': "'", '‛': "'",
	'“': `"`, '”': `"`, '„': `"`,
	'‐': "-", '‑': "-", '‒': "-",
	'–': "-", '—': "-", '―': "-",
	'…': "...",
}

// Sanitize normalizes raw text for synthesis. It removes angle-bracket
// markup, strips control and invisible format characters, maps typographic
// punctuation to ASCII, collapses whitespace runs to single spaces and trims
// the result. Text inside {braces} is preserved verbatim.
//
// Sanitize is idempotent: applying it to its own output returns the output
// unchanged, so callers may sanitize defensively without double-mangling.
func Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	var placeholders []string
	text := placeholderRe.ReplaceAllStringFunc(raw, func(ph string) string {
		placeholders = append(placeholders, ph)
		return markerOpen + strconv.Itoa(len(placeholders)-1) + markerClose
	})

	// Markup becomes a space so adjacent words do not fuse; the collapse
	// pass squeezes any doubled spaces this introduces.
	text = markupRe.ReplaceAllString(text, " ")
	text = cleanRunes(text)
	text = strings.Join(strings.Fields(text), " ")

	if len(placeholders) > 0 {
		text = markerRe.ReplaceAllStringFunc(text, func(m string) string {
			digits := strings.TrimSuffix(strings.TrimPrefix(m, markerOpen), markerClose)
			idx, err := strconv.Atoi(digits)
			if err != nil || idx >= len(placeholders) {
				return m
			}
			return placeholders[idx]
		})
	}
	return text
}

// cleanRunes applies the per-rune cleanup steps: punctuation normalization,
// whitespace unification and removal of control/format characters. Private
// use runes pass through untouched so placeholder markers survive.
func cleanRunes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if repl, ok := asciiPunct[r]; ok {
			b.WriteString(repl)
			continue
		}
		switch {
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
