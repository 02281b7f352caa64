package tts_test

import (
	"strings"
	"testing"

	"github.com/vachaklabs/vachak/pkg/tts"
)

func TestSanitize_Empty(t *testing.T) {
	if got := tts.Sanitize(""); got != "" {
		t.Errorf("expected empty output for empty input, got %q", got)
	}
	if got := tts.Sanitize("   \t\n  "); got != "" {
		t.Errorf("expected empty output for whitespace-only input, got %q", got)
	}
}

func TestSanitize_CollapsesWhitespace(t *testing.T) {
	got := tts.Sanitize("  hello \t\n  world  ")
	if got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
}

func TestSanitize_UnicodeWhitespace(t *testing.T) {
	// NBSP and ideographic space are whitespace too.
	got := tts.Sanitize("hello 　world")
	if got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
}

func TestSanitize_RemovesMarkup(t *testing.T) {
	got := tts.Sanitize("<speak>hello<br/>world</speak>")
	if got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
}

func TestSanitize_StripsControlAndInvisible(t *testing.T) {
	// NUL, bell, zero-width space and BOM must all disappear.
	got := tts.Sanitize("he\x00l\x07lo​ wor\uFEFFld")
	if got != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
}

func TestSanitize_NormalizesPunctuation(t *testing.T) {
	got := tts.Sanitize("“hello” ‘world’ – wait…")
	want := `"hello" 'world' - wait...`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSanitize_PreservesPlaceholders(t *testing.T) {
	got := tts.Sanitize("Hello <b>{user name}</b>, your code is {code—1}.")
	// Placeholder interiors survive verbatim, including characters that
	// cleanup would otherwise rewrite.
	if !strings.Contains(got, "{user name}") {
		t.Errorf("placeholder lost: %q", got)
	}
	if !strings.Contains(got, "{code—1}") {
		t.Errorf("placeholder interior rewritten: %q", got)
	}
	if strings.Contains(got, "<b>") || strings.Contains(got, "</b>") {
		t.Errorf("markup survived: %q", got)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		"  hello \t world  ",
		"<tag>a</tag> “b” …",
		"greet {na me} end",
		"mixed {keep‘this’} <x/> \x01 text​",
		"{a}{b} {c}",
	}
	for _, in := range inputs {
		once := tts.Sanitize(in)
		twice := tts.Sanitize(once)
		if once != twice {
			t.Errorf("not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestSanitize_MarkupOnly(t *testing.T) {
	if got := tts.Sanitize("<a><b></b></a>"); got != "" {
		t.Errorf("expected empty output, got %q", got)
	}
}

func TestSanitize_UnmatchedBracketsSurvive(t *testing.T) {
	got := tts.Sanitize("3 < 5 and 7 > 4")
	// "< 5 and 7 >" is a bracket pair, so it is treated as markup.
	if got != "3 4" {
		t.Errorf("got %q, want %q", got, "3 4")
	}
	got = tts.Sanitize("a < b")
	if got != "a < b" {
		t.Errorf("lone bracket should survive: got %q", got)
	}
}
