package config_test

import (
	"testing"
	"time"

	"github.com/vachaklabs/vachak/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level config.LogLevel
		want  bool
	}{
		{config.LogDebug, true},
		{config.LogInfo, true},
		{config.LogWarn, true},
		{config.LogError, true},
		{config.LogLevel("trace"), false},
		{config.LogLevel(""), false},
	}
	for _, tc := range tests {
		if got := tc.level.IsValid(); got != tc.want {
			t.Errorf("LogLevel(%q).IsValid() = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestOptionString(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{
		"endpoint": "https://example.test",
		"count":    3,
	}}

	if v, ok := e.OptionString("endpoint"); !ok || v != "https://example.test" {
		t.Errorf("endpoint = %q ok=%v", v, ok)
	}
	if _, ok := e.OptionString("count"); ok {
		t.Error("non-string option should report !ok")
	}
	if _, ok := e.OptionString("absent"); ok {
		t.Error("absent option should report !ok")
	}
}

func TestOptionDuration(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{
		"timeout": "5s",
		"broken":  "five seconds",
	}}

	d, ok, err := e.OptionDuration("timeout")
	if err != nil || !ok || d != 5*time.Second {
		t.Errorf("timeout = %v ok=%v err=%v", d, ok, err)
	}
	if _, ok, err := e.OptionDuration("broken"); !ok || err == nil {
		t.Errorf("broken duration: ok=%v err=%v, want present with error", ok, err)
	}
	if _, ok, err := e.OptionDuration("absent"); ok || err != nil {
		t.Errorf("absent duration: ok=%v err=%v, want absent without error", ok, err)
	}
}

func TestOptionStringMap(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{
		"voices": map[string]any{
			"hi-IN": "hi-IN-MadhurNeural",
			"depth": 3, // non-string values are skipped
		},
	}}

	m, ok := e.OptionStringMap("voices")
	if !ok {
		t.Fatal("voices option not found")
	}
	if m["hi-IN"] != "hi-IN-MadhurNeural" {
		t.Errorf("hi-IN = %q", m["hi-IN"])
	}
	if _, present := m["depth"]; present {
		t.Error("non-string value should have been skipped")
	}
	if _, ok := e.OptionStringMap("absent"); ok {
		t.Error("absent option should report !ok")
	}
}
