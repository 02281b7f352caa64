package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the log level
// and the rewrite block can be applied without a restart; changes anywhere
// else are reported in RestartRequired so they can be logged.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RewriteChanged bool
	NewRewrite     RewriteConfig

	// RestartRequired names the config sections whose changes only take
	// effect after a restart ("server", "synthesis", "cache").
	RestartRequired []string
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RewriteChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !rewriteEqual(old.Rewrite, new.Rewrite) {
		d.RewriteChanged = true
		d.NewRewrite = new.Rewrite
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Synthesis, new.Synthesis) {
		d.RestartRequired = append(d.RestartRequired, "synthesis")
	}
	if old.Cache != new.Cache {
		d.RestartRequired = append(d.RestartRequired, "cache")
	}

	return d
}

func rewriteEqual(a, b RewriteConfig) bool {
	if a.Enabled != b.Enabled || a.Provider != b.Provider || a.Model != b.Model ||
		a.APIKey != b.APIKey || a.BaseURL != b.BaseURL {
		return false
	}
	if (a.Temperature == nil) != (b.Temperature == nil) {
		return false
	}
	return a.Temperature == nil || *a.Temperature == *b.Temperature
}

func tlsEqual(a, b *TLSConfig) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
