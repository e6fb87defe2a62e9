package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else is
// reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CallChanged is true when call tuning changed. New calls pick up NewCall.
	CallChanged bool
	NewCall     CallConfig

	// RestartRequired lists the changed settings that only take effect after
	// a restart, by their YAML path.
	RestartRequired []string
}

// Changed reports whether d contains any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.CallChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Call != new.Call {
		d.CallChanged = true
		d.NewCall = new.Call
	}

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("capture.engine", old.Capture.Engine != new.Capture.Engine)
	restart("capture.stt", !sameEntry(old.Capture.STT, new.Capture.STT))
	restart("capture.sample_rate", old.Capture.SampleRate != new.Capture.SampleRate)
	restart("capture.language", old.Capture.Language != new.Capture.Language)
	restart("capture.keywords", !slices.Equal(old.Capture.Keywords, new.Capture.Keywords))
	restart("classifier", old.Classifier != new.Classifier)
	restart("persistence", old.Persistence != new.Persistence)
	restart("auth", old.Auth != new.Auth)
	restart("classify_service.llm", !sameEntry(old.ClassifyService.LLM, new.ClassifyService.LLM))
	restart("classify_service.fallbacks", !slices.EqualFunc(old.ClassifyService.Fallbacks, new.ClassifyService.Fallbacks, sameEntry))
	restart("classify_service.breaker", old.ClassifyService.Breaker != new.ClassifyService.Breaker)

	return d
}

// sameEntry compares the scalar fields of two provider entries. Options are
// not compared.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
