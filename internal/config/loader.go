package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
}

// Defaults applied to unset fields.
const (
	DefaultListenAddr         = ":8080"
	DefaultAuthListenAddr     = ":5000"
	DefaultClassifyListenAddr = ":8000"
	DefaultClassifierURL      = "http://localhost:8000"
	DefaultPersistenceURL     = "http://localhost:5000/api"
	DefaultJWTSecret          = "changeme"
	DefaultBcryptCost         = 10
	DefaultSampleRate         = 16000
	DefaultLLMName            = "gemini"
	DefaultLLMModel           = "gemini-2.0-flash"

	DefaultSilence         = 1200 * time.Millisecond
	DefaultWindowSize      = 8
	DefaultClassifyTimeout = 30 * time.Second
	DefaultSaveTimeout     = 10 * time.Second
	DefaultBreakerFailures = 5
	DefaultBreakerReset    = 30 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment overrides, and validates the result. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with environment variables looked up through
// lookup. Deployment settings (secrets, DSN, URLs, port) replace file values;
// provider API keys only fill empty ones.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("JWT_SECRET", &cfg.Auth.JWTSecret)
	set("DATABASE_URL", &cfg.Auth.PostgresDSN)
	set("CLASSIFIER_URL", &cfg.Classifier.URL)
	set("PERSISTENCE_URL", &cfg.Persistence.URL)
	if port, ok := lookup("PORT"); ok && port != "" {
		cfg.Auth.ListenAddr = ":" + port
	}

	fill := func(e *ProviderEntry, name, key string) {
		if e.Name != name || e.APIKey != "" {
			return
		}
		if v, ok := lookup(key); ok {
			e.APIKey = v
		}
	}
	fill(&cfg.Capture.STT, "deepgram", "DEEPGRAM_API_KEY")
	llms := []*ProviderEntry{&cfg.ClassifyService.LLM}
	for i := range cfg.ClassifyService.Fallbacks {
		llms = append(llms, &cfg.ClassifyService.Fallbacks[i])
	}
	for _, e := range llms {
		fill(e, "openai", "OPENAI_API_KEY")
		fill(e, "gemini", "GOOGLE_API_KEY")
	}
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	def := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	defDur := func(dst *time.Duration, v time.Duration) {
		if *dst == 0 {
			*dst = v
		}
	}
	defInt := func(dst *int, v int) {
		if *dst == 0 {
			*dst = v
		}
	}

	def(&cfg.Server.ListenAddr, DefaultListenAddr)
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	defDur(&cfg.Call.Silence, DefaultSilence)
	defInt(&cfg.Call.WindowSize, DefaultWindowSize)
	def(&cfg.Call.Trigger, TriggerCaller)

	if cfg.Capture.Engine == "" {
		cfg.Capture.Engine = CaptureRelay
	}
	defInt(&cfg.Capture.SampleRate, DefaultSampleRate)

	def(&cfg.Classifier.URL, DefaultClassifierURL)
	defDur(&cfg.Classifier.Timeout, DefaultClassifyTimeout)
	defInt(&cfg.Classifier.Breaker.MaxFailures, DefaultBreakerFailures)
	defDur(&cfg.Classifier.Breaker.ResetTimeout, DefaultBreakerReset)

	def(&cfg.Persistence.URL, DefaultPersistenceURL)
	defDur(&cfg.Persistence.Timeout, DefaultSaveTimeout)

	def(&cfg.Auth.ListenAddr, DefaultAuthListenAddr)
	def(&cfg.Auth.JWTSecret, DefaultJWTSecret)
	defInt(&cfg.Auth.BcryptCost, DefaultBcryptCost)

	def(&cfg.ClassifyService.ListenAddr, DefaultClassifyListenAddr)
	if cfg.ClassifyService.LLM.Name == "" {
		cfg.ClassifyService.LLM.Name = DefaultLLMName
		def(&cfg.ClassifyService.LLM.Model, DefaultLLMModel)
	}
	defInt(&cfg.ClassifyService.Breaker.MaxFailures, DefaultBreakerFailures)
	defDur(&cfg.ClassifyService.Breaker.ResetTimeout, DefaultBreakerReset)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Call
	if cfg.Call.Silence < 0 {
		errs = append(errs, fmt.Errorf("call.silence %s must not be negative", cfg.Call.Silence))
	}
	if cfg.Call.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("call.window_size %d must not be negative", cfg.Call.WindowSize))
	}
	if t := cfg.Call.Trigger; t != "" && t != TriggerCaller && t != TriggerEvery {
		errs = append(errs, fmt.Errorf("call.trigger %q is invalid; valid values: caller, every", t))
	}

	// Capture
	if e := cfg.Capture.Engine; e != "" && !e.IsValid() {
		errs = append(errs, fmt.Errorf("capture.engine %q is invalid; valid values: relay, stream", e))
	}
	if cfg.Capture.Engine == CaptureStream && cfg.Capture.STT.Name == "" {
		errs = append(errs, errors.New("capture.engine \"stream\" requires capture.stt.name"))
	}
	validateProviderName("stt", cfg.Capture.STT.Name)

	// Collaborators
	if err := validateURL("classifier.url", cfg.Classifier.URL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("persistence.url", cfg.Persistence.URL); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, validateBreaker("classifier.breaker", cfg.Classifier.Breaker)...)

	// Auth
	if c := cfg.Auth.BcryptCost; c != 0 && (c < 4 || c > 31) {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost %d is out of range [4, 31]", c))
	}
	if cfg.Auth.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl %s must not be negative", cfg.Auth.TokenTTL))
	}

	// Classification service
	validateProviderName("llm", cfg.ClassifyService.LLM.Name)
	for i, fb := range cfg.ClassifyService.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("classify_service.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	errs = append(errs, validateBreaker("classify_service.breaker", cfg.ClassifyService.Breaker)...)

	return errors.Join(errs...)
}

func validateURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %q: %w", field, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute http(s) URL", field, raw)
	}
	return nil
}

func validateBreaker(field string, b BreakerConfig) []error {
	var errs []error
	if b.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("%s.max_failures %d must not be negative", field, b.MaxFailures))
	}
	if b.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s.reset_timeout %s must not be negative", field, b.ResetTimeout))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
