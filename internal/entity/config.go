package entity

import (
	"fmt"
	"sort"
	"strings"
)

const (
	OptTranscriptionProvider = "transcription.provider"
	OptTranscriptionModel    = "transcription.model"
	OptLanguageMode          = "transcription.language_mode"
	OptLanguage              = "transcription.language"
	OptTextProvider          = "text.provider"
	OptLLMProvider           = "llm.provider"
	OptManagementPlugin      = "management.plugin"
	OptServicePlugin         = "service.plugin"
	OptForceRun              = "force_run"
)

// Option is one named configuration knob with a fixed value domain.
type Option struct {
	Name    string   `json:"name"`
	Values  []string `json:"values"`
	Default string   `json:"default"`
}

var options = []Option{
	{Name: OptTranscriptionProvider, Values: []string{"whisper.cpp", "whisper.fake", "whisper.mock"}, Default: "whisper.cpp"},
	{Name: OptTranscriptionModel, Values: []string{"tiny", "base", "small", "medium", "large-v3"}, Default: "base"},
	{Name: OptLanguageMode, Values: []string{"auto", "none", "forced"}, Default: "auto"},
	{Name: OptLanguage, Values: []string{"en", "ru", "de", "fr", "es"}, Default: "en"},
	{Name: OptTextProvider, Values: []string{"cleanup", "sentence-transformers", "openai", "local"}, Default: "cleanup"},
	{Name: OptLLMProvider, Values: []string{"deepseek", "edit", "openrouter", "ollama"}, Default: "deepseek"},
	{Name: OptManagementPlugin, Values: []string{"tasks", "none"}, Default: "tasks"},
	{Name: OptServicePlugin, Values: []string{"search", "none"}, Default: "search"},
	{Name: OptForceRun, Values: []string{"true", "false"}, Default: "false"},
}

// Options returns the supported configuration options.
func Options() []Option {
	out := make([]Option, len(options))
	for i, o := range options {
		o.Values = append([]string(nil), o.Values...)
		out[i] = o
	}
	return out
}

func lookupOption(name string) (Option, bool) {
	for _, o := range options {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// Config maps option names to chosen values.
type Config map[string]string

// Normalize validates c and returns a copy with every option set.
func (c Config) Normalize() (Config, error) {
	for k, v := range c {
		o, ok := lookupOption(k)
		if !ok {
			return nil, fmt.Errorf("%w: unknown option %q", ErrInvalidConfig, k)
		}
		if !contains(o.Values, v) {
			return nil, fmt.Errorf("%w: %s=%q (allowed: %s)", ErrInvalidConfig, k, v, strings.Join(o.Values, ", "))
		}
	}

	out := make(Config, len(options))
	for _, o := range options {
		if v, ok := c[o.Name]; ok {
			out[o.Name] = v
		} else {
			out[o.Name] = o.Default
		}
	}
	return out, nil
}

func (c Config) Get(name string) string {
	if v, ok := c[name]; ok {
		return v
	}
	if o, ok := lookupOption(name); ok {
		return o.Default
	}
	return ""
}

func (c Config) ForceRun() bool {
	return c.Get(OptForceRun) == "true"
}

// Canonical renders c as sorted key=value pairs. force_run is left out
// because it changes how a run treats the cache, not what a stage computes.
func (c Config) Canonical() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		if k == OptForceRun {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(c[k])
	}
	return b.String()
}

func (c Config) Clone() Config {
	if c == nil {
		return nil
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
