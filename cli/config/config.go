package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klaki892/chunked-dc/unchunk"
)

// Config represents an unchunk.yaml configuration file.
// All values are optional and act as defaults for `unchunk run` flags.
// CLI flags always override config values.
type Config struct {
	Variant          string        `yaml:"variant"`
	SessionID        string        `yaml:"session_id"`
	FailOnChunkError bool          `yaml:"fail_on_chunk_error"`
	Report           string        `yaml:"report"`
	Source           SourceConfig  `yaml:"source"`
	GC               GCConfig      `yaml:"gc"`
	Policy           PolicyConfig  `yaml:"policy"`
	Sink             SinkConfig    `yaml:"sink"`
	Adapter          AdapterConfig `yaml:"adapter"`
	Log              LogConfig     `yaml:"log"`
}

// LogConfig sets diagnostic log verbosity and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SourceConfig selects where chunks come from.
type SourceConfig struct {
	Type    string `yaml:"type"`
	Path    string `yaml:"path"`
	Pattern string `yaml:"pattern"`
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// GCConfig holds the partial-message sweep settings.
type GCConfig struct {
	Interval Duration `yaml:"interval"`
	MaxAge   Duration `yaml:"max_age"`
}

// PolicyConfig holds policy defaults from the config file.
type PolicyConfig struct {
	Name           string `yaml:"name"`
	BufferMessages int    `yaml:"buffer_messages"`
	BufferBytes    int64  `yaml:"buffer_bytes"`
}

// SinkConfig selects where delivered messages are persisted.
type SinkConfig struct {
	Type        string `yaml:"type"`
	Path        string `yaml:"path"`
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type       string            `yaml:"type"`
	URL        string            `yaml:"url"`
	Channel    string            `yaml:"channel,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Timeout    Duration          `yaml:"timeout,omitempty"`
	Retries    *int              `yaml:"retries,omitempty"`
	NotifyEach bool              `yaml:"notify_each"`

	// Stream appends Redis events with XADD instead of PUBLISH.
	Stream    bool  `yaml:"stream,omitempty"`
	StreamMax int64 `yaml:"stream_max,omitempty"`
}

// Accepted enumeration values.
var (
	SourceTypes  = []string{"stdin", "file", "dir", "redis"}
	PolicyNames  = []string{"strict", "buffered", "noop"}
	SinkTypes    = []string{"ipc", "dir", "lode"}
	LodeBackends = []string{"fs", "s3"}
	AdapterTypes = []string{"webhook", "redis"}
)

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Validate checks enumerations and cross-field requirements. Empty values
// are accepted; they mean "use the flag default".
func (c *Config) Validate() error {
	var errs []error

	if c.Variant != "" {
		if _, err := unchunk.ParseVariant(c.Variant); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs,
		oneOf("source.type", c.Source.Type, SourceTypes),
		oneOf("policy.name", c.Policy.Name, PolicyNames),
		oneOf("sink.type", c.Sink.Type, SinkTypes),
		oneOf("sink.backend", c.Sink.Backend, LodeBackends),
		oneOf("adapter.type", c.Adapter.Type, AdapterTypes),
	)

	if c.Policy.BufferMessages < 0 || c.Policy.BufferBytes < 0 {
		errs = append(errs, errors.New("policy buffer limits must not be negative"))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, errors.New("adapter.retries must not be negative"))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter.url is required for adapter type %q", c.Adapter.Type))
	}
	if c.Adapter.StreamMax < 0 {
		errs = append(errs, errors.New("adapter.stream_max must not be negative"))
	}
	return errors.Join(errs...)
}

func oneOf(field, value string, allowed []string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q (must be one of %v)", field, value, allowed)
}
