package config

import (
	"fmt"
	"time"
)

// Config represents a gantry.yaml configuration file.
// All values are optional and act as defaults for gantry flags.
// CLI flags always override config values.
type Config struct {
	Debug   DebugConfig   `yaml:"debug"`
	Decoder DecoderConfig `yaml:"decoder"`
	Output  OutputConfig  `yaml:"output"`
	Command CommandConfig `yaml:"command"`
	Adapter AdapterConfig `yaml:"adapter"`
}

// DebugConfig holds debug-port connection defaults.
type DebugConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	DialTimeout Duration `yaml:"dial_timeout"`
}

// DecoderConfig holds frame decoder bounds.
type DecoderConfig struct {
	MaxFrameBytes int `yaml:"max_frame_bytes"`
	ScanWindow    int `yaml:"scan_window"`
	MaxRetained   int `yaml:"max_retained"`
	TailKeep      int `yaml:"tail_keep"`
}

// OutputConfig holds output aggregator defaults.
type OutputConfig struct {
	Capacity int `yaml:"capacity"`
}

// CommandConfig holds command channel defaults.
type CommandConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// AdapterConfig holds fanout adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
