package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Endpoint holds credentials and addressing for the recognition service.
type Endpoint struct {
	URL        string `yaml:"url"`
	AppKey     string `yaml:"app_key"`
	AccessKey  string `yaml:"access_key"`
	ResourceID string `yaml:"resource_id"`
}

type Trigger struct {
	Key  string `yaml:"key"`  // e.g. "f2", "space", "a"
	Mode string `yaml:"mode"` // "push_to_talk" or "toggle"
}

type Audio struct {
	DeviceName      string `yaml:"device"` // "" = system default
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkDurationMs int    `yaml:"chunk_duration_ms"`
}

type Input struct {
	TypingDelayMs int `yaml:"typing_delay_ms"`
}

// Session holds the reconnect and timeout tunables: retry cap, backoff,
// and the deadlines that bound connecting and draining.
type Session struct {
	MaxRetries     int           `yaml:"max_retries"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffCap     time.Duration `yaml:"backoff_cap"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
}

// Config is an immutable snapshot loaded once before the pipeline starts.
type Config struct {
	Endpoint Endpoint `yaml:"endpoint"`
	Trigger  Trigger  `yaml:"trigger"`
	Audio    Audio    `yaml:"audio"`
	Input    Input    `yaml:"input"`
	Session  Session  `yaml:"session"`
}

const (
	ModePushToTalk = "push_to_talk"
	ModeToggle     = "toggle"
)

func Default() Config {
	return Config{
		Endpoint: Endpoint{
			URL:        "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_async",
			ResourceID: "volc.seedasr.sauc.duration",
		},
		Trigger: Trigger{
			Key:  "f2",
			Mode: ModePushToTalk,
		},
		Audio: Audio{
			SampleRate:      16000,
			Channels:        1,
			ChunkDurationMs: 200,
		},
		Input: Input{
			TypingDelayMs: 10,
		},
		Session: Session{
			MaxRetries:     3,
			BackoffBase:    500 * time.Millisecond,
			BackoffCap:     8 * time.Second,
			ConnectTimeout: 5 * time.Second,
			DrainTimeout:   3 * time.Second,
		},
	}
}

// Path returns the default config file location.
func Path() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "windvox", "config.yaml")
}

// Load reads the config file at path ("" = default location), applies defaults
// for absent fields, overlays credentials from the environment, and validates
// the result. A missing file at the default location is not an error as long
// as the environment supplies the credentials.
func Load(path string) (Config, error) {
	explicit := path != ""
	if path == "" {
		path = Path()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			cfg := Default()
			applyEnv(&cfg)
			if err := cfg.Validate(); err != nil {
				return Config{}, err
			}
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates, without touching
// the environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv lets credentials live outside the config file.
func applyEnv(c *Config) {
	if v := os.Getenv("WINDVOX_APP_KEY"); v != "" {
		c.Endpoint.AppKey = v
	}
	if v := os.Getenv("WINDVOX_ACCESS_KEY"); v != "" {
		c.Endpoint.AccessKey = v
	}
}

func (c Config) Validate() error {
	if c.Endpoint.URL == "" {
		return fmt.Errorf("endpoint.url is required")
	}
	if c.Endpoint.AppKey == "" {
		return fmt.Errorf("endpoint.app_key is required")
	}
	if c.Endpoint.AccessKey == "" {
		return fmt.Errorf("endpoint.access_key is required")
	}
	if c.Trigger.Mode != ModePushToTalk && c.Trigger.Mode != ModeToggle {
		return fmt.Errorf("trigger.mode must be %q or %q, got %q",
			ModePushToTalk, ModeToggle, c.Trigger.Mode)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive")
	}
	if c.Audio.Channels != 1 {
		return fmt.Errorf("audio.channels must be 1 (mono)")
	}
	if c.Audio.ChunkDurationMs < 20 || c.Audio.ChunkDurationMs > 1000 {
		return fmt.Errorf("audio.chunk_duration_ms must be in [20, 1000]")
	}
	if c.Input.TypingDelayMs < 0 {
		return fmt.Errorf("input.typing_delay_ms must be >= 0")
	}
	if c.Session.MaxRetries < 0 {
		return fmt.Errorf("session.max_retries must be >= 0")
	}
	if c.Session.DrainTimeout <= 0 {
		return fmt.Errorf("session.drain_timeout must be positive")
	}
	if c.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("session.connect_timeout must be positive")
	}
	return nil
}

// ChunkBytes is the payload size of one full audio chunk.
func (a Audio) ChunkBytes() int {
	const bytesPerSample = 2 // PCM16
	return a.SampleRate * a.ChunkDurationMs / 1000 * bytesPerSample * a.Channels
}

func (a Audio) ChunkDuration() time.Duration {
	return time.Duration(a.ChunkDurationMs) * time.Millisecond
}
