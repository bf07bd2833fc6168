package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimal = `
endpoint:
  app_key: ak
  access_key: sk
`

func TestParseMinimal(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Endpoint.URL == "" {
		t.Error("default endpoint URL not applied")
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.Audio.SampleRate)
	}
	if cfg.Trigger.Mode != ModePushToTalk {
		t.Errorf("Mode = %q, want %q", cfg.Trigger.Mode, ModePushToTalk)
	}
	if cfg.Session.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Session.MaxRetries)
	}
}

func TestParseOverrides(t *testing.T) {
	doc := minimal + `
trigger:
  key: space
  mode: toggle
audio:
  chunk_duration_ms: 100
session:
  drain_timeout: 10s
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Trigger.Mode != ModeToggle {
		t.Errorf("Mode = %q, want toggle", cfg.Trigger.Mode)
	}
	if cfg.Audio.ChunkDurationMs != 100 {
		t.Errorf("ChunkDurationMs = %d, want 100", cfg.Audio.ChunkDurationMs)
	}
	if cfg.Session.DrainTimeout != 10*time.Second {
		t.Errorf("DrainTimeout = %v, want 10s", cfg.Session.DrainTimeout)
	}
}

func TestValidateErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		doc  string
		want string
	}{
		{"missing app key", "endpoint:\n  access_key: sk\n", "app_key"},
		{"missing access key", "endpoint:\n  app_key: ak\n", "access_key"},
		{"bad mode", minimal + "trigger:\n  mode: hold\n", "trigger.mode"},
		{"bad chunk", minimal + "audio:\n  chunk_duration_ms: 5\n", "chunk_duration_ms"},
		{"stereo", minimal + "audio:\n  channels: 2\n", "channels"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadEnvCredentials(t *testing.T) {
	// No config file at the default location; credentials from env only.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("WINDVOX_APP_KEY", "env-ak")
	t.Setenv("WINDVOX_ACCESS_KEY", "env-sk")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint.AppKey != "env-ak" || cfg.Endpoint.AccessKey != "env-sk" {
		t.Errorf("env credentials not applied: %+v", cfg.Endpoint)
	}
}

func TestLoadExplicitPathMissing(t *testing.T) {
	t.Setenv("WINDVOX_APP_KEY", "env-ak")
	t.Setenv("WINDVOX_ACCESS_KEY", "env-sk")

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestChunkBytes(t *testing.T) {
	a := Audio{SampleRate: 16000, Channels: 1, ChunkDurationMs: 200}
	if got := a.ChunkBytes(); got != 6400 {
		t.Errorf("ChunkBytes = %d, want 6400", got)
	}
}
