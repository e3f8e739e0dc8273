package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/hupe1980/speechmesh/timeline"
)

// Settings holds the runtime settings shared across the pipelines.
type Settings struct {
	// MaxHistoryLength bounds the conversation memory.
	MaxHistoryLength int `koanf:"max_history_length"`

	// EventBufferSize sizes the per-request chunk channels.
	EventBufferSize int `koanf:"event_buffer_size"`

	// QueueCapacityHint pre-sizes pipeline queues.
	QueueCapacityHint int `koanf:"queue_capacity_hint"`

	Audio AudioSettings `koanf:"audio"`

	Dump DumpSettings `koanf:"dump"`
}

// AudioSettings describes the PCM format the pipelines assume.
type AudioSettings struct {
	SampleRate     int `koanf:"sample_rate"`
	BytesPerSample int `koanf:"bytes_per_sample"`
	Channels       int `koanf:"channels"`
}

// Format converts the audio settings into a timeline format.
func (a AudioSettings) Format() timeline.Format {
	return timeline.Format{
		SampleRate:     a.SampleRate,
		BytesPerSample: a.BytesPerSample,
		Channels:       a.Channels,
	}
}

// DumpSettings controls raw audio dumping for diagnostics.
type DumpSettings struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Default returns the settings used when no file or environment overrides
// are present: 16 kHz 16-bit mono audio and a history of ten turns.
func Default() Settings {
	return Settings{
		MaxHistoryLength:  10,
		EventBufferSize:   100,
		QueueCapacityHint: 32,
		Audio: AudioSettings{
			SampleRate:     16000,
			BytesPerSample: 2,
			Channels:       1,
		},
		Dump: DumpSettings{
			Path: "./speechmesh_dump",
		},
	}
}

// Load reads settings from the optional YAML file at path, then applies
// SPEECHMESH_ environment overrides on top. A missing file is not an error.
// Nested keys use double underscores, e.g. SPEECHMESH_AUDIO__SAMPLE_RATE.
func Load(path string) (Settings, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, fmt.Errorf("config: load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("SPEECHMESH_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "SPEECHMESH_")), "__", ".")
	}), nil); err != nil {
		return Settings{}, fmt.Errorf("config: load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Settings{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}

	return cfg, nil
}

// Validate rejects settings the pipelines cannot operate with.
func (s Settings) Validate() error {
	if s.Audio.SampleRate <= 0 {
		return fmt.Errorf("config: sample_rate must be positive, got %d", s.Audio.SampleRate)
	}

	if s.Audio.BytesPerSample <= 0 {
		return fmt.Errorf("config: bytes_per_sample must be positive, got %d", s.Audio.BytesPerSample)
	}

	if s.Audio.Channels <= 0 {
		return fmt.Errorf("config: channels must be positive, got %d", s.Audio.Channels)
	}

	if s.EventBufferSize <= 0 {
		return fmt.Errorf("config: event_buffer_size must be positive, got %d", s.EventBufferSize)
	}

	return nil
}
