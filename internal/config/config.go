// Package config handles platform configuration: a YAML file layered over
// built-in defaults, with environment overrides for deploy-time knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete platform configuration.
type Config struct {
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Recorder      RecorderConfig      `yaml:"recorder"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Command       CommandConfig       `yaml:"command"`
	Session       SessionConfig       `yaml:"session"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AudioConfig contains capture device parameters.
type AudioConfig struct {
	DeviceRate      int    `yaml:"device_rate"`
	Channels        int    `yaml:"channels"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	QueueDepth      int    `yaml:"queue_depth"`
	DeviceHint      string `yaml:"device_hint"`
	LowRate         int    `yaml:"low_rate"` // VAD-side rate after downsampling
}

// VADConfig contains voice activity detection parameters.
type VADConfig struct {
	Threshold       float32 `yaml:"threshold"`
	WindowSize      int     `yaml:"window_size"`       // samples at low rate
	MinSpeech       float64 `yaml:"min_speech"`        // seconds
	MinSilence      float64 `yaml:"min_silence"`       // seconds
	LongNoteSilence float64 `yaml:"long_note_silence"` // seconds
	EnergyFullScale float64 `yaml:"energy_full_scale"`
	EnergySmoothing float64 `yaml:"energy_smoothing"`
}

// RecorderConfig contains segment recording parameters.
type RecorderConfig struct {
	PreBuffer    float64 `yaml:"pre_buffer"`    // seconds
	SilenceClose float64 `yaml:"silence_close"` // seconds
	MinSegment   float64 `yaml:"min_segment"`   // seconds
}

// TranscriptionConfig contains the capability endpoint and pool sizing.
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	FastModel     string `yaml:"fast_model"`
	RefinedModel  string `yaml:"refined_model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxConcurrent int    `yaml:"max_concurrent"`

	Workers     int     `yaml:"workers"`
	MaxAttempts int     `yaml:"max_attempts"`
	JobTimeout  int     `yaml:"job_timeout"`  // seconds
	DrainWindow int     `yaml:"drain_window"` // seconds
	QueueDepth  int     `yaml:"queue_depth"`
	LiveWindow  float64 `yaml:"live_window"` // seconds
}

// CommandConfig contains the spoken control phrases.
type CommandConfig struct {
	Trigger string `yaml:"trigger"`
	Stop    string `yaml:"stop"`
}

// SessionConfig contains session persistence parameters.
type SessionConfig struct {
	Dir         string `yaml:"dir"`
	EventBuffer int    `yaml:"event_buffer"`
}

// ServerConfig contains the HTTP/websocket server parameters.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			DeviceRate:      48000,
			Channels:        1,
			FramesPerBuffer: 1024,
			QueueDepth:      32,
			LowRate:         16000,
		},
		VAD: VADConfig{
			Threshold:       0.5,
			WindowSize:      512,
			MinSpeech:       0.25,
			MinSilence:      0.7,
			LongNoteSilence: 2.0,
			EnergyFullScale: 6000,
			EnergySmoothing: 0.4,
		},
		Recorder: RecorderConfig{
			PreBuffer:    1.5,
			SilenceClose: 1.2,
			MinSegment:   0.6,
		},
		Transcription: TranscriptionConfig{
			Endpoint:      "http://localhost:9000/v1/transcribe",
			FastModel:     "whisper-tiny",
			RefinedModel:  "whisper-large",
			Timeout:       60,
			MaxConcurrent: 4,
			Workers:       2,
			MaxAttempts:   3,
			JobTimeout:    120,
			DrainWindow:   30,
			QueueDepth:    64,
			LiveWindow:    2.0,
		},
		Command: CommandConfig{
			Trigger: "start new note",
			Stop:    "end note",
		},
		Session: SessionConfig{
			Dir:         "sessions",
			EventBuffer: 256,
		},
		Server: ServerConfig{
			Addr:    ":8000",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnv layers deploy-time overrides over the file values.
func (c *Config) applyEnv() {
	c.Transcription.Endpoint = getEnv("TRANSCRIBE_ENDPOINT", c.Transcription.Endpoint)
	c.Transcription.APIKey = getEnv("TRANSCRIBE_API_KEY", c.Transcription.APIKey)
	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)
	c.Session.Dir = getEnv("SESSION_DIR", c.Session.Dir)
	c.Audio.DeviceHint = getEnv("AUDIO_DEVICE", c.Audio.DeviceHint)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Audio.DeviceRate = getEnvInt("DEVICE_RATE", c.Audio.DeviceRate)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}
	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}
	if err := c.Command.Validate(); err != nil {
		return fmt.Errorf("command config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.DeviceRate < 8000 {
		return fmt.Errorf("device_rate must be at least 8000 Hz, got %d", a.DeviceRate)
	}
	if a.Channels < 1 || a.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}
	if a.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", a.FramesPerBuffer)
	}
	if a.QueueDepth < 1 {
		return fmt.Errorf("queue_depth must be at least 1, got %d", a.QueueDepth)
	}
	if a.LowRate < 8000 || a.LowRate > a.DeviceRate {
		return fmt.Errorf("low_rate must be between 8000 and device_rate, got %d", a.LowRate)
	}
	return nil
}

func (v *VADConfig) Validate() error {
	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}
	if v.WindowSize < 64 || v.WindowSize > 8192 {
		return fmt.Errorf("window_size must be between 64 and 8192 samples, got %d", v.WindowSize)
	}
	if v.MinSpeech <= 0 {
		return fmt.Errorf("min_speech must be positive, got %f", v.MinSpeech)
	}
	if v.MinSilence <= 0 {
		return fmt.Errorf("min_silence must be positive, got %f", v.MinSilence)
	}
	if v.LongNoteSilence < v.MinSilence {
		return fmt.Errorf("long_note_silence (%f) must be at least min_silence (%f)",
			v.LongNoteSilence, v.MinSilence)
	}
	return nil
}

func (r *RecorderConfig) Validate() error {
	if r.PreBuffer < 0 {
		return fmt.Errorf("pre_buffer cannot be negative, got %f", r.PreBuffer)
	}
	if r.SilenceClose <= 0 {
		return fmt.Errorf("silence_close must be positive, got %f", r.SilenceClose)
	}
	if r.MinSegment < 0 {
		return fmt.Errorf("min_segment cannot be negative, got %f", r.MinSegment)
	}
	return nil
}

func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}
	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}
	if t.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", t.Workers)
	}
	if t.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", t.MaxAttempts)
	}
	if t.LiveWindow <= 0 {
		return fmt.Errorf("live_window must be positive, got %f", t.LiveWindow)
	}
	return nil
}

func (c *CommandConfig) Validate() error {
	if c.Trigger == "" {
		return fmt.Errorf("trigger phrase cannot be empty")
	}
	if c.Stop == "" {
		return fmt.Errorf("stop phrase cannot be empty")
	}
	return nil
}

func (s *SessionConfig) Validate() error {
	if s.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}
	if s.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1, got %d", s.EventBuffer)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Enabled && s.Addr == "" {
		return fmt.Errorf("addr cannot be empty when server is enabled")
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got %q", l.Format)
	}
	return nil
}

// Duration getters: the YAML carries plain seconds.

func (v *VADConfig) MinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeech * float64(time.Second))
}

func (v *VADConfig) MinSilenceDuration() time.Duration {
	return time.Duration(v.MinSilence * float64(time.Second))
}

func (v *VADConfig) LongNoteSilenceDuration() time.Duration {
	return time.Duration(v.LongNoteSilence * float64(time.Second))
}

func (r *RecorderConfig) PreBufferDuration() time.Duration {
	return time.Duration(r.PreBuffer * float64(time.Second))
}

func (r *RecorderConfig) SilenceCloseDuration() time.Duration {
	return time.Duration(r.SilenceClose * float64(time.Second))
}

func (r *RecorderConfig) MinSegmentDuration() time.Duration {
	return time.Duration(r.MinSegment * float64(time.Second))
}

func (t *TranscriptionConfig) TimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

func (t *TranscriptionConfig) JobTimeoutDuration() time.Duration {
	return time.Duration(t.JobTimeout) * time.Second
}

func (t *TranscriptionConfig) DrainWindowDuration() time.Duration {
	return time.Duration(t.DrainWindow) * time.Second
}

func (t *TranscriptionConfig) LiveWindowDuration() time.Duration {
	return time.Duration(t.LiveWindow * float64(time.Second))
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
