package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Artuar/babelTower/internal/audio"
)

// Config represents the complete relay configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains WebSocket and HTTP API configuration
type ServerConfig struct {
	Address         string   `yaml:"address"`
	Port            int      `yaml:"port"`
	WebSocketPath   string   `yaml:"websocket_path"`
	AllowedOrigins  []string `yaml:"allowed_origins"`  // empty allows any origin
	MaxMessageSize  int64    `yaml:"max_message_size"` // bytes
	SendTimeout     float64  `yaml:"send_timeout"`     // seconds
	SendQueueSize   int      `yaml:"send_queue_size"`  // messages
	PingInterval    float64  `yaml:"ping_interval"`    // seconds
	ShutdownTimeout float64  `yaml:"shutdown_timeout"` // seconds
}

// AudioConfig contains the PCM formats on both sides of the pipeline
type AudioConfig struct {
	InputSampleRate  int `yaml:"input_sample_rate"`
	OutputSampleRate int `yaml:"output_sample_rate"`
	Channels         int `yaml:"channels"`
	BitDepth         int `yaml:"bit_depth"`
}

// SegmenterConfig contains silence detection and phrase segmentation parameters
type SegmenterConfig struct {
	SilenceThreshold  float64 `yaml:"silence_threshold"`   // mean absolute amplitude
	SpeechThreshold   float64 `yaml:"speech_threshold"`    // 0 uses silence_threshold
	SilenceDuration   float64 `yaml:"silence_duration"`    // seconds
	MinPhraseDuration float64 `yaml:"min_phrase_duration"` // seconds, 0 disables
	MaxPhraseDuration float64 `yaml:"max_phrase_duration"` // seconds, 0 disables
}

// DispatchConfig contains worker pool configuration
type DispatchConfig struct {
	Workers    int     `yaml:"workers"`
	QueueSize  int     `yaml:"queue_size"`
	JobTimeout float64 `yaml:"job_timeout"` // seconds, 0 disables
}

// PipelineConfig contains capability backend configuration
type PipelineConfig struct {
	Mode          string  `yaml:"mode"` // "http" or "stub"
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Timeout       int     `yaml:"timeout"` // seconds
	MaxRetries    int     `yaml:"max_retries"`
	MaxConcurrent int     `yaml:"max_concurrent"`
	RetryBackoff  float64 `yaml:"retry_backoff"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         "0.0.0.0",
			Port:            8080,
			WebSocketPath:   "/ws",
			MaxMessageSize:  4 << 20,
			SendTimeout:     5,
			SendQueueSize:   64,
			PingInterval:    30,
			ShutdownTimeout: 10,
		},
		Audio: AudioConfig{
			InputSampleRate:  24000,
			OutputSampleRate: 24000,
			Channels:         1,
			BitDepth:         16,
		},
		Segmenter: SegmenterConfig{
			SilenceThreshold: 500,
			SilenceDuration:  0.5,
		},
		Dispatch: DispatchConfig{
			Workers:    4,
			QueueSize:  64,
			JobTimeout: 60,
		},
		Pipeline: PipelineConfig{
			Mode:          "http",
			Endpoint:      "http://localhost:9000",
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 8,
			RetryBackoff:  1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}

	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.WebSocketPath == "" || s.WebSocketPath[0] != '/' {
		return fmt.Errorf("websocket_path must start with '/', got '%s'", s.WebSocketPath)
	}

	if s.WebSocketPath == "/" {
		return fmt.Errorf("websocket_path cannot be the API root '/'")
	}

	if s.MaxMessageSize < 1024 {
		return fmt.Errorf("max_message_size must be at least 1024 bytes, got %d", s.MaxMessageSize)
	}

	if s.SendTimeout <= 0 {
		return fmt.Errorf("send_timeout must be positive, got %f", s.SendTimeout)
	}

	if s.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size must be at least 1, got %d", s.SendQueueSize)
	}

	if s.PingInterval <= 0 {
		return fmt.Errorf("ping_interval must be positive, got %f", s.PingInterval)
	}

	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %f", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.InputSampleRate < 8000 || a.InputSampleRate > 48000 {
		return fmt.Errorf("input_sample_rate must be between 8000 and 48000 Hz, got %d", a.InputSampleRate)
	}

	if a.OutputSampleRate < 8000 || a.OutputSampleRate > 48000 {
		return fmt.Errorf("output_sample_rate must be between 8000 and 48000 Hz, got %d", a.OutputSampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	return nil
}

// Validate validates segmenter configuration
func (s *SegmenterConfig) Validate() error {
	if s.SilenceThreshold <= 0 {
		return fmt.Errorf("silence_threshold must be positive, got %f", s.SilenceThreshold)
	}

	if s.SpeechThreshold < 0 {
		return fmt.Errorf("speech_threshold cannot be negative, got %f", s.SpeechThreshold)
	}

	if s.SilenceDuration <= 0 {
		return fmt.Errorf("silence_duration must be positive, got %f", s.SilenceDuration)
	}

	if s.MinPhraseDuration < 0 {
		return fmt.Errorf("min_phrase_duration cannot be negative, got %f", s.MinPhraseDuration)
	}

	if s.MaxPhraseDuration < 0 {
		return fmt.Errorf("max_phrase_duration cannot be negative, got %f", s.MaxPhraseDuration)
	}

	if s.MaxPhraseDuration > 0 && s.MaxPhraseDuration <= s.SilenceDuration {
		return fmt.Errorf("max_phrase_duration (%f) must be greater than silence_duration (%f)",
			s.MaxPhraseDuration, s.SilenceDuration)
	}

	if s.MaxPhraseDuration > 0 && s.MinPhraseDuration > s.MaxPhraseDuration {
		return fmt.Errorf("min_phrase_duration (%f) cannot exceed max_phrase_duration (%f)",
			s.MinPhraseDuration, s.MaxPhraseDuration)
	}

	return nil
}

// Validate validates dispatch configuration
func (d *DispatchConfig) Validate() error {
	if d.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", d.Workers)
	}

	if d.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", d.QueueSize)
	}

	if d.JobTimeout < 0 {
		return fmt.Errorf("job_timeout cannot be negative, got %f", d.JobTimeout)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	validModes := map[string]bool{"http": true, "stub": true}
	if !validModes[p.Mode] {
		return fmt.Errorf("mode must be 'http' or 'stub', got '%s'", p.Mode)
	}

	if p.Mode == "stub" {
		return nil
	}

	if p.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty in http mode")
	}

	if p.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", p.Timeout)
	}

	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", p.MaxRetries)
	}

	if p.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", p.MaxConcurrent)
	}

	if p.RetryBackoff <= 0 {
		return fmt.Errorf("retry_backoff must be positive, got %f", p.RetryBackoff)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.Output == "" {
		return fmt.Errorf("output cannot be empty (use stdout, stderr or a file path)")
	}

	return nil
}

// ListenAddress returns the host:port the server binds to
func (s *ServerConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// GetSendTimeout returns the per-message send timeout as a time.Duration
func (s *ServerConfig) GetSendTimeout() time.Duration {
	return seconds(s.SendTimeout)
}

// GetPingInterval returns the keepalive interval as a time.Duration
func (s *ServerConfig) GetPingInterval() time.Duration {
	return seconds(s.PingInterval)
}

// GetShutdownTimeout returns the graceful shutdown timeout as a time.Duration
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return seconds(s.ShutdownTimeout)
}

// InputFormat returns the PCM format expected from participants
func (a *AudioConfig) InputFormat() audio.Format {
	return audio.Format{SampleRate: a.InputSampleRate, SampleWidth: a.BitDepth / 8, Channels: a.Channels}
}

// OutputFormat returns the PCM format of synthesized speech
func (a *AudioConfig) OutputFormat() audio.Format {
	return audio.Format{SampleRate: a.OutputSampleRate, SampleWidth: a.BitDepth / 8, Channels: a.Channels}
}

// GetSilenceDuration returns the trailing silence window as a time.Duration
func (s *SegmenterConfig) GetSilenceDuration() time.Duration {
	return seconds(s.SilenceDuration)
}

// GetMinPhraseDuration returns the minimum phrase duration as a time.Duration
func (s *SegmenterConfig) GetMinPhraseDuration() time.Duration {
	return seconds(s.MinPhraseDuration)
}

// GetMaxPhraseDuration returns the maximum phrase duration as a time.Duration
func (s *SegmenterConfig) GetMaxPhraseDuration() time.Duration {
	return seconds(s.MaxPhraseDuration)
}

// GetSpeechThreshold returns the whole-phrase speech threshold, falling back
// to the silence threshold
func (s *SegmenterConfig) GetSpeechThreshold() float64 {
	if s.SpeechThreshold > 0 {
		return s.SpeechThreshold
	}
	return s.SilenceThreshold
}

// GetJobTimeout returns the per-job deadline as a time.Duration
func (d *DispatchConfig) GetJobTimeout() time.Duration {
	return seconds(d.JobTimeout)
}

// GetTimeoutDuration returns the capability request timeout as a time.Duration
func (p *PipelineConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// GetRetryBackoff returns the first retry delay as a time.Duration
func (p *PipelineConfig) GetRetryBackoff() time.Duration {
	return seconds(p.RetryBackoff)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
