// Package config reads the configuration of the live server from the
// environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/vsariola/kantele"
	"go.uber.org/zap/zapcore"
)

// Config holds all configuration for the live server
type Config struct {
	// Server configuration
	HTTPPort int    `env:"KANTELE_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"KANTELE_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Audio AudioConfig

	Redis RedisConfig

	// Program is loaded when the server starts; empty starts with no
	// instruments.
	Program string `env:"KANTELE_PROGRAM"`

	// MIDIInput selects the first input port whose name starts with it;
	// empty disables MIDI.
	MIDIInput string `env:"KANTELE_MIDI_INPUT"`

	ShutdownTimeout time.Duration `env:"KANTELE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// AudioConfig holds the performance defaults. Header statements of the
// program override them.
type AudioConfig struct {
	SampleRate int     `env:"KANTELE_SAMPLE_RATE" envDefault:"44100"`
	Ksmps      int     `env:"KANTELE_KSMPS" envDefault:"64"`
	Nchnls     int     `env:"KANTELE_NCHNLS" envDefault:"2"`
	ZeroDBFS   float64 `env:"KANTELE_0DBFS" envDefault:"32768"`
	// Hold is how long the live performance stays open without notes.
	Hold   time.Duration `env:"KANTELE_HOLD" envDefault:"3600s"`
	Output string        `env:"KANTELE_AUDIO" envDefault:"oto"`
}

// RedisConfig holds Redis connection configuration. An empty address
// selects the in-memory event bus.
type RedisConfig struct {
	Addr     string `env:"KANTELE_REDIS_ADDR"`
	Password string `env:"KANTELE_REDIS_PASS"`
	DB       int    `env:"KANTELE_REDIS_DB" envDefault:"0"`
	Stream   string `env:"KANTELE_REDIS_STREAM" envDefault:"kantele:notifications"`
	MaxLen   int64  `env:"KANTELE_REDIS_MAXLEN" envDefault:"10000"`
}

var logLevels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if err := c.Header().Validate(); err != nil {
		return fmt.Errorf("invalid audio config: %w", err)
	}
	if c.Audio.Hold < 0 {
		return fmt.Errorf("invalid hold time: %v", c.Audio.Hold)
	}
	switch c.Audio.Output {
	case "oto", "portaudio", "none":
	default:
		return fmt.Errorf("invalid audio output: %s (must be oto, portaudio or none)", c.Audio.Output)
	}
	if _, ok := logLevels[c.LogLevel]; !ok {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	return nil
}

// Header returns the configured performance defaults.
func (c *Config) Header() kantele.Header {
	return kantele.Header{
		SampleRate: c.Audio.SampleRate,
		Ksmps:      c.Audio.Ksmps,
		Nchnls:     c.Audio.Nchnls,
		ZeroDBFS:   c.Audio.ZeroDBFS,
	}
}

// Level returns the zap level of LogLevel.
func (c *Config) Level() zapcore.Level {
	return logLevels[c.LogLevel]
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
