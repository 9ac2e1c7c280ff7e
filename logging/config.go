package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// GetConfigFromEnv creates a logger configuration based on environment variables
func GetConfigFromEnv() Config {
	config := DefaultConfig

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = strings.ToLower(format)
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = strings.ToLower(env)
	}

	switch config.Environment {
	case EnvProduction:
		config.AddSource = false
	case EnvTest:
		if os.Getenv("LOG_FORMAT") == "" {
			config.Format = "text"
		}
		if os.Getenv("LOG_LEVEL") == "" {
			config.Level = "debug"
		}
		config.AddSource = false
	case EnvDevelopment:
		if os.Getenv("LOG_FORMAT") == "" {
			config.Format = "text"
		}
		if os.Getenv("LOG_LEVEL") == "" {
			config.Level = "debug"
		}
		config.AddSource = true
	}

	if addSource := os.Getenv("LOG_ADD_SOURCE"); addSource != "" {
		config.AddSource = strings.ToLower(addSource) == "true"
	}

	return config
}

// CustomLevel defines a custom log level between existing ones
type CustomLevel slog.Level

// LevelTrace is more verbose than debug.
const LevelTrace CustomLevel = CustomLevel(slog.LevelDebug - 4)

// String returns the string representation of the custom level
func (l CustomLevel) String() string {
	if l == LevelTrace {
		return "TRACE"
	}
	return slog.Level(l).String()
}

// DynamicLevelVar allows changing log level at runtime, e.g. on config reload.
type DynamicLevelVar struct {
	*slog.LevelVar
}

// NewDynamicLevelVar creates a new dynamic level variable
func NewDynamicLevelVar(initialLevel slog.Level) *DynamicLevelVar {
	levelVar := &slog.LevelVar{}
	levelVar.Set(initialLevel)
	return &DynamicLevelVar{LevelVar: levelVar}
}

// SetFromString sets the level from a string representation
func (d *DynamicLevelVar) SetFromString(level string) bool {
	switch strings.ToLower(level) {
	case "trace", "debug", "info", "warn", "warning", "error":
		d.Set(ParseLevel(strings.ToLower(level)))
		return true
	default:
		return false
	}
}

// NewLoggerWithDynamicLevel creates a logger whose level can be changed later.
func NewLoggerWithDynamicLevel(config Config) (*Logger, *DynamicLevelVar) {
	levelVar := NewDynamicLevelVar(ParseLevel(config.Level))
	opts := &slog.HandlerOptions{
		Level:     levelVar.LevelVar,
		AddSource: config.AddSource,
	}
	return &Logger{Logger: slog.New(newHandler(config, opts))}, levelVar
}
