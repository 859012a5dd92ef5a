package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger zerolog.Logger

// Config holds logger settings
type Config struct {
	Level      string
	JSON       bool
	File       string
	MaxSize    int // megabytes per log file before rotation
	MaxBackups int
}

// Initialize sets up the logger with the given level and output format
func Initialize(cfg Config) {
	var output io.Writer = os.Stdout

	// Set up console writer for pretty output if not JSON
	if !cfg.JSON {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	// Tee to a rotating file when configured
	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = 10
		}
		fileOut := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
		}
		output = io.MultiWriter(output, fileOut)
	}

	// Parse log level
	logLevel := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	logger = zerolog.New(output).
		Level(logLevel).
		With().
		Timestamp().
		Logger()
}

// Debug logs a debug message
func Debug(msg string) {
	logger.Debug().Msg(msg)
}

// Debugf logs a formatted debug message
func Debugf(format string, args ...interface{}) {
	logger.Debug().Msgf(format, args...)
}

// Info logs an info message
func Info(msg string) {
	logger.Info().Msg(msg)
}

// Infof logs a formatted info message
func Infof(format string, args ...interface{}) {
	logger.Info().Msgf(format, args...)
}

// Warn logs a warning message
func Warn(msg string) {
	logger.Warn().Msg(msg)
}

// Warnf logs a formatted warning message
func Warnf(format string, args ...interface{}) {
	logger.Warn().Msgf(format, args...)
}

// Error logs an error message
func Error(msg string) {
	logger.Error().Msg(msg)
}

// Errorf logs a formatted error message
func Errorf(format string, args ...interface{}) {
	logger.Error().Msgf(format, args...)
}

// ErrorErr logs an error with an error object
func ErrorErr(msg string, err error) {
	logger.Error().Err(err).Msg(msg)
}

// WithContainer returns a logger with container context
func WithContainer(containerID, containerName string) *zerolog.Logger {
	l := logger.With().
		Str("container_id", containerID).
		Str("container_name", containerName).
		Logger()
	return &l
}

// WithInstance returns a logger with instance/endpoint context
func WithInstance(instanceURL string, endpointID int) *zerolog.Logger {
	l := logger.With().
		Str("instance_url", instanceURL).
		Int("endpoint_id", endpointID).
		Logger()
	return &l
}

// WithUpgrade returns a logger carrying the upgrade correlation id
func WithUpgrade(upgradeID string) *zerolog.Logger {
	l := logger.With().
		Str("upgrade_id", upgradeID).
		Logger()
	return &l
}
