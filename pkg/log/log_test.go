package log

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestHelperFunctions(t *testing.T) {
	// Setup to capture output
	var buf bytes.Buffer
	logger = zerolog.New(&buf).Level(zerolog.DebugLevel)

	t.Run("Debug", func(t *testing.T) {
		buf.Reset()
		Debug("debug msg")
		if !strings.Contains(buf.String(), "debug msg") {
			t.Errorf("Expected output to contain 'debug msg'")
		}
	})

	t.Run("Info", func(t *testing.T) {
		buf.Reset()
		Info("info msg")
		if !strings.Contains(buf.String(), "info msg") {
			t.Errorf("Expected output to contain 'info msg'")
		}
	})

	t.Run("Warn", func(t *testing.T) {
		buf.Reset()
		Warn("warn msg")
		if !strings.Contains(buf.String(), "warn msg") {
			t.Errorf("Expected output to contain 'warn msg'")
		}
	})

	t.Run("Error", func(t *testing.T) {
		buf.Reset()
		Error("error msg")
		if !strings.Contains(buf.String(), "error msg") {
			t.Errorf("Expected output to contain 'error msg'")
		}
	})

	t.Run("Formatted", func(t *testing.T) {
		buf.Reset()
		Infof("hello %s", "world")
		if !strings.Contains(buf.String(), "hello world") {
			t.Errorf("Expected output to contain 'hello world'")
		}
	})
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger = zerolog.New(&buf)

	t.Run("WithContainer", func(t *testing.T) {
		buf.Reset()
		l := WithContainer("cid123", "cname")
		l.Info().Msg("test")

		output := buf.String()
		if !strings.Contains(output, "cid123") || !strings.Contains(output, "cname") {
			t.Errorf("Expected output to contain container fields, got: %s", output)
		}
	})

	t.Run("WithInstance", func(t *testing.T) {
		buf.Reset()
		l := WithInstance("https://instance.example.com", 3)
		l.Info().Msg("test")

		output := buf.String()
		if !strings.Contains(output, "instance.example.com") || !strings.Contains(output, `"endpoint_id":3`) {
			t.Errorf("Expected output to contain instance fields, got: %s", output)
		}
	})

	t.Run("WithUpgrade", func(t *testing.T) {
		buf.Reset()
		l := WithUpgrade("deadbeef")
		l.Info().Msg("test")

		output := buf.String()
		if !strings.Contains(output, "deadbeef") {
			t.Errorf("Expected output to contain the upgrade id, got: %s", output)
		}
	})
}

func TestLogLevels(t *testing.T) {
	levels := []struct {
		cfgLevel  string
		wantLevel zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range levels {
		t.Run(tt.cfgLevel, func(t *testing.T) {
			Initialize(Config{Level: tt.cfgLevel})
			if logger.GetLevel() != tt.wantLevel {
				t.Errorf("Expected level %v for config %s, got %v", tt.wantLevel, tt.cfgLevel, logger.GetLevel())
			}
		})
	}
}

func TestFileLogging(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "pilotdeck.log")

	Initialize(Config{
		File:  logFile,
		Level: "info",
	})
	Info("file log test")

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "file log test") {
		t.Errorf("Log file did not contain expected message")
	}
}

func TestFormattedLogging(t *testing.T) {
	var buf bytes.Buffer
	logger = zerolog.New(&buf).Level(zerolog.DebugLevel)

	t.Run("Debugf", func(t *testing.T) {
		buf.Reset()
		Debugf("debug %s %d", "test", 42)
		if !strings.Contains(buf.String(), "debug test 42") {
			t.Errorf("Expected output to contain 'debug test 42', got: %s", buf.String())
		}
	})

	t.Run("Warnf", func(t *testing.T) {
		buf.Reset()
		Warnf("warning %s", "message")
		if !strings.Contains(buf.String(), "warning message") {
			t.Errorf("Expected output to contain 'warning message', got: %s", buf.String())
		}
	})

	t.Run("Errorf", func(t *testing.T) {
		buf.Reset()
		Errorf("error %d", 500)
		if !strings.Contains(buf.String(), "error 500") {
			t.Errorf("Expected output to contain 'error 500', got: %s", buf.String())
		}
	})
}

func TestErrorWithErr(t *testing.T) {
	var buf bytes.Buffer
	logger = zerolog.New(&buf).Level(zerolog.ErrorLevel)

	testErr := fmt.Errorf("test error")
	ErrorErr("operation failed", testErr)

	output := buf.String()
	if !strings.Contains(output, "operation failed") {
		t.Errorf("Expected output to contain 'operation failed', got: %s", output)
	}
	if !strings.Contains(output, "test error") {
		t.Errorf("Expected output to contain 'test error', got: %s", output)
	}
}
