package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		want   string
	}{
		{
			name:   "default config",
			config: nil,
			want:   "text",
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
			want: "json",
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
			want: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:  LevelDebug,
		Format: "text",
		Output: &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)

	jobLogger := logger.WithJob(42)
	jobLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "job_id=42") {
		t.Errorf("Expected job_id=42 in output, got: %s", output)
	}

	buf.Reset()
	workerLogger := jobLogger.WithWorker(1)
	workerLogger.Info("worker message")

	output = buf.String()
	if !strings.Contains(output, "job_id=42") {
		t.Errorf("Expected job_id=42 in worker logger output, got: %s", output)
	}
	if !strings.Contains(output, "worker_id=1") {
		t.Errorf("Expected worker_id=1 in output, got: %s", output)
	}
}

func TestLoggerWithSegment(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:  LevelDebug,
		Format: "text",
		Output: &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)
	segLogger := logger.WithSegment(123, "READ")
	segLogger.Debug("processing segment")

	output := buf.String()
	if !strings.Contains(output, "segment=123") {
		t.Errorf("Expected segment=123 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=READ") {
		t.Errorf("Expected op=READ in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:  LevelDebug,
		Format: "text",
		Output: &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)
	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("Expected 'test error' in output, got: %s", output)
	}
}

func TestShareLogging(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:  LevelDebug,
		Format: "text",
		Output: &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)

	logger.ShareStart("ESTABLISH")
	output := buf.String()
	if !strings.Contains(output, "share operation starting") {
		t.Errorf("Expected share start message, got: %s", output)
	}
	if !strings.Contains(output, "operation=ESTABLISH") {
		t.Errorf("Expected operation=ESTABLISH, got: %s", output)
	}

	buf.Reset()
	logger.ShareSuccess("ESTABLISH")
	output = buf.String()
	if !strings.Contains(output, "share operation succeeded") {
		t.Errorf("Expected share success message, got: %s", output)
	}

	buf.Reset()
	testErr := errors.New("device busy")
	logger.ShareError("SWAP", testErr)
	output = buf.String()
	if !strings.Contains(output, "share operation failed") {
		t.Errorf("Expected share error message, got: %s", output)
	}
	if !strings.Contains(output, "device busy") {
		t.Errorf("Expected error text, got: %s", output)
	}
}

func TestIOLogging(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:  LevelDebug,
		Format: "text",
		Output: &buf,
		Sync:    true,
		NoColor: true,
	}

	logger := NewLogger(config)

	logger.IOStart("READ", 4096, 512)
	output := buf.String()
	if !strings.Contains(output, "I/O operation starting") {
		t.Errorf("Expected I/O start message, got: %s", output)
	}
	if !strings.Contains(output, "op=READ") {
		t.Errorf("Expected op=READ, got: %s", output)
	}
	if !strings.Contains(output, "offset=4096") {
		t.Errorf("Expected offset=4096, got: %s", output)
	}
	if !strings.Contains(output, "length=512") {
		t.Errorf("Expected length=512, got: %s", output)
	}

	buf.Reset()
	logger.IOComplete("READ", 4096, 512, 150)
	output = buf.String()
	if !strings.Contains(output, "I/O operation completed") {
		t.Errorf("Expected I/O complete message, got: %s", output)
	}
	if !strings.Contains(output, "latency_us=150") {
		t.Errorf("Expected latency_us=150, got: %s", output)
	}

	buf.Reset()
	testErr := errors.New("read failed")
	logger.IOError("READ", 4096, 512, testErr)
	output = buf.String()
	if !strings.Contains(output, "I/O operation failed") {
		t.Errorf("Expected I/O error message, got: %s", output)
	}
	if !strings.Contains(output, "read failed") {
		t.Errorf("Expected error text, got: %s", output)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:  LevelDebug,
		Format: "text",
		Output: &buf,
		Sync:    true,
		NoColor: true,
	}

	SetDefault(NewLogger(config))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("Expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	output = buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("Expected info message, got: %s", output)
	}

	buf.Reset()
	Warn("warning message")
	output = buf.String()
	if !strings.Contains(output, "warning message") {
		t.Errorf("Expected warning message, got: %s", output)
	}

	buf.Reset()
	Error("error message")
	output = buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("Expected error message, got: %s", output)
	}
}
