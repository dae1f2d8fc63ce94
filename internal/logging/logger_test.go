package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitializeSilentWithoutLevel(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("silent logger should not be enabled for any level")
	}
}

func TestSetLevel(t *testing.T) {
	SetLevel("error")
	if Level() != "error" {
		t.Errorf("Level() = %q, want error", Level())
	}
	SetLevel("info")
	if Level() != "info" {
		t.Errorf("Level() = %q, want info", Level())
	}
}

func TestLogFailureFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogFailure("TransportFailure", "http read", errors.New("boom"))

	entries := logs.FilterMessage("Session failure").All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["kind"] != "TransportFailure" {
		t.Errorf("kind = %v, want TransportFailure", ctx["kind"])
	}
	if ctx["context"] != "http read" {
		t.Errorf("context = %v, want http read", ctx["context"])
	}
}

func TestASCII(t *testing.T) {
	if got := ASCII([]byte{'G', 'E', 'T', 0x00, '\n'}); got != "GET.." {
		t.Errorf("ASCII() = %q, want %q", got, "GET..")
	}
}
