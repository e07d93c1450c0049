package logging

import (
	"context"
	"pairs_trader/pkg/telemetry"
	"testing"
	"time"
)

func TestZapLogger_OTelBridge(t *testing.T) {
	tel, err := telemetry.Setup("test-logger")
	if err != nil {
		t.Fatalf("OTel setup failed: %v", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := NewZapLogger("DEBUG")
	if err != nil {
		t.Fatalf("Zap logger creation failed: %v", err)
	}

	logger.Info("Test OTel bridging", "key", "value")

	// Wait a bit for OTel batching (if any)
	time.Sleep(500 * time.Millisecond)

	// Since we are using stdoutlog, we just verify it doesn't crash
	// and produces output.
	logger.Debug("Debug message", "status", "testing")

	_ = logger.Sync() // Some writers don't support sync (like stdout in some envs), ignore error
}

func TestZapLoggerWithFieldChaining(t *testing.T) {
	logger, err := NewZapLogger("INFO")
	if err != nil {
		t.Fatalf("Zap logger creation failed: %v", err)
	}

	child := logger.WithField("component", "execution_manager").
		WithFields(map[string]interface{}{"venue": "sim", "pair": "AAPLX:AAPL"})
	child.Info("child logger emits with inherited fields")

	// The parent must be unaffected by the child's fields.
	logger.Info("parent logger unchanged")
}

func TestParseLevel(t *testing.T) {
	if _, err := ParseLevel("DEBUG"); err != nil {
		t.Fatalf("DEBUG should parse: %v", err)
	}
	if _, err := ParseLevel("warn"); err != nil {
		t.Fatalf("lower case should parse: %v", err)
	}
	if _, err := ParseLevel("nope"); err == nil {
		t.Fatal("invalid level should error")
	}
}
