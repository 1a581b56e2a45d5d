package zerolog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/immigrationai/subsync/pkg/subsync"
)

func TestLogger_WritesAllLevels(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Debug("debug message", subsync.Field{Key: "key", Value: "value"})
	logger.Info("info message", subsync.Field{Key: "key", Value: "value"})
	logger.Warn("warn message", subsync.Field{Key: "key", Value: "value"})
	logger.Error("error message", subsync.Field{Key: "key", Value: "value"})

	out := output.String()
	for _, want := range []string{"debug message", "info message", "warn message", "error message"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got %s", want, out)
		}
	}
}

func TestLogger_IncludesFields(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Info("subscription updated",
		subsync.Field{Key: "event_id", Value: "evt_1"},
		subsync.Field{Key: "subscription_id", Value: "sub_123"})

	out := output.String()
	if !strings.Contains(out, `"event_id":"evt_1"`) {
		t.Errorf("Expected event_id field in output, got %s", out)
	}
	if !strings.Contains(out, `"subscription_id":"sub_123"`) {
		t.Errorf("Expected subscription_id field in output, got %s", out)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output).Level(zerolog.WarnLevel))

	logger.Debug("filtered out")
	logger.Info("filtered out")

	if output.Len() != 0 {
		t.Errorf("Expected debug/info to be filtered, got %s", output.String())
	}

	logger.Warn("kept")
	if !strings.Contains(output.String(), "kept") {
		t.Error("Expected warn log to be written")
	}
}
