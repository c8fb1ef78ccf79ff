package pkg

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// capture redirects the default logger into a buffer at debug level for
// the duration of one test.
func capture(t *testing.T, format LogFormat) *bytes.Buffer {
	t.Helper()
	level := GetLogLevel()
	SetLogLevel(slog.LevelDebug)
	var buf bytes.Buffer
	SetLogger(NewLogger(&buf, format))
	t.Cleanup(func() {
		SetLogLevel(level)
		SetLogFormat(LogFormatText)
	})
	return &buf
}

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	tests := []struct {
		name  string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLogLevel(tt.level)
			if got := GetLogLevel(); got != tt.level {
				t.Errorf("GetLogLevel() = %v, want %v", got, tt.level)
			}
		})
	}
}

func TestLogLevelGatesRecords(t *testing.T) {
	buf := capture(t, LogFormatText)
	SetLogLevel(slog.LevelWarn)

	Log(ComponentSlot).Debug("suppressed")
	Log(ComponentSlot).Warn("emitted")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Errorf("debug record emitted below level: %s", out)
	}
	if !strings.Contains(out, "emitted") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestLoggerComponentTag(t *testing.T) {
	buf := capture(t, LogFormatText)

	Log(ComponentSlot).Debug("card inserted", "slot", 0)

	out := buf.String()
	if !strings.Contains(out, "component=slot") {
		t.Errorf("log output missing component: %s", out)
	}
	if !strings.Contains(out, "slot=0") {
		t.Errorf("log output missing attribute: %s", out)
	}
}

func TestLoggerRequest(t *testing.T) {
	buf := capture(t, LogFormatText)

	Log(ComponentFunction).Request("command failed", 2, 0x11, SlotError(0xFE))

	out := buf.String()
	for _, want := range []string{"component=function", "slot=2", "seq=17", "bError=254"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestHexAttr(t *testing.T) {
	buf := capture(t, LogFormatText)

	Log(ComponentSlot).Debug("powered on", Hex("atr", []byte{0x3B, 0x81, 0x80}))

	if out := buf.String(); !strings.Contains(out, "atr=3b8180") {
		t.Errorf("log output missing hex attribute: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t, LogFormatJSON)

	Log(ComponentCodec).Info("test message")

	out := buf.String()
	if !strings.Contains(out, `"msg":"test message"`) {
		t.Errorf("JSON log output missing message: %s", out)
	}
	if !strings.Contains(out, `"component":"codec"`) {
		t.Errorf("JSON log output missing component: %s", out)
	}
}
