package pkg

import (
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Component identifies a reader subsystem for log filtering.
type Component string

// Reader component identifiers.
const (
	ComponentPipe     Component = "pipe"
	ComponentFunction Component = "function"
	ComponentSlot     Component = "slot"
	ComponentCodec    Component = "codec"
	ComponentNotify   Component = "notify"
)

// LogFormat selects the output encoding of the default logger.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

var (
	// logLevel gates every logger built by this package.
	logLevel = new(slog.LevelVar)

	// defaultLogger is the sink behind Log; swapped atomically by
	// SetLogger and SetLogFormat, so records never observe a torn
	// configuration.
	defaultLogger atomic.Pointer[slog.Logger]
)

func init() {
	logLevel.Set(slog.LevelWarn)
	defaultLogger.Store(NewLogger(os.Stderr, LogFormatText))
}

// NewLogger creates a logger writing to w in the given format, gated by
// the package log level.
func NewLogger(w io.Writer, format LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetLogger replaces the default logger with a custom logger.
func SetLogger(logger *slog.Logger) {
	defaultLogger.Store(logger)
}

// SetLogLevel sets the minimum log level for all softccid logging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() slog.Level {
	return logLevel.Level()
}

// SetLogFormat rebuilds the default logger on os.Stderr in the given
// format, keeping the current log level.
func SetLogFormat(format LogFormat) {
	defaultLogger.Store(NewLogger(os.Stderr, format))
}

// Log returns the logger for one component. The value is cheap and
// immutable; subsystems keep one per file.
func Log(c Component) Logger {
	return Logger{component: c}
}

// Logger tags every record with its component and carries helpers for
// the identifiers the CCID protocol threads through each exchange: the
// slot index and sequence number of a bulk message, the bError code of a
// failed command, and hex dumps of protocol data.
type Logger struct {
	component Component
}

// Debug logs at debug level under the component tag.
func (l Logger) Debug(msg string, args ...any) {
	defaultLogger.Load().Debug(msg, l.prepend(args)...)
}

// Info logs at info level under the component tag.
func (l Logger) Info(msg string, args ...any) {
	defaultLogger.Load().Info(msg, l.prepend(args)...)
}

// Warn logs at warn level under the component tag.
func (l Logger) Warn(msg string, args ...any) {
	defaultLogger.Load().Warn(msg, l.prepend(args)...)
}

// Error logs at error level under the component tag.
func (l Logger) Error(msg string, args ...any) {
	defaultLogger.Load().Error(msg, l.prepend(args)...)
}

// Request logs one bulk message's identity at debug level. Every CCID
// request and its response carry the same bSlot and bSeq; tagging both
// on each record lets a capture be correlated against the reader's log.
func (l Logger) Request(msg string, slot, seq uint8, args ...any) {
	l.Debug(msg, append([]any{
		slog.Int("slot", int(slot)),
		slog.Int("seq", int(seq)),
	}, args...)...)
}

// prepend places the component tag ahead of the caller's attributes.
func (l Logger) prepend(args []any) []any {
	return append([]any{slog.String("component", string(l.component))}, args...)
}

// SlotError renders the bError code of a failed CCID command.
func SlotError(code uint8) slog.Attr {
	return slog.Int("bError", int(code))
}

// Hex renders binary protocol data, such as an ATR or APDU, as a hex
// string attribute.
func Hex(key string, data []byte) slog.Attr {
	return slog.String(key, hex.EncodeToString(data))
}
