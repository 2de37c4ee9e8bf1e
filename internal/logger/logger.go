// Package logger provides the structured logging every other package in
// this filesystem writes operational events through: a package-level
// defaultLogger built by a loggerFactory that can emit text or JSON records
// tagged with a severity field, rotated to disk through lumberjack and
// drained asynchronously so a slow log sink never blocks the operation that
// triggered the line.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/xoriors/cryptfs/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Custom severity levels. slog's own Debug/Info/Warn/Error levels are
// reused where they line up; Trace sits below Debug and Off sits above
// Error so every record is suppressed.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(math.MaxInt)
)

var severityNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

// setLoggingLevel maps a cfg-style severity string onto programLevel, the
// slog.LevelVar a handler consults on every call so changing the level
// never requires rebuilding the handler.
func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch level {
	case cfg.TRACE:
		programLevel.Set(LevelTrace)
	case cfg.DEBUG:
		programLevel.Set(LevelDebug)
	case cfg.WARNING:
		programLevel.Set(LevelWarn)
	case cfg.ERROR:
		programLevel.Set(LevelError)
	case cfg.OFF:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// loggerFactory owns the mutable state behind the package-level logging
// functions: the active sink, its format, and the rotation policy applied
// when the sink is a file.
type loggerFactory struct {
	mu sync.Mutex

	file      *os.File
	sysWriter io.Writer
	sink      io.Writer

	format string
	level  cfg.LogSeverity
	prefix string

	programLevel *slog.LevelVar
	asyncLogger  *AsyncLogger

	logRotateConfig cfg.LogRotateLoggingConfig
}

func newLoggerFactory() *loggerFactory {
	pl := new(slog.LevelVar)
	setLoggingLevel(cfg.INFO, pl)
	return &loggerFactory{
		sysWriter:    os.Stderr,
		sink:         os.Stderr,
		format:       "text",
		level:        cfg.InfoLogSeverity,
		programLevel: pl,
	}
}

// createJsonOrTextHandler builds the slog.Handler the factory's current
// format dictates, writing to w, gating on programLevel, and prefixing every
// message (used by callers that want a request id or component tag ahead of
// the message text).
func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	return &severityHandler{w: w, format: f.format, programLevel: programLevel, prefix: prefix}
}

// severityHandler is a minimal slog.Handler emitting exactly the two record
// shapes this filesystem's logs are grepped/parsed as: a quoted
// time/severity/message text line, or a {timestamp,severity,message} JSON
// object. Any format string other than "text" produces JSON, the safer
// default for a format meant to be machine-parsed.
type severityHandler struct {
	w            io.Writer
	format       string
	programLevel *slog.LevelVar
	prefix       string
}

func (h *severityHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.programLevel.Level()
}

func (h *severityHandler) Handle(_ context.Context, r slog.Record) error {
	sev, ok := severityNames[r.Level]
	if !ok {
		sev = r.Level.String()
	}
	msg := h.prefix + r.Message

	var line string
	if h.format == "text" {
		line = fmt.Sprintf("time=%q severity=%s message=%q\n", r.Time.Format("2006/01/02 15:04:05.000000"), sev, msg)
	} else {
		line = fmt.Sprintf("{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":%q,\"message\":%q}\n",
			r.Time.Unix(), r.Time.Nanosecond(), sev, msg)
	}
	_, err := io.WriteString(h.w, line)
	return err
}

func (h *severityHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *severityHandler) WithGroup(_ string) slog.Handler       { return h }

var (
	defaultLoggerFactory = newLoggerFactory()
	defaultLogger        = slog.New(defaultLoggerFactory.createJsonOrTextHandler(
		defaultLoggerFactory.sink, defaultLoggerFactory.programLevel, ""))
)

// InitLogFile points the default logger at lc's configured destination: a
// rotating file via lumberjack, drained through an AsyncLogger, or stderr
// when no file path is set.
func InitLogFile(lc cfg.LoggingConfig) error {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()

	defaultLoggerFactory.format = lc.Format
	defaultLoggerFactory.level = lc.Severity
	defaultLoggerFactory.logRotateConfig = lc.LogRotate
	defaultLoggerFactory.prefix = ""

	if old := defaultLoggerFactory.asyncLogger; old != nil {
		_ = old.Close()
		defaultLoggerFactory.asyncLogger = nil
	}

	var sink io.Writer
	if lc.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   string(lc.FilePath),
			MaxSize:    lc.LogRotate.MaxFileSizeMb,
			MaxBackups: lc.LogRotate.BackupFileCount,
			Compress:   lc.LogRotate.Compress,
		}
		async := NewAsyncLogger(lj, 4096)
		defaultLoggerFactory.asyncLogger = async
		defaultLoggerFactory.sysWriter = nil
		defaultLoggerFactory.file = nil
		sink = async
	} else {
		defaultLoggerFactory.sysWriter = os.Stderr
		sink = os.Stderr
	}
	defaultLoggerFactory.sink = sink

	pl := new(slog.LevelVar)
	setLoggingLevel(string(defaultLoggerFactory.level), pl)
	defaultLoggerFactory.programLevel = pl

	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(sink, pl, defaultLoggerFactory.prefix))
	return nil
}

// SetLogFormat changes the active format ("text" or anything else for JSON)
// without disturbing the current sink or level.
func SetLogFormat(format string) {
	defaultLoggerFactory.mu.Lock()
	defaultLoggerFactory.format = format
	sink := defaultLoggerFactory.sink
	pl := defaultLoggerFactory.programLevel
	prefix := defaultLoggerFactory.prefix
	defaultLoggerFactory.mu.Unlock()

	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(sink, pl, prefix))
}

func logf(level slog.Level, format string, v ...any) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...any) { logf(LevelTrace, format, v...) }
func Debugf(format string, v ...any) { logf(LevelDebug, format, v...) }
func Infof(format string, v ...any)  { logf(LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { logf(LevelWarn, format, v...) }
func Errorf(format string, v ...any) { logf(LevelError, format, v...) }
