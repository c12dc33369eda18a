package output

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pterm/pterm"
)

// OutputMode defines how the application should output information
type OutputMode string

const (
	ModeInteractive OutputMode = "interactive" // Pretty output for humans, logs to file
	ModeJSON        OutputMode = "json"        // Structured JSON logs on stdout
	ModeDaemon      OutputMode = "daemon"      // Text logs on stderr, no decoration
)

// Logger wraps slog.Logger with context-aware methods
type Logger interface {
	// Component returns a logger for a specific component
	Component(name string) Logger
	// With returns a logger with additional attributes
	With(args ...any) Logger
	// Slog exposes the underlying logger for packages that take *slog.Logger
	Slog() *slog.Logger

	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// OutputLogger handles both user output and structured logging
type OutputLogger struct {
	Logger
	mode   OutputMode
	stdout io.Writer
}

// DayState is how a day ended up in a reconciliation cycle
type DayState int

const (
	StateArchived DayState = iota
	StateArchivedUploadFailed
	StateIncomplete
	StateError
)

// New creates an OutputLogger for mode.
// In interactive mode structured logs go to ~/.wattwich/wattwich.log and
// user messages use pterm; otherwise only structured logs are written.
func New(mode OutputMode) (*OutputLogger, error) {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: getLogLevel()}

	switch mode {
	case ModeJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case ModeDaemon:
		handler = slog.NewTextHandler(os.Stderr, opts)
	case ModeInteractive, "":
		mode = ModeInteractive
		logFile, err := getLogFilePath()
		if err != nil {
			return nil, fmt.Errorf("failed to get log file path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handler = slog.NewTextHandler(file, opts)
	default:
		return nil, fmt.Errorf("unknown output mode %q", mode)
	}

	return NewWithHandler(mode, handler, os.Stdout), nil
}

// NewWithHandler builds an OutputLogger around an existing handler.
func NewWithHandler(mode OutputMode, handler slog.Handler, stdout io.Writer) *OutputLogger {
	return &OutputLogger{
		Logger: &loggerImpl{slog: slog.New(handler)},
		mode:   mode,
		stdout: stdout,
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *OutputLogger {
	return NewWithHandler(ModeDaemon, slog.NewTextHandler(io.Discard, nil), io.Discard)
}

// getLogLevel returns the log level from LOG_LEVEL env var, defaulting to info
func getLogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "trace":
		return slog.LevelDebug - 4
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getLogFilePath returns the path to the log file
func getLogFilePath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".wattwich", "wattwich.log"), nil
}

func (ol *OutputLogger) interactive() bool {
	return ol.mode == ModeInteractive
}

// CycleHeader announces the days a cycle is about to reconcile
func (ol *OutputLogger) CycleHeader(first, last string, count int) {
	if !ol.interactive() {
		return
	}
	pterm.Println()
	pterm.Info.Printf("📅 %d missing day(s) from %s to %s\n", count, first, last)
}

// DayLine shows the outcome for one day
func (ol *OutputLogger) DayLine(day string, state DayState, detail string) {
	if !ol.interactive() {
		return
	}
	pterm.Println(buildDayLine(day, state, detail))
}

func buildDayLine(day string, state DayState, detail string) string {
	parts := []string{"⚡", day}
	switch state {
	case StateArchived:
		parts = append(parts, pterm.NewStyle(pterm.FgGreen).Sprint("✅ Archived"))
	case StateArchivedUploadFailed:
		parts = append(parts, pterm.NewStyle(pterm.FgYellow).Sprint("⚠️  Archived, upload failed"))
	case StateIncomplete:
		parts = append(parts, pterm.NewStyle(pterm.FgGray).Sprint("⏳ Not available yet"))
	case StateError:
		parts = append(parts, pterm.NewStyle(pterm.FgRed).Sprint("❌ Error"))
	}
	if detail != "" {
		parts = append(parts, pterm.NewStyle(pterm.FgGray).Sprint(detail))
	}
	return strings.Join(parts, " ")
}

// Progress shows ongoing operations
func (ol *OutputLogger) Progress(format string, args ...any) {
	if ol.interactive() {
		pterm.Info.Printf(format+"\n", args...)
	}
}

// Status shows important state changes
func (ol *OutputLogger) Status(format string, args ...any) {
	if ol.interactive() {
		pterm.Success.Printf(format+"\n", args...)
	}
}

// Result shows final results/summaries
func (ol *OutputLogger) Result(format string, args ...any) {
	if ol.interactive() {
		pterm.Success.Printf("🎯 "+format+"\n", args...)
	}
}

// Warning shows a user-facing warning
func (ol *OutputLogger) Warning(format string, args ...any) {
	if ol.interactive() {
		pterm.Warning.Printf(format+"\n", args...)
	}
}

// ShowError shows user-facing errors
func (ol *OutputLogger) ShowError(format string, args ...any) {
	if ol.interactive() {
		pterm.Error.Printf(format+"\n", args...)
	}
}

// JSON outputs structured data (only in JSON mode)
func (ol *OutputLogger) JSON(data any) error {
	if ol.mode != ModeJSON {
		return nil
	}
	return json.NewEncoder(ol.stdout).Encode(data)
}

// LogAndShowError logs an error with full context and shows a user-friendly message
func (ol *OutputLogger) LogAndShowError(err error, userMsg string, args ...any) {
	ol.Logger.Error("operation_failed", "error", err, "user_message", fmt.Sprintf(userMsg, args...))
	ol.ShowError(userMsg, args...)
}

// loggerImpl implements Logger interface
type loggerImpl struct {
	slog *slog.Logger
}

func (l *loggerImpl) Component(name string) Logger {
	return &loggerImpl{slog: l.slog.With("component", name)}
}

func (l *loggerImpl) With(args ...any) Logger {
	return &loggerImpl{slog: l.slog.With(args...)}
}

func (l *loggerImpl) Slog() *slog.Logger {
	return l.slog
}

func (l *loggerImpl) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

func (l *loggerImpl) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

func (l *loggerImpl) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

func (l *loggerImpl) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}
