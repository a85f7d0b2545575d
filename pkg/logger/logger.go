package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const (
	RequestIDKey ctxKey = "request_id"
	loggerKey    ctxKey = "logger"
)

type Logger struct {
	*slog.Logger
}

// Options selects the handler format, minimum level and destination
type Options struct {
	Format string // "json" or "text"
	Level  string // DEBUG, INFO, WARN, ERROR
	Output io.Writer
}

// FileOptions configures a rotating log file
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(Options{Format: "json"}))
}

func New(opts Options) *Logger {
	var handler slog.Handler

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	hopts := &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	}

	if opts.Format == "text" {
		handler = slog.NewTextHandler(out, hopts)
	} else {
		handler = slog.NewJSONHandler(out, hopts)
	}

	return &Logger{slog.New(handler)}
}

// NewFileWriter returns a size-rotated file writer
func NewFileWriter(opts FileOptions) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
}

// ParseLevel maps a level name to a slog level, defaulting to INFO
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) With(key string, val any) *Logger {
	return &Logger{l.Logger.With(key, val)}
}

// SetDefault replaces the logger returned by FromContext when the context
// carries none, and makes it the slog default
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l.Logger)
}

// Default returns the process-wide logger
func Default() *Logger {
	return defaultLogger.Load()
}

func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithRequestID stores id in ctx along with a logger that tags every line
// with it
func WithRequestID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, RequestIDKey, id)
	return WithContext(ctx, FromContext(ctx).With("request_id", id))
}

// RequestID returns the request id stored by the request id middleware
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
