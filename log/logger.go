// Package log wraps zap with the session context every unchunk log entry
// carries: session_id, source and, when known, variant.
package log

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/klaki892/chunked-dc/types"
)

// Output formats accepted by Options.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options select verbosity and encoding.
type Options struct {
	Level  zapcore.Level
	Format string
}

// DefaultOptions logs JSON at info level.
var DefaultOptions = Options{Level: zapcore.InfoLevel, Format: FormatJSON}

// ParseOptions validates --log-level and --log-format values. Empty
// strings keep the defaults.
func ParseOptions(level, format string) (Options, error) {
	opts := DefaultOptions
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return opts, fmt.Errorf("invalid log level %q", level)
		}
		opts.Level = lvl
	}
	switch f := strings.ToLower(format); f {
	case "":
	case FormatJSON, FormatConsole:
		opts.Format = f
	default:
		return opts, fmt.Errorf("invalid log format %q (must be json or console)", format)
	}
	return opts, nil
}

// Logger writes leveled entries tagged with session context.
type Logger struct {
	zap     *zap.Logger
	context []zap.Field
	opts    Options
}

// NewLogger returns a logger for the session writing JSON to stderr.
func NewLogger(meta *types.SessionMeta) *Logger {
	return New(meta, os.Stderr, DefaultOptions)
}

// New returns a logger for the session writing to w.
func New(meta *types.SessionMeta, w io.Writer, opts Options) *Logger {
	ctx := []zap.Field{
		zap.String("session_id", meta.SessionID),
		zap.String("source", meta.Source),
	}
	if meta.Variant != "" {
		ctx = append(ctx, zap.String("variant", meta.Variant))
	}
	return build(w, opts, ctx)
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop(), opts: DefaultOptions}
}

func build(w io.Writer, opts Options, ctx []zap.Field) *Logger {
	enc := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	var encoder zapcore.Encoder
	if opts.Format == FormatConsole {
		encoder = zapcore.NewConsoleEncoder(enc)
	} else {
		encoder = zapcore.NewJSONEncoder(enc)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), opts.Level)
	return &Logger{zap: zap.New(core).With(ctx...), context: ctx, opts: opts}
}

// WithOutput returns a copy writing to w with the same context.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	return build(w, l.opts, l.context)
}

// With returns a copy that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	zf := toFields(fields)
	return &Logger{
		zap:     l.zap.With(zf...),
		context: append(slices.Clip(l.context), zf...),
		opts:    l.opts,
	}
}

// toFields flattens fields into top-level keys, sorted for stable output.
func toFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	zf := make([]zap.Field, len(keys))
	for i, k := range keys {
		zf[i] = zap.Any(k, fields[k])
	}
	return zf
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.zap.Debug(msg, toFields(fields)...) }
func (l *Logger) Info(msg string, fields map[string]any) { l.zap.Info(msg, toFields(fields)...) }
func (l *Logger) Warn(msg string, fields map[string]any) { l.zap.Warn(msg, toFields(fields)...) }
func (l *Logger) Error(msg string, fields map[string]any) { l.zap.Error(msg, toFields(fields)...) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
