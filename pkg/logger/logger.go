package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes structured lines through zerolog and can mirror them into a
// LogCollector. Children created with With share the parent's collector.
type Logger struct {
	zl     zerolog.Logger
	base   []Field
	mirror *mirror
}

type mirror struct {
	mu        sync.RWMutex
	collector *LogCollector
}

func (m *mirror) get() *LogCollector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collector
}

func (m *mirror) swap(next *LogCollector) {
	m.mu.Lock()
	prev := m.collector
	m.collector = next
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

type Config struct {
	Level      string // debug, info, warn, error, fatal, panic
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		output = file
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: timeFormat}
	}

	zl := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(wrapperDepth + 2).
		Logger()

	return &Logger{zl: zl, mirror: &mirror{}}, nil
}

// NewNop returns a logger that discards output. Mirroring still works so
// tests can observe collected lines.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop(), mirror: &mirror{}}
}

// With returns a child logger that adds fields to every line.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = f.addToContext(ctx)
	}
	base := make([]Field, 0, len(l.base)+len(fields))
	base = append(base, l.base...)
	base = append(base, fields...)
	return &Logger{zl: ctx.Logger(), base: base, mirror: l.mirror}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(zerolog.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(zerolog.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields) }

// Debug/Info/Warn/Error and log sit between user code and zerolog.
const wrapperDepth = 2

func (l *Logger) log(level zerolog.Level, msg string, fields []Field) {
	event := l.zl.WithLevel(level)
	if event != nil {
		for _, f := range fields {
			f.addTo(event)
		}
		event.Msg(msg)
	}
	l.mirrorLine(level, msg, fields)
}

func (l *Logger) mirrorLine(level zerolog.Level, msg string, fields []Field) {
	c := l.mirror.get()
	if c == nil || level < c.config.MinLevel {
		return
	}

	caller := "unknown"
	if _, file, line, ok := runtime.Caller(wrapperDepth + 1); ok {
		if i := strings.LastIndex(file, "SignalHub/"); i >= 0 {
			file = file[i+len("SignalHub/"):]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}

	values := make(map[string]interface{}, len(l.base)+len(fields))
	for _, f := range l.base {
		values[f.key()] = f.value()
	}
	for _, f := range fields {
		values[f.key()] = f.value()
	}
	c.AddLog(level.String(), msg, values, caller)
}

// AddCollector mirrors lines at or above config.MinLevel into an aggregating
// collector. A previously attached collector is flushed and closed.
func (l *Logger) AddCollector(config *CollectionConfig) {
	l.mirror.swap(NewLogCollector(config))
}

func (l *Logger) RemoveCollector() {
	l.mirror.swap(nil)
}

// Field is a typed key/value attached to a line.
type Field struct {
	k    string
	kind fieldKind
	s    string
	i    int64
	b    bool
	any  interface{}
}

type fieldKind uint8

const (
	kindString fieldKind = iota
	kindInt
	kindBool
	kindError
	kindAny
)

func (f Field) key() string { return f.k }

func (f Field) value() interface{} {
	switch f.kind {
	case kindString:
		return f.s
	case kindInt:
		return f.i
	case kindBool:
		return f.b
	case kindError:
		if f.any == nil {
			return nil
		}
		return f.any.(error).Error()
	default:
		return f.any
	}
}

func (f Field) addTo(e *zerolog.Event) {
	switch f.kind {
	case kindString:
		e.Str(f.k, f.s)
	case kindInt:
		e.Int64(f.k, f.i)
	case kindBool:
		e.Bool(f.k, f.b)
	case kindError:
		if f.any != nil {
			e.AnErr(f.k, f.any.(error))
		}
	default:
		e.Interface(f.k, f.any)
	}
}

func (f Field) addToContext(c zerolog.Context) zerolog.Context {
	switch f.kind {
	case kindString:
		return c.Str(f.k, f.s)
	case kindInt:
		return c.Int64(f.k, f.i)
	case kindBool:
		return c.Bool(f.k, f.b)
	case kindError:
		if f.any != nil {
			return c.AnErr(f.k, f.any.(error))
		}
		return c
	default:
		return c.Interface(f.k, f.any)
	}
}

func String(key, value string) Field { return Field{k: key, kind: kindString, s: value} }

func Int(key string, value int) Field { return Field{k: key, kind: kindInt, i: int64(value)} }

func Int64(key string, value int64) Field { return Field{k: key, kind: kindInt, i: value} }

func Uint64(key string, value uint64) Field { return Field{k: key, kind: kindInt, i: int64(value)} }

func Bool(key string, value bool) Field { return Field{k: key, kind: kindBool, b: value} }

// Duration logs the value in milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{k: key, kind: kindInt, i: value.Milliseconds()}
}

func Strings(key string, value []string) Field {
	return String(key, strings.Join(value, ", "))
}

func Error(err error) Field {
	f := Field{k: "error", kind: kindError}
	if err != nil {
		f.any = err
	}
	return f
}

func Any(key string, value interface{}) Field { return Field{k: key, kind: kindAny, any: value} }
