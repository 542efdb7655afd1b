package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a configured slog.Logger whose output levels can be changed at
// runtime and whose file output must be closed on shutdown.
type Logger struct {
	*slog.Logger

	levels  []*slog.LevelVar
	closers []io.Closer
}

// New creates a new Logger with the given configuration.
func New(config Config) (*Logger, error) {
	return newLogger(config, os.Stdout)
}

func newLogger(config Config, console io.Writer) (*Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &Logger{}
	var handlers []slog.Handler

	if config.Console.Enabled {
		level, _ := config.Console.Level.toSlogLevel()
		handlers = append(handlers, l.handler(console, config.Console.Format, level))
	}

	if config.File.Enabled {
		level, _ := config.File.Level.toSlogLevel()
		fileWriter := &lumberjack.Logger{
			Filename:   config.File.Filename,
			MaxSize:    config.File.MaxSize,
			MaxBackups: config.File.MaxBackups,
			MaxAge:     config.File.MaxAge,
			Compress:   config.File.Compress,
		}
		l.closers = append(l.closers, fileWriter)
		handlers = append(handlers, l.handler(fileWriter, config.File.Format, level))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		// Nothing enabled: keep a plain console handler so errors are not lost.
		handler = l.handler(console, FormatText, slog.LevelInfo)
	case 1:
		handler = handlers[0]
	default:
		handler = NewMultiHandler(handlers...)
	}

	l.Logger = slog.New(handler)
	return l, nil
}

func (l *Logger) handler(w io.Writer, format Format, level slog.Level) slog.Handler {
	lv := new(slog.LevelVar)
	lv.Set(level)
	l.levels = append(l.levels, lv)

	opts := &slog.HandlerOptions{Level: lv}
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SetLevel changes the level of every output.
func (l *Logger) SetLevel(level Level) error {
	lvl, err := level.toSlogLevel()
	if err != nil {
		return err
	}
	for _, lv := range l.levels {
		lv.Set(lvl)
	}
	return nil
}

// Close releases the rotating log file, if any.
func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		errs = append(errs, c.Close())
	}
	l.closers = nil
	return errors.Join(errs...)
}

// SetDefault builds a Logger and installs it as the slog default.
func SetDefault(config Config) (*Logger, error) {
	logger, err := New(config)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger.Logger)
	return logger, nil
}

// ComponentLogger returns the default logger tagged with a component name.
func ComponentLogger(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// MultiHandler fans records out to several handlers.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler creates a new multi-handler.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

// Enabled reports whether any handler handles records at the given level.
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes the record to every enabled handler and joins their errors.
func (m *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if h.Enabled(ctx, record.Level) {
			errs = append(errs, h.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

// WithAttrs returns a new handler with the given attributes.
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return NewMultiHandler(handlers...)
}

// WithGroup returns a new handler with the given group name.
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return NewMultiHandler(handlers...)
}
