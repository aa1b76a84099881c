package logging

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with convenience constructors
type Logger struct {
	*zap.Logger
}

// Config selects the level and format of a logger
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	// Output receives encoded lines. Nil means stderr, keeping stdout free
	// for command results such as archive paths.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level
func DefaultConfig() Config {
	return Config{Level: "info"}
}

// DevelopmentConfig returns colored console logging at debug level
func DevelopmentConfig() Config {
	return Config{Level: "debug", Development: true}
}

// New creates a logger with the provided configuration
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var sink zapcore.WriteSyncer = os.Stderr
	if cfg.Output != nil {
		sink = zapcore.AddSync(cfg.Output)
	}
	core := zapcore.NewCore(newEncoder(cfg.Development), zapcore.Lock(sink), level)

	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return &Logger{Logger: zap.New(core, opts...)}, nil
}

// NewDefault creates a logger with default configuration
func NewDefault() *Logger {
	logger, err := New(DefaultConfig())
	if err != nil {
		return NewNop()
	}
	return logger
}

// NewDevelopment creates a logger with development configuration
func NewDevelopment() *Logger {
	logger, err := New(DevelopmentConfig())
	if err != nil {
		return NewNop()
	}
	return logger
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// FromSettings builds a logger from a level name and mode, falling back to
// the default logger when the level is not recognised
func FromSettings(level string, development bool) *Logger {
	cfg := DefaultConfig()
	if development {
		cfg = DevelopmentConfig()
	}
	if level != "" {
		cfg.Level = level
	}
	logger, err := New(cfg)
	if err != nil {
		fallback := NewDefault()
		fallback.Warn("Unknown log level, using info", zap.String("level", level))
		return fallback
	}
	return logger
}

// Named returns a child logger for a component
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.Named(component)}
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// newEncoder starts from zap's stock encoders. JSON lines name the logger
// "component" to match the Named children each package derives.
func newEncoder(development bool) zapcore.Encoder {
	if development {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc.EncodeTime = zapcore.TimeEncoderOfLayout(time.TimeOnly)
		return zapcore.NewConsoleEncoder(enc)
	}
	enc := zap.NewProductionEncoderConfig()
	enc.NameKey = "component"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder
	return zapcore.NewJSONEncoder(enc)
}
