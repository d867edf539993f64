package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// This is here for translation, so that the rest of the program doesn't need to care or know
// about zerolog
type DebugLevel = zerolog.Level

// level used when the configured one is missing or unknown
const DefaultLevel DebugLevel = zerolog.DebugLevel

type Logger struct {
	logger zerolog.Logger

	// zerolog.Logger cannot == zerolog.Logger{}, so ready lets us tell if we can log or not
	ready bool
}

type Config struct {
	// Path of the rotated JSON log file, empty means no file
	FilePath string

	// Human readable copies of every log line go here
	ConsoleWriters []io.Writer

	// Raw JSON copies of every log line go here
	Writers []io.Writer

	// The log level, defaults to debug when unparsable
	LogLevel string

	// MaxSize the max size in MB of the logfile before it's rolled
	MaxSize int

	// MaxBackups the max number of rolled files to keep
	MaxBackups int

	// MaxAge the max age in days to keep a logfile
	MaxAge int
}

func (c *Config) level() DebugLevel {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return DefaultLevel
	}
	return level
}

func New(config *Config) (*Logger, error) {
	if config == nil {
		config = &Config{}
	}

	// Let's us display stack info on errors
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.StampMilli

	writers := []io.Writer{}

	if config.FilePath != "" {
		// make our directory if it doesn't exist already
		logDir := filepath.Dir(config.FilePath)
		if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    valueOr(config.MaxSize, 100), // megabytes
			MaxBackups: valueOr(config.MaxBackups, 10),
			MaxAge:     valueOr(config.MaxAge, 30), //days
		})
	}

	writers = append(writers, config.Writers...)

	// Add console writers for all specified io.Writer destinations
	for _, dest := range config.ConsoleWriters {
		writers = append(writers, zerolog.ConsoleWriter{Out: dest, TimeFormat: time.StampMilli})
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	return &Logger{
		logger: zerolog.New(multi).Level(config.level()).With().Timestamp().Logger(),
		ready:  true,
	}, nil
}

func valueOr(value int, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func (l *Logger) AddVersion(component string, version string) {
	if l.ready {
		l.logger = l.logger.With().Str(component+"Version", version).Logger()
	}
}

func (l *Logger) GetComponentLogger(component string) *Logger {
	if !l.ready {
		return l
	}
	return &Logger{
		logger: l.logger.With().
			Str("component", component).
			Logger(),

		ready: true,
	}
}

func (l *Logger) GetRequestLogger(requestId string) *Logger {
	if !l.ready {
		return l
	}
	return &Logger{
		logger: l.logger.With().Str("requestId", requestId).Logger(),
		ready:  true,
	}
}

// WithFields returns a child logger carrying every field of the map
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	if !l.ready {
		return l
	}
	return &Logger{
		logger: l.logger.With().Fields(fields).Logger(),
		ready:  true,
	}
}

func (l *Logger) Info(msg string) {
	if l.ready {
		l.logger.Info().
			Msg(msg)
	}
}

func (l *Logger) Infof(format string, a ...interface{}) {
	if l.ready {
		msg := fmt.Sprintf(format, a...)
		l.Info(msg)
	}
}

func (l *Logger) Debug(msg string) {
	if l.ready {
		l.logger.Debug().
			Msg(msg)
	}
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	if l.ready {
		msg := fmt.Sprintf(format, a...)
		l.Debug(msg)
	}
}

func (l *Logger) Warn(msg string) {
	if l.ready {
		l.logger.Warn().
			Msg(msg)
	}
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	if l.ready {
		msg := fmt.Sprintf(format, a...)
		l.Warn(msg)
	}
}

func (l *Logger) Error(err error) {
	if l.ready {
		l.logger.Error().
			Stack(). // stack trace for errors woot
			Msg(err.Error())
	}
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	if l.ready {
		msg := fmt.Sprintf(format, a...)
		l.Error(errors.New(msg))
	}
}
