package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// LogConfig describes console and file logging. Levels are hclog level names
// ("debug", "info", "warn", "error").
type LogConfig struct {
	File         string
	MaxBytes     int64
	BackupCount  int
	ConsoleLevel string
	FileLevel    string
	JSONFile     bool
}

var (
	logMu      sync.RWMutex
	useColors  = true
	rootLogger = newConsoleLogger(hclog.Info)
)

func newConsoleLogger(level hclog.Level) hclog.InterceptLogger {
	color := hclog.ColorOff
	if useColors {
		color = hclog.AutoColor
	}
	return hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:       "rmon",
		Level:      level,
		Output:     os.Stderr,
		Color:      color,
		TimeFormat: "15:04:05",
	})
}

func logger() hclog.InterceptLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return rootLogger
}

// ConfigureLogging replaces the process logger with one that writes to stderr
// at cfg.ConsoleLevel and, when cfg.File is set, to a size-rotated file at
// cfg.FileLevel. The returned closer releases the log file.
func ConfigureLogging(cfg LogConfig) (io.Closer, error) {
	consoleLevel := parseLevel(cfg.ConsoleLevel, hclog.Info)
	l := newConsoleLogger(consoleLevel)

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		maxMB := int(cfg.MaxBytes / (1 << 20))
		if maxMB < 1 {
			maxMB = 1
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxMB,
			MaxBackups: cfg.BackupCount,
		}
		// Rotation happens lazily; opening early surfaces permission errors now.
		if _, err := lj.Write(nil); err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		l.RegisterSink(hclog.NewSinkAdapter(&hclog.LoggerOptions{
			Name:       "rmon",
			Level:      parseLevel(cfg.FileLevel, hclog.Debug),
			Output:     lj,
			JSONFormat: cfg.JSONFile,
		}))
		closer = lj
	}

	logMu.Lock()
	rootLogger = l
	logMu.Unlock()
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(name string, fallback hclog.Level) hclog.Level {
	if name == "" {
		return fallback
	}
	lvl := hclog.LevelFromString(strings.ToLower(name))
	if lvl == hclog.NoLevel {
		return fallback
	}
	return lvl
}

// Named returns a sub-logger for key/value structured output.
func Named(name string) hclog.Logger {
	return logger().Named(name)
}

// SetLogLevel sets the minimum console log level
func SetLogLevel(level LogLevel) {
	switch level {
	case LevelDebug:
		logger().SetLevel(hclog.Debug)
	case LevelWarn:
		logger().SetLevel(hclog.Warn)
	case LevelError:
		logger().SetLevel(hclog.Error)
	default:
		logger().SetLevel(hclog.Info)
	}
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		SetLogLevel(LevelDebug)
	}
}

// SetQuiet enables quiet mode (errors only)
func SetQuiet(quiet bool) {
	if quiet {
		SetLogLevel(LevelError)
	}
}

// SetColors enables or disables colored console output. Call before
// ConfigureLogging; it resets any registered file sink.
func SetColors(enabled bool) {
	logMu.Lock()
	defer logMu.Unlock()
	useColors = enabled
	rootLogger = newConsoleLogger(rootLogger.GetLevel())
}

// DebugLog logs debug messages
func DebugLog(format string, args ...interface{}) {
	logger().Debug(fmt.Sprintf(format, args...))
}

// InfoLog logs informational messages
func InfoLog(format string, args ...interface{}) {
	logger().Info(fmt.Sprintf(format, args...))
}

// WarnLog logs warning messages
func WarnLog(format string, args ...interface{}) {
	logger().Warn(fmt.Sprintf(format, args...))
}

// ErrorLog logs error messages
func ErrorLog(format string, args ...interface{}) {
	logger().Error(fmt.Sprintf(format, args...))
}

// SuccessLog logs success messages at info level with an OK marker
func SuccessLog(format string, args ...interface{}) {
	logger().Info("[OK] " + fmt.Sprintf(format, args...))
}
