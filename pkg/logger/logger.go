package logger

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// ANSI color codes for console output
const (
	ColorReset        = "\033[0m"
	ColorCyan         = "\033[36m"
	ColorGreen        = "\033[32m"
	ColorBrightRed    = "\033[91m"
	ColorBrightYellow = "\033[93m"
	ColorBrightGray   = "\033[90m"
)

// Column widths for aligned console output
const (
	ServiceNameWidth = 20
	LogLevelWidth    = 7
)

var levelRank = map[string]int{
	"DEBUG": 0,
	"INFO":  1,
	"WARN":  2,
	"ERROR": 3,
	"FATAL": 4,
}

// LogEntry represents a single log entry
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
	Fields  map[string]string
}

// Logger provides leveled console logging
type Logger struct {
	serviceName string
	version     string

	mu           sync.RWMutex
	minLevel     int
	colorEnabled bool
}

// New creates a new logger instance
func New(serviceName, version string) *Logger {
	return &Logger{
		serviceName:  serviceName,
		version:      version,
		minLevel:     levelRank["INFO"],
		colorEnabled: isTerminal(),
	}
}

// SetLevel sets the minimum level that will be written; unknown levels
// leave the current setting unchanged.
func (l *Logger) SetLevel(level string) {
	rank, ok := levelRank[level]
	if !ok {
		return
	}
	l.mu.Lock()
	l.minLevel = rank
	l.mu.Unlock()
}

// isTerminal checks if we're outputting to a terminal (for color support)
func isTerminal() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// getColorForLevel returns the appropriate color for a log level
func (l *Logger) getColorForLevel(level string) string {
	if !l.colorEnabled {
		return ""
	}

	switch level {
	case "DEBUG":
		return ColorBrightGray
	case "INFO":
		return ColorGreen
	case "WARN":
		return ColorBrightYellow
	case "ERROR", "FATAL":
		return ColorBrightRed
	default:
		return ColorReset
	}
}

// formatServiceName truncates and pads the service name for consistent column width
func formatServiceName(serviceName string) string {
	if len(serviceName) > ServiceNameWidth {
		return serviceName[:ServiceNameWidth-1] + "…"
	}
	return fmt.Sprintf("%-*s", ServiceNameWidth, serviceName)
}

// formatLogLevel pads the log level for consistent column width and adds visual indicators
func formatLogLevel(level string) string {
	levelStr := level

	switch level {
	case "ERROR", "FATAL":
		levelStr = "✗ " + levelStr
	case "WARN":
		levelStr = "⚠ " + levelStr
	case "INFO":
		levelStr = "ℹ " + levelStr
	case "DEBUG":
		levelStr = "◦ " + levelStr
	}

	return fmt.Sprintf("%-*s", LogLevelWidth+2, levelStr) // +2 for the icon
}

func (l *Logger) log(level, message string, fields map[string]string) {
	l.mu.RLock()
	minLevel := l.minLevel
	l.mu.RUnlock()

	if levelRank[level] < minLevel {
		return
	}

	now := time.Now()
	timestamp := now.Format("2006-01-02 15:04:05.000")

	color := l.getColorForLevel(level)
	resetColor := ""
	if l.colorEnabled {
		resetColor = ColorReset
	}

	if len(fields) > 0 {
		for k, v := range fields {
			message += fmt.Sprintf(" %s=%s", k, v)
		}
	}

	fmt.Printf("%s[%s] [%s] [%s%s%s] %s%s\n",
		ColorCyan, timestamp, formatServiceName(l.serviceName), color, formatLogLevel(level), resetColor, message, resetColor)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log("DEBUG", fmt.Sprintf(format, args...), nil)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log("DEBUG", message, nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log("INFO", fmt.Sprintf(format, args...), nil)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log("INFO", message, nil)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log("WARN", fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log("WARN", message, nil)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log("ERROR", fmt.Sprintf(format, args...), nil)
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.log("ERROR", message, nil)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log("FATAL", fmt.Sprintf(format, args...), nil)
	os.Exit(1)
}

// WithFields returns a logging context carrying additional fields
func (l *Logger) WithFields(fields map[string]string) *LogContext {
	return &LogContext{
		logger: l,
		fields: fields,
	}
}

// LogContext provides field-based logging
type LogContext struct {
	logger *Logger
	fields map[string]string
}

func (c *LogContext) Info(message string) {
	c.logger.log("INFO", message, c.fields)
}

func (c *LogContext) Warn(message string) {
	c.logger.log("WARN", message, c.fields)
}

func (c *LogContext) Error(message string) {
	c.logger.log("ERROR", message, c.fields)
}
