package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger is a leveled logger. The zero value is not usable; use New.
type Logger struct {
	level  LogLevel
	prefix string
	out    *log.Logger
	root   *Logger // level source for child loggers
	mu     sync.RWMutex
}

// New creates a logger writing to stdout at the given level.
func New(level string) *Logger {
	return &Logger{
		level: ParseLogLevel(level),
		out:   log.New(os.Stdout, "[IPTV-GATEWAY] ", log.LstdFlags),
	}
}

func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = New("INFO")
	})
	return defaultLogger
}

// ParseLogLevel converts string to LogLevel, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the level of the package-level logger.
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// GetLogLevel returns the level of the package-level logger.
func GetLogLevel() string {
	return getDefaultLogger().GetLevel()
}

// SetOutput redirects the package-level logger, mainly for tests.
func SetOutput(w io.Writer) {
	getDefaultLogger().SetOutput(w)
}

// Default returns the package-level logger.
func Default() *Logger {
	return getDefaultLogger()
}

func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
}

func (l *Logger) GetLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return levelNames[l.level]
}

func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.SetOutput(w)
}

// With returns a child logger that shares the parent's output and level
// and tags every message with [COMPONENT].
func (l *Logger) With(component string) *Logger {
	root := l
	if l.root != nil {
		root = l.root
	}
	return &Logger{
		prefix: l.prefix + "[" + strings.ToUpper(component) + "] ",
		out:    l.out,
		root:   root,
	}
}

func (l *Logger) shouldLog(level LogLevel) bool {
	if l.root != nil {
		return l.root.shouldLog(level)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *Logger) logMessage(level LogLevel, format string, v ...interface{}) {
	if !l.shouldLog(level) {
		return
	}
	message := fmt.Sprintf(format, v...)
	l.out.Printf("[%s] %s%s", levelNames[level], l.prefix, message)
}

func (l *Logger) Debug(format string, v ...interface{}) { l.logMessage(DEBUG, format, v...) }
func (l *Logger) Info(format string, v ...interface{})  { l.logMessage(INFO, format, v...) }
func (l *Logger) Warn(format string, v ...interface{})  { l.logMessage(WARN, format, v...) }
func (l *Logger) Error(format string, v ...interface{}) { l.logMessage(ERROR, format, v...) }

// Package-level functions (for direct use like logger.Info())

func Debug(format string, v ...interface{}) {
	getDefaultLogger().Debug(format, v...)
}

func Info(format string, v ...interface{}) {
	getDefaultLogger().Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	getDefaultLogger().Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	getDefaultLogger().Error(format, v...)
}
