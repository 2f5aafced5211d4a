// Package logging provides config-driven categorized file-based logging.
// Logs are written to <workspace>/.medscreen/logs/ with one file per
// category per day. When debug mode is off the whole package is a no-op,
// so hot paths can log freely.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot       Category = "boot"       // startup and config
	CategoryAPI        Category = "api"        // raw LLM HTTP calls
	CategoryDispatch   Category = "dispatch"   // dispatcher routing, retries, fallbacks
	CategoryScreening  Category = "screening"  // per-record screening pipeline
	CategoryRules      Category = "rules"      // rule engine evaluation
	CategoryEnsemble   Category = "ensemble"   // aggregation decisions
	CategoryAssessment Category = "assessment" // QA criterion fan-out
	CategoryBatch      Category = "batch"      // batch coordinator and workers
	CategoryStore      Category = "store"      // job store and snapshot
)

// Options controls logger behavior; a zero Options disables logging.
type Options struct {
	DebugMode  bool
	Level      string // debug, info, warn, error
	JSONFormat bool
	Categories map[string]bool // nil means all categories enabled
}

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	optsMu    sync.RWMutex
	logLevel  int
)

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

// Initialize sets up the logging directory. Call once at startup.
func Initialize(workspace string, o Options) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	optsMu.Lock()
	opts = o
	switch o.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	optsMu.Unlock()

	if !o.DebugMode {
		return nil // silent no-op in production mode
	}

	dir := filepath.Join(workspace, ".medscreen", "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	loggersMu.Lock()
	logsDir = dir
	loggersMu.Unlock()

	boot := Get(CategoryBoot)
	boot.Info("=== medscreen logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	boot.Info("Log level: %s", o.Level)
	return nil
}

// IsCategoryEnabled reports whether a category produces output.
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	if !opts.DebugMode {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category. A no-op logger
// is returned when the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	l, ok := loggers[category]
	dir := logsDir
	loggersMu.RUnlock()
	if ok {
		return l
	}
	if dir == "" {
		return &Logger{category: category}
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a matter of deleting old files.
	filename := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category)
	file, err := os.OpenFile(filepath.Join(dir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file: %v\n", err)
		return &Logger{category: category}
	}

	l = &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

type jsonEntry struct {
	Timestamp int64  `json:"ts"`
	Category  string `json:"cat"`
	Level     string `json:"lvl"`
	Message   string `json:"msg"`
}

func (l *Logger) write(level string, lvl int, format string, args ...interface{}) {
	if l.logger == nil || logLevel > lvl {
		return
	}
	msg := fmt.Sprintf(format, args...)
	optsMu.RLock()
	jsonFormat := opts.JSONFormat
	optsMu.RUnlock()
	if jsonFormat {
		data, err := json.Marshal(jsonEntry{
			Timestamp: time.Now().UnixMilli(),
			Category:  string(l.category),
			Level:     level,
			Message:   msg,
		})
		if err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s", level, msg)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.write("debug", LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.write("info", LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.write("warn", LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.write("error", LevelError, format, args...)
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
	logsDir = ""
}

// Convenience functions for the main categories. No-ops when disabled.

func API(format string, args ...interface{})      { Get(CategoryAPI).Info(format, args...) }
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }
func APIError(format string, args ...interface{}) { Get(CategoryAPI).Error(format, args...) }

func Dispatch(format string, args ...interface{})      { Get(CategoryDispatch).Info(format, args...) }
func DispatchDebug(format string, args ...interface{}) { Get(CategoryDispatch).Debug(format, args...) }
func DispatchWarn(format string, args ...interface{})  { Get(CategoryDispatch).Warn(format, args...) }

func Screening(format string, args ...interface{})      { Get(CategoryScreening).Info(format, args...) }
func ScreeningDebug(format string, args ...interface{}) { Get(CategoryScreening).Debug(format, args...) }
func ScreeningWarn(format string, args ...interface{})  { Get(CategoryScreening).Warn(format, args...) }
func ScreeningError(format string, args ...interface{}) { Get(CategoryScreening).Error(format, args...) }

func Assessment(format string, args ...interface{}) { Get(CategoryAssessment).Info(format, args...) }
func AssessmentWarn(format string, args ...interface{}) {
	Get(CategoryAssessment).Warn(format, args...)
}
func AssessmentError(format string, args ...interface{}) {
	Get(CategoryAssessment).Error(format, args...)
}

func Batch(format string, args ...interface{})      { Get(CategoryBatch).Info(format, args...) }
func BatchWarn(format string, args ...interface{})  { Get(CategoryBatch).Warn(format, args...) }
func BatchError(format string, args ...interface{}) { Get(CategoryBatch).Error(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}
