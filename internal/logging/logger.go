// Package logging provides config-driven categorized file-based logging for botnerd.
// Logs are written to .bot/logs/ with separate files per category.
// Logging is controlled by debug_mode in .bot/config.json - when false, no logs are written.
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

// Category represents a log category/system
type Category string

const (
	// Core system categories
	CategoryBoot    Category = "boot"    // Boot/initialization
	CategoryBus     Category = "bus"     // Message bus delivery
	CategoryWorkers Category = "workers" // Worker lifecycle (manager, state transitions)
	CategoryConfig  Category = "config"  // Configuration load/validate

	// Perception categories
	CategoryVision  Category = "vision"  // Face recognition, enrollment
	CategoryAudio   Category = "audio"   // Microphone capture, wake probing
	CategorySTT     Category = "stt"     // Speech-to-text, wake matching
	CategoryRanging Category = "ranging" // Ultrasonic distance sampling

	// Decision and action categories
	CategoryAgent   Category = "agent"   // Dialogue agent decisions
	CategoryLLM     Category = "llm"     // Language model API calls
	CategoryTrust   Category = "trust"   // Trust store, registration
	CategoryGate    Category = "gate"    // Action gate decisions
	CategoryTTS     Category = "tts"     // Speech synthesis
	CategoryMotion  Category = "motion"  // Drive commands, follow mode
	CategoryDisplay Category = "display" // Emotion rendering
	CategoryBuzzer  Category = "buzzer"  // Beeps and chimes
	CategoryStore   Category = "store"   // SQLite store operations
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

// configFile structure for reading .bot/config.json
type configFile struct {
	Logging loggingConfig `json:"logging"`
}

// StructuredLogEntry represents a JSON log entry
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	RequestID string                 `json:"req,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	workspace    string
	config       loggingConfig
	configLoaded bool
	configMu     sync.RWMutex
	logLevel     int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".bot", "logs")

	// Load config first to check if debug mode is enabled
	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	// Only create logs directory if debug mode is enabled
	if !config.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	bootLogger := Get(CategoryBoot)
	bootLogger.Info("=== botnerd Logging System Initialized ===")
	bootLogger.Info("Workspace: %s", workspace)
	bootLogger.Info("Logs directory: %s", logsDir)
	bootLogger.Info("Debug mode: %v", config.DebugMode)
	bootLogger.Info("Log level: %s", config.Level)

	if len(config.Categories) > 0 {
		enabledCount := 0
		for cat, enabled := range config.Categories {
			if enabled {
				enabledCount++
			}
			bootLogger.Debug("Category '%s': %v", cat, enabled)
		}
		bootLogger.Info("Enabled categories: %d/%d", enabledCount, len(config.Categories))
	} else {
		bootLogger.Info("All categories enabled (no category filter)")
	}

	return nil
}

// loadConfig reads the logging config from .bot/config.json
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".bot", "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = production mode (no logging)
			config.DebugMode = false
			configLoaded = true
			return nil
		}
		return err
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	config = cf.Logging
	configLoaded = true

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	return nil
}

// ReloadConfig reloads the config from disk.
// Call this if config changes at runtime.
func ReloadConfig() error {
	return loadConfig()
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}

	if config.Categories == nil {
		return true // All enabled by default in debug mode
	}

	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Create log file with date prefix for easy rotation
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l

	return l
}

// logJSON writes a structured JSON log entry
func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg) // Fallback to text
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if config.JSONFormat {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// StructuredLog writes a fully structured log entry with custom fields
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	if config.JSONFormat {
		data, err := json.Marshal(entry)
		if err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	// Fallback to text format with fields
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// CloseAll closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

// Bus logs to the bus category
func Bus(format string, args ...interface{}) {
	Get(CategoryBus).Info(format, args...)
}

// BusDebug logs debug to the bus category
func BusDebug(format string, args ...interface{}) {
	Get(CategoryBus).Debug(format, args...)
}

// Workers logs to the workers category
func Workers(format string, args ...interface{}) {
	Get(CategoryWorkers).Info(format, args...)
}

// WorkersDebug logs debug to the workers category
func WorkersDebug(format string, args ...interface{}) {
	Get(CategoryWorkers).Debug(format, args...)
}

// Config logs to the config category
func Config(format string, args ...interface{}) {
	Get(CategoryConfig).Info(format, args...)
}

// ConfigDebug logs debug to the config category
func ConfigDebug(format string, args ...interface{}) {
	Get(CategoryConfig).Debug(format, args...)
}

// Vision logs to the vision category
func Vision(format string, args ...interface{}) {
	Get(CategoryVision).Info(format, args...)
}

// VisionDebug logs debug to the vision category
func VisionDebug(format string, args ...interface{}) {
	Get(CategoryVision).Debug(format, args...)
}

// Audio logs to the audio category
func Audio(format string, args ...interface{}) {
	Get(CategoryAudio).Info(format, args...)
}

// AudioDebug logs debug to the audio category
func AudioDebug(format string, args ...interface{}) {
	Get(CategoryAudio).Debug(format, args...)
}

// STT logs to the stt category
func STT(format string, args ...interface{}) {
	Get(CategorySTT).Info(format, args...)
}

// STTDebug logs debug to the stt category
func STTDebug(format string, args ...interface{}) {
	Get(CategorySTT).Debug(format, args...)
}

// Ranging logs to the ranging category
func Ranging(format string, args ...interface{}) {
	Get(CategoryRanging).Info(format, args...)
}

// RangingDebug logs debug to the ranging category
func RangingDebug(format string, args ...interface{}) {
	Get(CategoryRanging).Debug(format, args...)
}

// Agent logs to the agent category
func Agent(format string, args ...interface{}) {
	Get(CategoryAgent).Info(format, args...)
}

// AgentDebug logs debug to the agent category
func AgentDebug(format string, args ...interface{}) {
	Get(CategoryAgent).Debug(format, args...)
}

// LLM logs to the llm category
func LLM(format string, args ...interface{}) {
	Get(CategoryLLM).Info(format, args...)
}

// LLMDebug logs debug to the llm category
func LLMDebug(format string, args ...interface{}) {
	Get(CategoryLLM).Debug(format, args...)
}

// Trust logs to the trust category
func Trust(format string, args ...interface{}) {
	Get(CategoryTrust).Info(format, args...)
}

// TrustDebug logs debug to the trust category
func TrustDebug(format string, args ...interface{}) {
	Get(CategoryTrust).Debug(format, args...)
}

// Gate logs to the gate category
func Gate(format string, args ...interface{}) {
	Get(CategoryGate).Info(format, args...)
}

// GateDebug logs debug to the gate category
func GateDebug(format string, args ...interface{}) {
	Get(CategoryGate).Debug(format, args...)
}

// TTS logs to the tts category
func TTS(format string, args ...interface{}) {
	Get(CategoryTTS).Info(format, args...)
}

// TTSDebug logs debug to the tts category
func TTSDebug(format string, args ...interface{}) {
	Get(CategoryTTS).Debug(format, args...)
}

// Motion logs to the motion category
func Motion(format string, args ...interface{}) {
	Get(CategoryMotion).Info(format, args...)
}

// MotionDebug logs debug to the motion category
func MotionDebug(format string, args ...interface{}) {
	Get(CategoryMotion).Debug(format, args...)
}

// Display logs to the display category
func Display(format string, args ...interface{}) {
	Get(CategoryDisplay).Info(format, args...)
}

// DisplayDebug logs debug to the display category
func DisplayDebug(format string, args ...interface{}) {
	Get(CategoryDisplay).Debug(format, args...)
}

// Buzzer logs to the buzzer category
func Buzzer(format string, args ...interface{}) {
	Get(CategoryBuzzer).Info(format, args...)
}

// BuzzerDebug logs debug to the buzzer category
func BuzzerDebug(format string, args ...interface{}) {
	Get(CategoryBuzzer).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// =============================================================================
// WARN/ERROR CONVENIENCE FUNCTIONS - For the heavily-used categories
// =============================================================================

// BootWarn logs warning to the boot category
func BootWarn(format string, args ...interface{}) {
	Get(CategoryBoot).Warn(format, args...)
}

// BootError logs error to the boot category
func BootError(format string, args ...interface{}) {
	Get(CategoryBoot).Error(format, args...)
}

// BusWarn logs warning to the bus category
func BusWarn(format string, args ...interface{}) {
	Get(CategoryBus).Warn(format, args...)
}

// BusError logs error to the bus category
func BusError(format string, args ...interface{}) {
	Get(CategoryBus).Error(format, args...)
}

// WorkersWarn logs warning to the workers category
func WorkersWarn(format string, args ...interface{}) {
	Get(CategoryWorkers).Warn(format, args...)
}

// WorkersError logs error to the workers category
func WorkersError(format string, args ...interface{}) {
	Get(CategoryWorkers).Error(format, args...)
}

// VisionWarn logs warning to the vision category
func VisionWarn(format string, args ...interface{}) {
	Get(CategoryVision).Warn(format, args...)
}

// VisionError logs error to the vision category
func VisionError(format string, args ...interface{}) {
	Get(CategoryVision).Error(format, args...)
}

// AudioWarn logs warning to the audio category
func AudioWarn(format string, args ...interface{}) {
	Get(CategoryAudio).Warn(format, args...)
}

// AudioError logs error to the audio category
func AudioError(format string, args ...interface{}) {
	Get(CategoryAudio).Error(format, args...)
}

// STTWarn logs warning to the stt category
func STTWarn(format string, args ...interface{}) {
	Get(CategorySTT).Warn(format, args...)
}

// STTError logs error to the stt category
func STTError(format string, args ...interface{}) {
	Get(CategorySTT).Error(format, args...)
}

// AgentWarn logs warning to the agent category
func AgentWarn(format string, args ...interface{}) {
	Get(CategoryAgent).Warn(format, args...)
}

// AgentError logs error to the agent category
func AgentError(format string, args ...interface{}) {
	Get(CategoryAgent).Error(format, args...)
}

// LLMWarn logs warning to the llm category
func LLMWarn(format string, args ...interface{}) {
	Get(CategoryLLM).Warn(format, args...)
}

// LLMError logs error to the llm category
func LLMError(format string, args ...interface{}) {
	Get(CategoryLLM).Error(format, args...)
}

// TrustWarn logs warning to the trust category
func TrustWarn(format string, args ...interface{}) {
	Get(CategoryTrust).Warn(format, args...)
}

// TrustError logs error to the trust category
func TrustError(format string, args ...interface{}) {
	Get(CategoryTrust).Error(format, args...)
}

// GateWarn logs warning to the gate category
func GateWarn(format string, args ...interface{}) {
	Get(CategoryGate).Warn(format, args...)
}

// GateError logs error to the gate category
func GateError(format string, args ...interface{}) {
	Get(CategoryGate).Error(format, args...)
}

// MotionWarn logs warning to the motion category
func MotionWarn(format string, args ...interface{}) {
	Get(CategoryMotion).Warn(format, args...)
}

// MotionError logs error to the motion category
func MotionError(format string, args ...interface{}) {
	Get(CategoryMotion).Error(format, args...)
}

// TTSError logs error to the tts category
func TTSError(format string, args ...interface{}) {
	Get(CategoryTTS).Error(format, args...)
}

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}

// StoreError logs error to the store category
func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Error(format, args...)
}

// =============================================================================
// REQUEST ID TRACING - correlation-scoped logging
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID
type RequestLogger struct {
	logger    *Logger
	requestID string
	fields    map[string]interface{}
}

// WithRequestID creates a request-scoped logger. Use the message correlation
// id so one exchange can be traced across workers.
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{
		logger:    Get(category),
		requestID: requestID,
		fields:    make(map[string]interface{}),
	}
}

// WithField adds a field to the request logger
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	r.fields[key] = value
	return r
}

func (r *RequestLogger) formatMsg(format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if len(r.fields) > 0 {
		return fmt.Sprintf("[req:%s] %s | %v", r.requestID, msg, r.fields)
	}
	return fmt.Sprintf("[req:%s] %s", r.requestID, msg)
}

func (r *RequestLogger) Debug(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelDebug {
		return
	}
	r.logger.logger.Printf("[DEBUG] %s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Info(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelInfo {
		return
	}
	r.logger.logger.Printf("[INFO] %s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Warn(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelWarn {
		return
	}
	r.logger.logger.Printf("[WARN] %s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Error(format string, args ...interface{}) {
	if r.logger.logger == nil {
		return
	}
	r.logger.logger.Printf("[ERROR] %s", r.formatMsg(format, args...))
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
