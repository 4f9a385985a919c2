package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const defaultHistorySize = 1000

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	mutex           sync.RWMutex
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    Config
	globalLevelVar  = &slog.LevelVar{}
	isInitialized   bool
	logHistory      *History
	logCallback     LogCallback
)

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`

	// Output replaces stdout, e.g. os.Stderr for commands whose stdout
	// carries data.
	Output io.Writer `toml:"-"`
}

// Initialize installs config, starts a fresh history and rebuilds the
// handlers of loggers handed out earlier.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true
	logHistory = NewHistory(defaultHistorySize)

	globalLevelVar.Set(levelOf(config.Level, slog.LevelInfo))
	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevel(module))
		moduleLoggers[module] = slog.New(createHandler(config.Format, levelVar)).With("module", module)
	}

	slog.SetDefault(slog.New(createHandler(config.Format, globalLevelVar)))
}

// ApplyLevels updates global and per-module levels in place. Loggers
// already handed out follow immediately.
func ApplyLevels(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig.Level = config.Level
	globalConfig.Modules = config.Modules

	globalLevelVar.Set(levelOf(config.Level, slog.LevelInfo))
	for module, levelVar := range moduleLevelVars {
		levelVar.Set(moduleLevel(module))
	}
}

// ModuleLevels returns the effective level of every module logger.
func ModuleLevels() map[string]string {
	mutex.RLock()
	defer mutex.RUnlock()

	levels := make(map[string]string, len(moduleLevelVars))
	for module, levelVar := range moduleLevelVars {
		levels[module] = levelToString(levelVar.Level())
	}
	return levels
}

// GetHistory returns the history of recent entries, nil before Initialize.
func GetHistory() *History {
	mutex.RLock()
	defer mutex.RUnlock()
	return logHistory
}

// SetLogCallback sets the function receiving each new entry; nil removes it.
func SetLogCallback(callback LogCallback) {
	mutex.Lock()
	defer mutex.Unlock()
	logCallback = callback
}

// GetLogger returns the logger of module, creating it on first use. Its
// level follows later Initialize and ApplyLevels calls.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	logger, ok := moduleLoggers[module]
	mutex.RUnlock()
	if ok {
		return logger
	}

	mutex.Lock()
	defer mutex.Unlock()
	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	levelVar := &slog.LevelVar{}
	format := "text"
	if isInitialized {
		levelVar.Set(moduleLevel(module))
		format = globalConfig.Format
	}

	logger = slog.New(createHandler(format, levelVar)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevelVars[module] = levelVar
	return logger
}

// moduleLevel resolves the configured level of module. Must be called
// with mutex held.
func moduleLevel(module string) slog.Level {
	global := levelOf(globalConfig.Level, slog.LevelInfo)
	return levelOf(globalConfig.Modules[module], global)
}

func levelOf(name string, fallback slog.Level) slog.Level {
	if parsed := parseLevel(name); parsed != nil {
		return *parsed
	}
	return fallback
}

// createHandler builds the sink chain: stdout or the configured output,
// the journal when present, and the history. Must be called with mutex held.
func createHandler(format string, level slog.Leveler) slog.Handler {
	var sinks fanout

	out, ok := io.Writer(os.Stdout), isStdoutAvailable()
	if globalConfig.Output != nil {
		out, ok = globalConfig.Output, true
	}
	if ok {
		opts := &slog.HandlerOptions{Level: level}
		if format == "json" {
			sinks = append(sinks, slog.NewJSONHandler(out, opts))
		} else {
			sinks = append(sinks, slog.NewTextHandler(out, opts))
		}
	}

	if IsJournalAvailable() {
		sinks = append(sinks, NewJournalHandler(level))
	}

	sinks = append(sinks, newHistoryHandler(level))
	if len(sinks) == 1 {
		return sinks[0]
	}
	return sinks
}

// isStdoutAvailable reports whether stdout is open to something writable.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

// parseLevel returns nil for names it does not know.
func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
