// Package logging is the process-wide leveled logger used across qbridge.
//
// Call sites import it as logs and write printf-style lines in the
// "pkg.Type.method key=value" shape. Output goes through zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	TraceLevel = zerolog.TraceLevel
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	Disabled   = zerolog.Disabled
)

// Config controls the shared logger.
type Config struct {
	Level     Level
	Timestamp bool
	NoColor   bool
	// Bypass writes plain formatted lines with no level or console decoration.
	Bypass bool
	Out    io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:     InfoLevel,
		Timestamp: true,
		Out:       os.Stderr,
	}
}

// Profile picks logger defaults for a kind of process.
type Profile int

const (
	// ProfileDaemon is the long-running bridge: info level with timestamps.
	ProfileDaemon Profile = iota
	// ProfileCLI is qnetctl: warnings only, since reports go to stdout.
	ProfileCLI
	ProfileTest
)

// Environment overrides, applied on top of any profile.
const (
	EnvLevel     = "QBRIDGE_LOG_LEVEL"
	EnvTimestamp = "QBRIDGE_LOG_TIMESTAMP"
	EnvNoColor   = "QBRIDGE_LOG_NOCOLOR"
	EnvBypass    = "QBRIDGE_LOG_BYPASS"
)

var levelNames = map[string]Level{
	"trace":    TraceLevel,
	"debug":    DebugLevel,
	"info":     InfoLevel,
	"warn":     WarnLevel,
	"warning":  WarnLevel,
	"error":    ErrorLevel,
	"off":      Disabled,
	"none":     Disabled,
	"disabled": Disabled,
}

// ParseLevel maps a level name. ok is false for empty or unknown input.
func ParseLevel(raw string) (Level, bool) {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(raw))]
	return lvl, ok
}

// ForProfile returns the defaults for p with QBRIDGE_LOG_* overrides applied.
func ForProfile(p Profile) Config {
	cfg := DefaultConfig()
	switch p {
	case ProfileCLI:
		cfg.Level = WarnLevel
		cfg.Timestamp = false
	case ProfileTest:
		cfg.Level = DebugLevel
		cfg.Timestamp = false
	}
	if lvl, ok := ParseLevel(os.Getenv(EnvLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := envBool(EnvTimestamp); ok {
		cfg.Timestamp = v
	}
	if v, ok := envBool(EnvNoColor); ok {
		cfg.NoColor = v
	}
	if v, ok := envBool(EnvBypass); ok {
		cfg.Bypass = v
	}
	return cfg
}

func envBool(name string) (bool, bool) {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name)))
	return v, err == nil
}

var configureOnce sync.Once

// Configure applies ForProfile(p) the first time it is called in a process.
func Configure(p Profile) {
	configureOnce.Do(func() { Apply(ForProfile(p)) })
}

var (
	mu      sync.RWMutex
	current = build(DefaultConfig())
	bypass  io.Writer
)

// Apply replaces the shared logger unconditionally.
func Apply(cfg Config) {
	l := build(cfg)
	mu.Lock()
	defer mu.Unlock()
	current = l
	bypass = nil
	if cfg.Bypass {
		bypass = outOrStderr(cfg.Out)
	}
}

// Logger returns the shared zerolog logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func build(cfg Config) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:        outOrStderr(cfg.Out),
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
	}
	if !cfg.Timestamp {
		out.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

func outOrStderr(w io.Writer) io.Writer {
	if w == nil {
		return os.Stderr
	}
	return w
}

func emit(level Level, format string, args ...any) {
	mu.RLock()
	l := current
	raw := bypass
	mu.RUnlock()
	if raw != nil {
		if l.GetLevel() <= level {
			fmt.Fprintf(raw, format+"\n", args...)
		}
		return
	}
	l.WithLevel(level).Msgf(format, args...)
}

func Debug(msg string)                  { emit(DebugLevel, "%s", msg) }
func Debugf(format string, args ...any) { emit(DebugLevel, format, args...) }
func Info(msg string)                   { emit(InfoLevel, "%s", msg) }
func Infof(format string, args ...any)  { emit(InfoLevel, format, args...) }
func Warnf(format string, args ...any)  { emit(WarnLevel, format, args...) }
func Errf(format string, args ...any)   { emit(ErrorLevel, format, args...) }
func Log(msg string)                    { Logf("%s", msg) }

// Logf writes an unleveled line; it is never filtered by level except Disabled.
func Logf(format string, args ...any) {
	mu.RLock()
	l := current
	raw := bypass
	mu.RUnlock()
	if l.GetLevel() == Disabled {
		return
	}
	if raw != nil {
		fmt.Fprintf(raw, format+"\n", args...)
		return
	}
	l.Log().Msgf(format, args...)
}
