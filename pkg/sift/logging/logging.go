// Package logging configures the component loggers shared by the sift CLI
// and the siftd daemon.
//
// Loggers are obtained per component and are silent until Init is called:
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	logging.Get("scanner").Info("walk started", "root", root)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// ErrInvalidLevel is returned for an unknown level name.
var ErrInvalidLevel = errors.New("invalid log level")

// ErrInvalidFormat is returned for an unknown format name.
var ErrInvalidFormat = errors.New("invalid log format")

// ParseLevel maps a level name to a charmbracelet/log level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

func parseFormat(s string) (log.Formatter, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return log.TextFormatter, fmt.Errorf("%w: %s", ErrInvalidFormat, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default level (debug, info, warn, error).
	Level string

	// Format is text, json or logfmt.
	Format string

	// Path is the log file. Empty uses DefaultLogPath.
	Path string

	// Rotation bounds the size of the log file.
	Rotation RotationConfig

	// Components overrides the level per component name.
	Components map[string]string

	// Console mirrors log lines to stderr.
	Console bool
}

// DefaultLogPath returns $XDG_STATE_HOME/sift/sift.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "sift", "sift.log")
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Format:   "text",
		Path:     DefaultLogPath(),
		Rotation: DefaultRotationConfig(),
	}
}

type state struct {
	mu         sync.Mutex
	out        io.Writer
	writer     *RotatingWriter
	level      log.Level
	formatter  log.Formatter
	components map[string]log.Level
	loggers    map[string]*log.Logger
}

var global = &state{
	out:        io.Discard,
	level:      log.InfoLevel,
	components: map[string]log.Level{},
	loggers:    map[string]*log.Logger{},
}

// Init opens the log file and reconfigures every logger handed out so far.
// Calling Init again replaces the previous configuration.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	formatter, err := parseFormat(cfg.Format)
	if err != nil {
		return err
	}
	components := make(map[string]log.Level, len(cfg.Components))
	for name, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", name, err)
		}
		components[name] = parsed
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	writer, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	global.mu.Lock()
	defer global.mu.Unlock()

	if global.writer != nil {
		_ = global.writer.Close()
	}
	global.writer = writer
	global.out = writer
	if cfg.Console {
		global.out = io.MultiWriter(writer, os.Stderr)
	}
	global.level = level
	global.formatter = formatter
	global.components = components

	for name, l := range global.loggers {
		global.apply(name, l)
	}
	return nil
}

// Get returns the logger for a component, creating it on first use.
func Get(component string) *log.Logger {
	global.mu.Lock()
	defer global.mu.Unlock()

	if l, ok := global.loggers[component]; ok {
		return l
	}
	l := log.NewWithOptions(io.Discard, log.Options{
		Prefix:          component,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	global.apply(component, l)
	global.loggers[component] = l
	return l
}

// apply must be called with s.mu held.
func (s *state) apply(component string, l *log.Logger) {
	lvl := s.level
	if override, ok := s.components[component]; ok {
		lvl = override
	}
	l.SetOutput(s.out)
	l.SetLevel(lvl)
	l.SetFormatter(s.formatter)
}

// Close flushes the log file and silences all loggers.
func Close() error {
	global.mu.Lock()
	defer global.mu.Unlock()

	global.out = io.Discard
	for name, l := range global.loggers {
		global.apply(name, l)
	}
	if global.writer == nil {
		return nil
	}
	err := global.writer.Close()
	global.writer = nil
	if err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}
