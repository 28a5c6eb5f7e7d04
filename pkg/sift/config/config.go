package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/sift/pkg/sift/logging"
	"github.com/jamesainslie/sift/pkg/sift/types"
)

// ErrInvalidConfig is returned when a loaded value is out of range.
var ErrInvalidConfig = errors.New("invalid config")

// ScanConfig holds traversal defaults.
type ScanConfig struct {
	Recurse         bool   `mapstructure:"recurse"`
	MaxDepth        int    `mapstructure:"max_depth"`
	IncludeHidden   bool   `mapstructure:"include_hidden"`
	HashSizeLimit   string `mapstructure:"hash_size_limit"`
	StatConcurrency int    `mapstructure:"stat_concurrency"`
}

// IndexConfig selects and locates the index store.
type IndexConfig struct {
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	Staleness string `mapstructure:"staleness"`
}

// StatsConfig tunes the statistics report.
type StatsConfig struct {
	TopN int `mapstructure:"top_n"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Format     string            `mapstructure:"format"`
	Path       string            `mapstructure:"path"`
	Console    bool              `mapstructure:"console"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// DaemonConfig configures siftd.
type DaemonConfig struct {
	AutoStart  bool          `mapstructure:"auto_start"`
	BinaryPath string        `mapstructure:"binary_path"`
	SocketPath string        `mapstructure:"socket_path"`
	PIDPath    string        `mapstructure:"pid_path"`
	Watch      bool          `mapstructure:"watch"`
	Debounce   time.Duration `mapstructure:"debounce"`
}

// Config is the complete sift configuration.
type Config struct {
	DefaultPath string        `mapstructure:"default_path"`
	Exclude     []string      `mapstructure:"exclude"`
	Scan        ScanConfig    `mapstructure:"scan"`
	Index       IndexConfig   `mapstructure:"index"`
	Stats       StatsConfig   `mapstructure:"stats"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Daemon      DaemonConfig  `mapstructure:"daemon"`
}

// New returns a viper instance with sift's defaults, search paths and
// environment binding. Commands bind their flags into it before calling
// Decode.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir, err := ConfigDir(); err == nil {
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("SIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("default_path", DefaultPath)
	v.SetDefault("exclude", DefaultExclusions)

	v.SetDefault("scan.recurse", true)
	v.SetDefault("scan.max_depth", 0)
	v.SetDefault("scan.include_hidden", false)
	v.SetDefault("scan.hash_size_limit", DefaultHashSizeLimit)
	v.SetDefault("scan.stat_concurrency", 0)

	v.SetDefault("index.backend", DefaultBackend)
	v.SetDefault("index.path", "")
	v.SetDefault("index.staleness", DefaultStaleness)

	v.SetDefault("stats.top_n", DefaultTopN)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.console", false)
	v.SetDefault("logging.rotation.max_size", "10MiB")
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.components", map[string]string{
		"watcher": "warn",
	})

	v.SetDefault("daemon.auto_start", false)
	v.SetDefault("daemon.binary_path", "")
	v.SetDefault("daemon.socket_path", "")
	v.SetDefault("daemon.pid_path", "")
	v.SetDefault("daemon.watch", true)
	v.SetDefault("daemon.debounce", DefaultDebounce)

	return v
}

// Load reads the config file if present and decodes the result.
func Load() (*Config, error) {
	return Decode(New())
}

// Decode reads the config file known to v (a missing file is not an error),
// unmarshals every key and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var err error
	if cfg.Index.Path, err = ExpandPath(cfg.Index.Path); err != nil {
		return nil, err
	}
	if cfg.Logging.Path, err = ExpandPath(cfg.Logging.Path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated values and size strings.
func (c *Config) Validate() error {
	if !slices.Contains(Backends, c.Index.Backend) {
		return fmt.Errorf("%w: index.backend %q (want one of %s)",
			ErrInvalidConfig, c.Index.Backend, strings.Join(Backends, ", "))
	}
	switch c.Index.Staleness {
	case "root", "directories", "full":
	default:
		return fmt.Errorf("%w: index.staleness %q", ErrInvalidConfig, c.Index.Staleness)
	}
	if c.Scan.MaxDepth < 0 {
		return fmt.Errorf("%w: scan.max_depth must not be negative", ErrInvalidConfig)
	}
	if c.Stats.TopN <= 0 {
		return fmt.Errorf("%w: stats.top_n must be positive", ErrInvalidConfig)
	}
	if _, err := types.ParseSize(c.Scan.HashSizeLimit); err != nil {
		return fmt.Errorf("%w: scan.hash_size_limit: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ScanOptions converts the scan section into traversal options.
func (c *Config) ScanOptions() (types.ScanOptions, error) {
	limit, err := types.ParseSize(c.Scan.HashSizeLimit)
	if err != nil {
		return types.ScanOptions{}, fmt.Errorf("scan.hash_size_limit: %w", err)
	}
	opts := types.ScanOptions{
		Recurse:       c.Scan.Recurse,
		MaxDepth:      c.Scan.MaxDepth,
		IncludeHidden: c.Scan.IncludeHidden,
		HashSizeLimit: limit,
		Exclude:       slices.Clone(c.Exclude),
	}
	opts.Normalize()
	return opts, nil
}

// LoggingConfig converts the logging section for logging.Init.
func (c *Config) LoggingConfig() logging.Config {
	rot := logging.DefaultRotationConfig()
	if n, err := types.ParseSize(c.Logging.Rotation.MaxSize); err == nil && n > 0 {
		rot.MaxSize = n
	}
	if c.Logging.Rotation.MaxBackups > 0 {
		rot.MaxBackups = c.Logging.Rotation.MaxBackups
	}
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Path:       c.Logging.Path,
		Console:    c.Logging.Console,
		Rotation:   rot,
		Components: c.Logging.Components,
	}
}

// IndexPath returns the store location for the configured backend.
func (c *Config) IndexPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	if c.Index.Backend == "sqlite" {
		return filepath.Join(DataDir(), "index.sqlite")
	}
	return filepath.Join(DataDir(), "index")
}

// SocketPath returns the daemon socket, defaulting under DataDir.
func (c *Config) SocketPath() string {
	if c.Daemon.SocketPath != "" {
		return c.Daemon.SocketPath
	}
	return DefaultSocketPath()
}

// PIDPath returns the daemon pid file, defaulting under DataDir.
func (c *Config) PIDPath() string {
	if c.Daemon.PIDPath != "" {
		return c.Daemon.PIDPath
	}
	return DefaultPIDPath()
}

// ConfigDir returns $XDG_CONFIG_HOME/sift, falling back to ~/.config/sift.
// The environment is consulted on every call so tests can redirect it.
func ConfigDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "sift"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", "sift"), nil
}

// ConfigFile returns the path of the config file.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DataDir returns $XDG_DATA_HOME/sift for the index, socket and pid files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "sift")
}

// DefaultSocketPath returns the default daemon socket path.
func DefaultSocketPath() string {
	return filepath.Join(DataDir(), "siftd.sock")
}

// DefaultPIDPath returns the default daemon pid file path.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "siftd.pid")
}

// DaemonBinary is the name of the daemon executable.
const DaemonBinary = "siftd"

// DefaultBinaryPath returns siftd from the Go install locations, checking
// GOBIN, GOPATH/bin and ~/go/bin in order. Empty when none has it.
func DefaultBinaryPath() string {
	var dirs []string
	if gobin := os.Getenv("GOBIN"); gobin != "" {
		dirs = append(dirs, gobin)
	}
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		for _, p := range filepath.SplitList(gopath) {
			dirs = append(dirs, filepath.Join(p, "bin"))
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "go", "bin"))
	}

	for _, dir := range dirs {
		candidate := filepath.Join(dir, DaemonBinary)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// EnsureDataDir creates DataDir.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

const defaultTemplate = `# sift configuration

# Root analyzed when no path is given
default_path: %s

# Doublestar patterns, relative to the scanned root, skipped while scanning
exclude:
%s
scan:
  recurse: true
  # 0 means unlimited
  max_depth: 0
  include_hidden: false
  # Files larger than this are indexed without a content hash
  hash_size_limit: %s
  # Concurrent stat/hash calls per directory, 0 derives it from the fd limit
  stat_concurrency: 0

index:
  # badger or sqlite
  backend: %s
  # Empty means $XDG_DATA_HOME/sift/index
  path: ""
  # root, directories or full
  staleness: %s

stats:
  top_n: %d

logging:
  # debug, info, warn, error
  level: info
  # text, json or logfmt
  format: text
  # Empty means $XDG_STATE_HOME/sift/sift.log
  path: ""
  console: false
  rotation:
    max_size: 10MiB
    max_backups: 3
  components:
    watcher: warn

daemon:
  auto_start: false
  socket_path: ""
  pid_path: ""
  # Rebuild watched roots after changes settle
  watch: true
  debounce: %s
`

// WriteDefault writes a commented default config file unless one exists.
// It returns the path of the file and whether it was created.
func WriteDefault() (string, bool, error) {
	path, err := ConfigFile()
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("failed to check config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}

	var excl strings.Builder
	for _, p := range DefaultExclusions {
		fmt.Fprintf(&excl, "  - %q\n", p)
	}
	content := fmt.Sprintf(defaultTemplate, DefaultPath, excl.String(), DefaultHashSizeLimit,
		DefaultBackend, DefaultStaleness, DefaultTopN, DefaultDebounce)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write default config: %w", err)
	}
	return path, true, nil
}
