package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Loader kinds.
const (
	LoaderLua    = "lua"
	LoaderNative = "native"
	LoaderNone   = "none"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config is the plugreg configuration.
type Config struct {
	Plugins PluginsConfig `toml:"plugins" yaml:"plugins" json:"plugins"`
	Lua     LuaConfig     `toml:"lua" yaml:"lua" json:"lua"`
	Watch   WatchConfig   `toml:"watch" yaml:"watch" json:"watch"`
	Logging LoggingConfig `toml:"logging" yaml:"logging" json:"logging"`
}

// PluginsConfig controls plugin discovery.
type PluginsConfig struct {
	// Paths are the search paths in precedence order.
	Paths []string `toml:"paths" yaml:"paths" json:"paths"`
	// Parallel bounds concurrent manifest parsing; 0 uses GOMAXPROCS.
	Parallel int `toml:"parallel" yaml:"parallel" json:"parallel"`
	// Loader selects the class loading mechanism: lua, native or none.
	Loader string `toml:"loader" yaml:"loader" json:"loader"`
	// DefaultType is the type of plugins without a manifest.
	DefaultType string `toml:"default_type" yaml:"default_type" json:"default_type"`
}

// LuaConfig controls Lua contexts.
type LuaConfig struct {
	// Timeout bounds each Lua call.
	Timeout Duration `toml:"timeout" yaml:"timeout" json:"timeout"`
	// Grants are the sandbox grants given to every context.
	Grants []string `toml:"grants" yaml:"grants" json:"grants"`
}

// WatchConfig controls hot reload.
type WatchConfig struct {
	Enabled  bool     `toml:"enabled" yaml:"enabled" json:"enabled"`
	Debounce Duration `toml:"debounce" yaml:"debounce" json:"debounce"`
}

// LoggingConfig controls logging.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level" json:"level"`
	Format string `toml:"format" yaml:"format" json:"format"`
}

// Duration is a time.Duration read from strings such as "5s".
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Plugins: PluginsConfig{
			Loader:      LoaderLua,
			DefaultType: "script",
		},
		Lua: LuaConfig{
			Timeout: Duration(5 * time.Second),
		},
		Watch: WatchConfig{
			Debounce: Duration(200 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: FormatText,
		},
	}
}

// DefaultPath returns the user configuration file path.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "plugreg", "config.toml")
	}
	return ""
}

// Load reads the TOML file at path over the defaults, then applies PLUGREG_*
// environment variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	return c.parse(path, data)
}

func (c *Config) parse(source string, data []byte) error {
	if err := toml.Unmarshal(data, c); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return perr
	}
	return nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Plugins.Parallel < 0 {
		errs = append(errs, &ValidationError{Setting: "plugins.parallel", Message: "must not be negative", Value: c.Plugins.Parallel})
	}
	if !slices.Contains([]string{LoaderLua, LoaderNative, LoaderNone}, c.Plugins.Loader) {
		errs = append(errs, &ValidationError{Setting: "plugins.loader", Message: "must be lua, native or none", Value: c.Plugins.Loader})
	}
	if c.Plugins.DefaultType == "" {
		errs = append(errs, &ValidationError{Setting: "plugins.default_type", Message: "must not be empty", Value: c.Plugins.DefaultType})
	}
	if c.Lua.Timeout <= 0 {
		errs = append(errs, &ValidationError{Setting: "lua.timeout", Message: "must be positive", Value: c.Lua.Timeout.Std()})
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, &ValidationError{Setting: "watch.debounce", Message: "must not be negative", Value: c.Watch.Debounce.Std()})
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, &ValidationError{Setting: "logging.level", Message: "must be debug, info, warn or error", Value: c.Logging.Level})
	}
	if c.Logging.Format != FormatText && c.Logging.Format != FormatJSON {
		errs = append(errs, &ValidationError{Setting: "logging.format", Message: "must be text or json", Value: c.Logging.Format})
	}
	return errors.Join(errs...)
}

// PluginPaths returns the search paths with "~" and environment variables
// expanded.
func (c *Config) PluginPaths() []string {
	paths := make([]string, 0, len(c.Plugins.Paths))
	for _, p := range c.Plugins.Paths {
		p = os.ExpandEnv(p)
		if p == "~" || strings.HasPrefix(p, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				p = filepath.Join(home, strings.TrimPrefix(p, "~"))
			}
		}
		paths = append(paths, p)
	}
	return paths
}
