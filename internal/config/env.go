package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the prefix of every plugreg environment variable.
const EnvPrefix = "PLUGREG_"

// envBinding applies one environment variable to a Config.
type envBinding struct {
	setting string
	apply   func(c *Config, value string) error
}

// envBindings maps environment variables to settings.
var envBindings = map[string]envBinding{
	"PLUGREG_PATHS": {"plugins.paths", func(c *Config, v string) error {
		c.Plugins.Paths = filepath.SplitList(v)
		return nil
	}},
	"PLUGREG_PARALLEL": {"plugins.parallel", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		c.Plugins.Parallel = n
		return err
	}},
	"PLUGREG_LOADER": {"plugins.loader", func(c *Config, v string) error {
		c.Plugins.Loader = strings.ToLower(v)
		return nil
	}},
	"PLUGREG_DEFAULT_TYPE": {"plugins.default_type", func(c *Config, v string) error {
		c.Plugins.DefaultType = v
		return nil
	}},
	"PLUGREG_LUA_TIMEOUT": {"lua.timeout", func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		c.Lua.Timeout = Duration(d)
		return err
	}},
	"PLUGREG_LUA_GRANTS": {"lua.grants", func(c *Config, v string) error {
		c.Lua.Grants = splitList(v)
		return nil
	}},
	"PLUGREG_WATCH": {"watch.enabled", func(c *Config, v string) error {
		b, err := parseBool(v)
		c.Watch.Enabled = b
		return err
	}},
	"PLUGREG_WATCH_DEBOUNCE": {"watch.debounce", func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		c.Watch.Debounce = Duration(d)
		return err
	}},
	"PLUGREG_LOG_LEVEL": {"logging.level", func(c *Config, v string) error {
		c.Logging.Level = strings.ToLower(v)
		return nil
	}},
	"PLUGREG_LOG_FORMAT": {"logging.format", func(c *Config, v string) error {
		c.Logging.Format = strings.ToLower(v)
		return nil
	}},
}

// ApplyEnv applies PLUGREG_* variables found by lookup. Unset variables are
// left alone; empty values are applied as given.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for name, b := range envBindings {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := b.apply(c, strings.TrimSpace(v)); err != nil {
			return &ParseError{Path: "$" + name, Message: fmt.Sprintf("%s: %v", b.setting, err), Err: err}
		}
	}
	return nil
}

// UnknownEnv returns the PLUGREG_* variables in environ that name no
// setting.
func UnknownEnv(environ []string) []string {
	var unknown []string
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		if _, known := envBindings[name]; !known {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// parseBool accepts the same spellings as the rest of the configuration.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
