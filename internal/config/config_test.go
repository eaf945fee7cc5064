package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Plugins.Loader != LoaderLua {
		t.Errorf("Loader = %q, want %q", cfg.Plugins.Loader, LoaderLua)
	}
	if cfg.Lua.Timeout.Std() != 5*time.Second {
		t.Errorf("Lua.Timeout = %v, want 5s", cfg.Lua.Timeout.Std())
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[plugins]
paths = ["/a", "/b"]
parallel = 4
loader = "native"

[lua]
timeout = "750ms"
grants = ["filesystem.read"]

[watch]
enabled = true
debounce = "1s"

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if !slices.Equal(cfg.Plugins.Paths, []string{"/a", "/b"}) {
		t.Errorf("Paths = %v", cfg.Plugins.Paths)
	}
	if cfg.Plugins.Parallel != 4 {
		t.Errorf("Parallel = %d, want 4", cfg.Plugins.Parallel)
	}
	if cfg.Plugins.Loader != LoaderNative {
		t.Errorf("Loader = %q", cfg.Plugins.Loader)
	}
	if cfg.Plugins.DefaultType != "script" {
		t.Errorf("DefaultType = %q, want default kept", cfg.Plugins.DefaultType)
	}
	if cfg.Lua.Timeout.Std() != 750*time.Millisecond {
		t.Errorf("Timeout = %v", cfg.Lua.Timeout.Std())
	}
	if !slices.Equal(cfg.Lua.Grants, []string{"filesystem.read"}) {
		t.Errorf("Grants = %v", cfg.Lua.Grants)
	}
	if !cfg.Watch.Enabled || cfg.Watch.Debounce.Std() != time.Second {
		t.Errorf("Watch = %+v", cfg.Watch)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != FormatJSON {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.Plugins.Loader != LoaderLua {
		t.Errorf("Loader = %q, want default", cfg.Plugins.Loader)
	}
}

func TestLoadParseError(t *testing.T) {
	path := writeConfig(t, "[plugins]\nparallel = \n")

	_, err := Load(path)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Load error = %v, want *ParseError", err)
	}
	if perr.Path != path {
		t.Errorf("Path = %q, want %q", perr.Path, path)
	}
	if perr.Line == 0 {
		t.Error("Line should be set from the decode error")
	}
}

func TestLoadValidation(t *testing.T) {
	path := writeConfig(t, `
[plugins]
loader = "jvm"

[logging]
format = "xml"
`)

	_, err := Load(path)
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("Load error = %v, want ErrValidationFailed", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Setting != "plugins.loader" {
		t.Errorf("first validation error = %v, want plugins.loader", verr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		setting string
	}{
		{"negative parallel", func(c *Config) { c.Plugins.Parallel = -1 }, "plugins.parallel"},
		{"empty default type", func(c *Config) { c.Plugins.DefaultType = "" }, "plugins.default_type"},
		{"zero timeout", func(c *Config) { c.Lua.Timeout = 0 }, "lua.timeout"},
		{"negative debounce", func(c *Config) { c.Watch.Debounce = Duration(-time.Second) }, "watch.debounce"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			var verr *ValidationError
			if err := cfg.Validate(); !errors.As(err, &verr) {
				t.Fatalf("Validate error = %v, want *ValidationError", err)
			}
			if verr.Setting != tt.setting {
				t.Errorf("Setting = %q, want %q", verr.Setting, tt.setting)
			}
		})
	}
}

func TestPluginPaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("PLUGREG_TEST_ROOT", "/opt/plugins")

	cfg := Default()
	cfg.Plugins.Paths = []string{"~/plugins", "$PLUGREG_TEST_ROOT/extra", "relative"}

	want := []string{filepath.Join(home, "plugins"), "/opt/plugins/extra", "relative"}
	if got := cfg.PluginPaths(); !slices.Equal(got, want) {
		t.Errorf("PluginPaths() = %v, want %v", got, want)
	}
}
