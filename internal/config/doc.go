// Package config loads the plugreg configuration.
//
// Settings come from three layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← PLUGREG_*
//	├─────────────────────────────┤
//	│  2. Config File             │  ← ~/.config/plugreg/config.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Command line flags are applied by the caller after Load.
//
// # Example
//
//	[plugins]
//	paths = ["~/.config/plugreg/plugins", ".plugreg/plugins"]
//	loader = "lua"
//
//	[lua]
//	timeout = "2s"
//	grants = ["filesystem.read"]
//
//	[watch]
//	enabled = true
//	debounce = "250ms"
//
//	[logging]
//	level = "debug"
//	format = "json"
package config
