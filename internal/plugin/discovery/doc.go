// Package discovery finds plugins on disk and installs them into a registry.
//
// A plugin is a directory holding a manifest (plugin.json, plugin.yaml,
// plugin.yml or plugin.toml), a directory holding only init.lua, or a single
// .lua file in a search path. Plugins without a manifest are registered
// under DefaultType with their file or directory name as id.
package discovery
