package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// pluginTree creates two grouped formatters, a private codec and a broken
// plugin.
func pluginTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "gofmt", "plugin.yaml"), `type: formatter
id: gofmt
aliases: [go]
name: Go Formatter
description: Formats Go source
group: go-tools
classes:
  format.Formatter: gofmt.Formatter
`)
	writeFile(t, filepath.Join(root, "gofmt", "init.lua"), `
gofmt = gofmt or {}
gofmt.Formatter = {}
gofmt.Formatter.__index = gofmt.Formatter
function gofmt.Formatter:new()
	return setmetatable({style = "tabs"}, self)
end
function gofmt.Formatter:format(src)
	return "formatted:" .. src
end
`)

	writeFile(t, filepath.Join(root, "goimports", "plugin.json"), `{
		"type": "formatter",
		"id": "goimports",
		"group": "go-tools",
		"classes": {"format.Formatter": "gofmt.Formatter"}
	}`)

	writeFile(t, filepath.Join(root, "codec", "plugin.toml"), `type = "codec"
id = "gzip"
`)

	writeFile(t, filepath.Join(root, "broken", "plugin.json"), `{"id": "broken"}`)
	return root
}

func execute(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	base := []string{"--config", filepath.Join(t.TempDir(), "none.toml")}
	code := Execute(context.Background(), BuildInfo{Version: "1.0.0", Commit: "abc", Date: "today"},
		append(base, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestListJSON(t *testing.T) {
	root := pluginTree(t)

	out, stderr, code := execute(t, "--path", root, "-o", "json", "list")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stderr, "plugin broken")

	var records []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 3)

	byID := make(map[string]map[string]string)
	for _, r := range records {
		byID[r["ID"]] = r
	}
	gofmt := byID["gofmt"]
	require.NotNil(t, gofmt)
	assert.Equal(t, "Formatter", gofmt["Type"])
	assert.Equal(t, "Go Formatter", gofmt["Name"])
	assert.Equal(t, "go-tools", gofmt["Group"])
	assert.Equal(t, "gofmt.Formatter", gofmt["ClassName"])
	assert.Equal(t, filepath.Join(root, "gofmt", "init.lua"), gofmt["Libraries"])
	assert.Contains(t, byID, "gzip")
}

func TestListTable(t *testing.T) {
	root := pluginTree(t)

	out, stderr, code := execute(t, "--path", root, "list", "codec")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "gzip")
	assert.NotContains(t, out, "gofmt")

	out, _, code = execute(t, "--path", t.TempDir(), "list")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "No plugins registered.")
}

func TestTypesYAML(t *testing.T) {
	root := pluginTree(t)

	out, stderr, code := execute(t, "--path", root, "-o", "yaml", "types")
	require.Equal(t, 0, code, stderr)

	var types []typeSummary
	require.NoError(t, yaml.Unmarshal([]byte(out), &types))
	assert.Equal(t, []typeSummary{
		{Type: "codec", Name: "Codec", Plugins: 1},
		{Type: "formatter", Name: "Formatter", Plugins: 2},
	}, types)
}

func TestResolve(t *testing.T) {
	root := pluginTree(t)

	out, stderr, code := execute(t, "--path", root, "-o", "json", "resolve", "formatter", "go", "format.Formatter")
	require.Equal(t, 0, code, stderr)

	var res resolution
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "gofmt.Formatter", res.Class)
	assert.NotEmpty(t, res.Context)
	assert.Equal(t, map[string]any{"style": "tabs"}, res.Value)

	out, stderr, code = execute(t, "--path", root, "-o", "json",
		"resolve", "formatter", "goimports", "format.Formatter", "--call", "format", "x:=1")
	require.Equal(t, 0, code, stderr)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, []any{"formatted:x:=1"}, res.Result)
}

func TestResolveErrors(t *testing.T) {
	root := pluginTree(t)

	_, stderr, code := execute(t, "--path", root, "resolve", "formatter", "rustfmt", "format.Formatter")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "plugin not found")

	_, stderr, code = execute(t, "--path", root, "resolve", "codec", "gzip", "codec.Decoder")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "codec.Decoder")
}

func TestDomains(t *testing.T) {
	root := pluginTree(t)

	out, stderr, code := execute(t, "--path", root, "-o", "json", "domains", "--warm")
	require.Equal(t, 0, code, stderr)

	var domains []domainSummary
	require.NoError(t, json.Unmarshal([]byte(out), &domains))

	byKey := make(map[string]domainSummary)
	for _, d := range domains {
		byKey[d.Domain] = d
	}
	shared, ok := byKey["formatter/go-tools"]
	require.True(t, ok, "domains: %v", domains)
	assert.True(t, shared.Shared)
	assert.ElementsMatch(t, []string{"gofmt", "goimports"}, shared.Members)
	assert.NotEmpty(t, shared.Context)

	private, ok := byKey["codec/-"]
	require.True(t, ok)
	assert.False(t, private.Shared)
	assert.Equal(t, []string{"gzip"}, private.Members)
}

func TestInspect(t *testing.T) {
	root := pluginTree(t)

	out, stderr, code := execute(t, "--path", root, "-o", "json", "inspect", filepath.Join(root, "gofmt"))
	require.Equal(t, 0, code, stderr)
	var ins inspection
	require.NoError(t, json.Unmarshal([]byte(out), &ins))
	assert.Equal(t, "formatter", ins.Type)
	assert.Equal(t, []string{"gofmt"}, ins.IDs)
	assert.Empty(t, ins.Error)

	out, stderr, code = execute(t, "--path", root, "-o", "json", "inspect", filepath.Join(root, "broken"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid plugin broken")
	require.NoError(t, json.Unmarshal([]byte(out), &ins))
	assert.Contains(t, ins.Error, "type is required")
}

func TestGlobalFlagValidation(t *testing.T) {
	_, stderr, code := execute(t, "-o", "xml", "version")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "invalid output format")

	_, stderr, code = execute(t, "--loader", "jvm", "version")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "plugins.loader")
}

func TestConfigCommand(t *testing.T) {
	out, stderr, code := execute(t, "--loader", "native", "config")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "[plugins]")
	assert.Contains(t, out, "native")
	assert.Contains(t, out, "5s")
}

func TestVersion(t *testing.T) {
	out, _, code := execute(t, "version")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "plugreg 1.0.0")
	assert.Contains(t, out, "Commit: abc")

	out, _, code = execute(t, "-o", "json", "version")
	require.Equal(t, 0, code)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "1.0.0", v["version"])
}
