package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/dshills/plugreg/internal/plugin"
)

// Manifest describes a plugin on disk.
type Manifest struct {
	Type        string            `yaml:"type" toml:"type"`
	ID          string            `yaml:"id" toml:"id"`
	IDs         []string          `yaml:"ids" toml:"ids"`
	Aliases     []string          `yaml:"aliases" toml:"aliases"`
	Patterns    []string          `yaml:"patterns" toml:"patterns"`
	Name        string            `yaml:"name" toml:"name"`
	Version     string            `yaml:"version" toml:"version"`
	Description string            `yaml:"description" toml:"description"`
	Category    string            `yaml:"category" toml:"category"`
	Group       string            `yaml:"group" toml:"group"`
	Classes     map[string]string `yaml:"classes" toml:"classes"`
	Libraries   []string          `yaml:"libraries" toml:"libraries"`

	// dir is the plugin directory.
	dir string
}

// Manifest file names in lookup order.
var manifestNames = []string{"plugin.json", "plugin.yaml", "plugin.yml", "plugin.toml"}

// Validation errors.
var (
	ErrMissingType     = errors.New("manifest: type is required")
	ErrMissingID       = errors.New("manifest: id or ids is required")
	ErrInvalidID       = errors.New("manifest: invalid id")
	ErrInvalidVersion  = errors.New("manifest: version must be valid semver")
	ErrInvalidLibrary  = errors.New("manifest: library must stay inside the plugin directory")
	ErrUnsupportedFile = errors.New("manifest: unsupported file format")
	ErrNoManifest      = errors.New("no manifest or entry point")
)

// idPattern validates plugin ids and types.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest reads and validates a manifest file. The format follows the
// file extension.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m *Manifest
	switch ext := filepath.Ext(path); ext {
	case ".json":
		m, err = parseJSON(data)
	case ".yaml", ".yml":
		m = &Manifest{}
		err = yaml.Unmarshal(data, m)
	case ".toml":
		m = &Manifest{}
		err = toml.Unmarshal(data, m)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filepath.Base(path), err)
	}

	m.dir = filepath.Dir(path)
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadManifestFromDir loads the first manifest found in dir.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadManifest(path)
		}
	}
	return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
}

func parseJSON(data []byte) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, errors.New("manifest must be a JSON object")
	}

	strs := func(key string) []string {
		var out []string
		for _, v := range doc.Get(key).Array() {
			out = append(out, v.String())
		}
		return out
	}

	m := &Manifest{
		Type:        doc.Get("type").String(),
		ID:          doc.Get("id").String(),
		IDs:         strs("ids"),
		Aliases:     strs("aliases"),
		Patterns:    strs("patterns"),
		Name:        doc.Get("name").String(),
		Version:     doc.Get("version").String(),
		Description: doc.Get("description").String(),
		Category:    doc.Get("category").String(),
		Group:       doc.Get("group").String(),
		Libraries:   strs("libraries"),
	}
	if classes := doc.Get("classes"); classes.IsObject() {
		m.Classes = make(map[string]string)
		classes.ForEach(func(k, v gjson.Result) bool {
			m.Classes[k.String()] = v.String()
			return true
		})
	}
	return m, nil
}

// NewManifestMinimal creates the manifest of a single-file Lua plugin.
func NewManifestMinimal(typ, id, luaPath string) *Manifest {
	return &Manifest{
		Type:      typ,
		ID:        id,
		IDs:       []string{id},
		Name:      id,
		Version:   "0.0.0",
		Libraries: []string{filepath.Base(luaPath)},
		dir:       filepath.Dir(luaPath),
	}
}

// applyDefaults fills optional fields.
func (m *Manifest) applyDefaults() {
	if m.ID != "" && !slices.Contains(m.IDs, m.ID) {
		m.IDs = append([]string{m.ID}, m.IDs...)
	}
	if m.ID == "" && len(m.IDs) > 0 {
		m.ID = m.IDs[0]
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	if len(m.Libraries) == 0 {
		if _, err := os.Stat(filepath.Join(m.dir, "init.lua")); err == nil {
			m.Libraries = []string{"init.lua"}
		}
	}
}

// Validate checks that the manifest is valid.
func (m *Manifest) Validate() error {
	if m.Type == "" {
		return ErrMissingType
	}
	if !idPattern.MatchString(m.Type) {
		return fmt.Errorf("%w: type %q", ErrInvalidID, m.Type)
	}
	if len(m.IDs) == 0 {
		return ErrMissingID
	}
	for _, id := range append(slices.Clone(m.IDs), m.Aliases...) {
		if !idPattern.MatchString(id) {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}
	for _, lib := range m.Libraries {
		if isFileLibrary(lib) && (filepath.IsAbs(lib) || strings.HasPrefix(filepath.Clean(lib), "..")) {
			return fmt.Errorf("%w: %s", ErrInvalidLibrary, lib)
		}
	}
	return nil
}

// Dir returns the plugin directory.
func (m *Manifest) Dir() string {
	return m.dir
}

// LibraryPaths returns the libraries with file libraries resolved against
// the plugin directory. Other entries, such as native bundle names, are
// returned unchanged.
func (m *Manifest) LibraryPaths() []string {
	paths := make([]string, 0, len(m.Libraries))
	for _, lib := range m.Libraries {
		if isFileLibrary(lib) {
			lib = filepath.Join(m.dir, lib)
		}
		paths = append(paths, lib)
	}
	return paths
}

// isFileLibrary reports whether lib names a Lua source file.
func isFileLibrary(lib string) bool {
	return filepath.Ext(lib) == ".lua"
}

// Descriptor builds the registry descriptor. Patterns produce a
// PatternDescriptor.
func (m *Manifest) Descriptor() (plugin.Descriptor, error) {
	classes := make(map[plugin.Capability]string, len(m.Classes))
	for capability, className := range m.Classes {
		classes[plugin.Capability(capability)] = className
	}

	base := plugin.NewDescriptor(plugin.Type(m.Type), m.IDs,
		plugin.WithName(m.Name),
		plugin.WithAliases(m.Aliases...),
		plugin.WithDescription(m.Description),
		plugin.WithCategory(m.Category),
		plugin.WithGroup(m.Group),
		plugin.WithClasses(classes),
		plugin.WithLibraries(m.LibraryPaths()...),
	)
	if len(m.Patterns) == 0 {
		return base, nil
	}
	return plugin.NewPatternDescriptor(base, m.Patterns...)
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return fmt.Sprintf("%s/%s v%s", m.Type, name, m.Version)
}
