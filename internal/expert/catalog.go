package expert

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var errDuplicateKeywordKey = errors.New("duplicate keyword entry")

// TableError reports a keyword table entry that failed validation.
type TableError struct {
	Key string
	Err error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("keyword table entry %q: %v", e.Key, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }

// Catalog is a loaded expert registry with its keyword table.
type Catalog struct {
	Registry      *Registry
	Keywords      KeywordTable
	DefaultExpert string
}

type catalogFile struct {
	DefaultExpert string    `yaml:"default_expert"`
	Experts       yaml.Node `yaml:"experts"`
}

type catalogEntry struct {
	BackendID   string   `yaml:"backend_id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
}

// DefaultCatalog parses the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file. An empty path loads the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes a YAML catalog. The experts mapping is walked node by
// node so the keyword table keeps document order. Backend ids are expanded
// against the environment.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if file.Experts.Kind != yaml.MappingNode {
		return nil, errors.New("catalog: experts must be a mapping")
	}

	n := len(file.Experts.Content) / 2
	descriptors := make([]Descriptor, 0, n)
	table := make(KeywordTable, 0, n)
	for i := 0; i+1 < len(file.Experts.Content); i += 2 {
		keyNode, valNode := file.Experts.Content[i], file.Experts.Content[i+1]
		var entry catalogEntry
		if err := valNode.Decode(&entry); err != nil {
			return nil, fmt.Errorf("catalog: expert %q (line %d): %w", keyNode.Value, keyNode.Line, err)
		}
		key := strings.TrimSpace(keyNode.Value)
		descriptors = append(descriptors, Descriptor{
			Key:         key,
			BackendID:   strings.TrimSpace(os.ExpandEnv(entry.BackendID)),
			Title:       entry.Title,
			Description: entry.Description,
		})
		if len(entry.Keywords) > 0 {
			table = append(table, KeywordEntry{Key: key, Keywords: entry.Keywords})
		}
	}

	reg, err := NewRegistry(descriptors)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if err := table.Validate(reg.Has); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if file.DefaultExpert != "" && !reg.Has(file.DefaultExpert) {
		return nil, fmt.Errorf("catalog: default_expert: %w: %q", ErrUnknownExpert, file.DefaultExpert)
	}
	if file.DefaultExpert == "" && reg.Len() > 0 {
		file.DefaultExpert = reg.Keys()[0]
	}

	return &Catalog{Registry: reg, Keywords: table, DefaultExpert: file.DefaultExpert}, nil
}

// ResolveDefault picks the initial expert for new sessions: an explicit key
// first, then the expert bound to assistantID, then the catalog default.
func (c *Catalog) ResolveDefault(explicit, assistantID string) (string, error) {
	if explicit != "" {
		if !c.Registry.Has(explicit) {
			return "", fmt.Errorf("default expert: %w: %q", ErrUnknownExpert, explicit)
		}
		return explicit, nil
	}
	if d, ok := c.Registry.ByBackendID(assistantID); ok {
		return d.Key, nil
	}
	if c.DefaultExpert == "" {
		return "", errors.New("catalog has no experts")
	}
	return c.DefaultExpert, nil
}

// Classify runs the keyword classifier against the catalog's registry.
func (c *Catalog) Classify(text string) (string, bool) {
	return Classify(text, c.Keywords, c.Registry.Has)
}
