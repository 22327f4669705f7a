package contract

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Catalog is the set of known contracts, keyed by (event type, version).
type Catalog struct {
	mu        sync.RWMutex
	contracts map[Key]*Contract
}

func NewCatalog() *Catalog {
	return &Catalog{contracts: make(map[Key]*Contract)}
}

// Add stores c. A second contract for the same key is rejected.
func (c *Catalog) Add(ct *Contract) error {
	for i, step := range ct.Upgrade {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("%s upgrade step %d: %w", ct.Key(), i, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.contracts[ct.Key()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, ct.Key())
	}
	c.contracts[ct.Key()] = ct
	return nil
}

func (c *Catalog) Get(eventType string, version int) (*Contract, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ct, ok := c.contracts[Key{EventType: eventType, Version: version}]
	if !ok {
		return nil, ErrNotFound
	}
	return ct, nil
}

// EventTypes returns every event type with at least one contract, sorted.
func (c *Catalog) EventTypes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range c.contracts {
		seen[key.EventType] = struct{}{}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Versions returns the contracts of one event type ordered by version.
func (c *Catalog) Versions(eventType string) []*Contract {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*Contract
	for key, ct := range c.contracts {
		if key.EventType == eventType {
			out = append(out, ct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.contracts)
}

// yamlHeader is the subset of a YAML contract the catalog reads itself.
// Field rules are left to the yaml format compiler.
type yamlHeader struct {
	StrictMode *bool         `yaml:"strictMode"`
	Upgrade    []UpgradeStep `yaml:"upgrade"`
}

// LoadCatalog reads contracts from root/{event_type}/v{version}.[yaml|proto].
// YAML wins when both formats exist for a version. A missing root yields an
// empty catalog.
func LoadCatalog(root string) (*Catalog, error) {
	catalog := NewCatalog()

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("[Contracts] Contract directory does not exist, starting with empty catalog", "path", root)
			return catalog, nil
		}
		return nil, fmt.Errorf("failed to read contract directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := catalog.loadTypeDir(entry.Name(), filepath.Join(root, entry.Name())); err != nil {
			return nil, err
		}
	}

	slog.Info("[Contracts] Catalog loaded", "path", root, "contracts", catalog.Len())
	return catalog, nil
}

func (c *Catalog) loadTypeDir(eventType, dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read contracts for %s: %w", eventType, err)
	}

	found := make(map[int]map[Format]string)
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		ext := filepath.Ext(name)

		var format Format
		switch ext {
		case ".yaml", ".yml":
			format = FormatYaml
		case ".proto":
			format = FormatProtobuf
		default:
			continue
		}

		base := strings.TrimSuffix(name, ext)
		if !strings.HasPrefix(base, "v") {
			continue
		}
		version, err := strconv.Atoi(strings.TrimPrefix(base, "v"))
		if err != nil || version < 1 {
			slog.Warn("[Contracts] Skipping file with invalid version", "event_type", eventType, "file", name)
			continue
		}
		if found[version] == nil {
			found[version] = make(map[Format]string)
		}
		found[version][format] = filepath.Join(dir, name)
	}

	for version, paths := range found {
		path, format := paths[FormatYaml], FormatYaml
		if path == "" {
			path, format = paths[FormatProtobuf], FormatProtobuf
		} else if paths[FormatProtobuf] != "" {
			slog.Warn("[Contracts] Both .yaml and .proto exist - using .yaml",
				"event_type", eventType, "version", version)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read contract %s: %w", path, err)
		}

		ct := New(eventType, version, format, content)
		if format == FormatYaml {
			var header yamlHeader
			if err := yaml.Unmarshal(content, &header); err != nil {
				return fmt.Errorf("failed to parse contract %s: %w", path, err)
			}
			if header.StrictMode != nil {
				ct.StrictMode = *header.StrictMode
			}
			ct.Upgrade = header.Upgrade
		}

		if err := c.Add(ct); err != nil {
			return err
		}
	}
	return nil
}
