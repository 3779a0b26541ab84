// Package blueprint resolves named content templates into the initial pages
// of a new site and publishes them through the site platform.
package blueprint

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
)

// DefaultID is used when a request names no blueprint
const DefaultID = "default"

//go:embed catalog.yaml blueprints/*.html
var embedded embed.FS

// ErrUnknownBlueprint is returned by Lookup for ids missing from the catalog
var ErrUnknownBlueprint = errors.New("unknown blueprint")

type catalogFile struct {
	Blueprints []domain.BlueprintInfo `yaml:"blueprints"`
}

// Catalog lists the available blueprints. Files are read from the override
// directory first and from the embedded set otherwise.
type Catalog struct {
	entries []domain.BlueprintInfo
	byID    map[string]domain.BlueprintInfo
	dir     string
}

// LoadCatalog reads the embedded catalog.yaml. When dir contains its own
// catalog.yaml, its entries replace or extend the embedded ones by id.
func LoadCatalog(dir string) (*Catalog, error) {
	raw, err := embedded.ReadFile("catalog.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]domain.BlueprintInfo), dir: dir}
	if err := c.merge(raw); err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}

	if dir != "" {
		override, err := os.ReadFile(filepath.Join(dir, "catalog.yaml"))
		switch {
		case err == nil:
			if err := c.merge(override); err != nil {
				return nil, fmt.Errorf("catalog %s: %w", dir, err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read catalog override: %w", err)
		}
	}
	return c, nil
}

func (c *Catalog) merge(raw []byte) error {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return err
	}
	for _, info := range file.Blueprints {
		if info.ID == "" {
			return errors.New("blueprint entry without id")
		}
		if _, exists := c.byID[info.ID]; !exists {
			c.entries = append(c.entries, info)
		} else {
			for i := range c.entries {
				if c.entries[i].ID == info.ID {
					c.entries[i] = info
				}
			}
		}
		c.byID[info.ID] = info
	}
	return nil
}

// List returns the catalog in declaration order
func (c *Catalog) List() []domain.BlueprintInfo {
	out := make([]domain.BlueprintInfo, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Catalog) Lookup(id string) (domain.BlueprintInfo, error) {
	info, ok := c.byID[id]
	if !ok {
		return domain.BlueprintInfo{}, fmt.Errorf("%w: %s", ErrUnknownBlueprint, id)
	}
	return info, nil
}

// Source returns the raw markup of a catalog entry
func (c *Catalog) Source(info domain.BlueprintInfo) (string, error) {
	if info.File == "" {
		return "", fmt.Errorf("blueprint %s has no file", info.ID)
	}
	name := filepath.Base(info.File)
	if c.dir != "" {
		data, err := os.ReadFile(filepath.Join(c.dir, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read blueprint %s: %w", name, err)
		}
	}
	data, err := embedded.ReadFile("blueprints/" + name)
	if err != nil {
		return "", fmt.Errorf("read blueprint %s: %w", name, err)
	}
	return string(data), nil
}
