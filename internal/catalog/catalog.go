// Package catalog holds the read-only list of round prompts.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/dkeye/Tandem/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

type file struct {
	Prompts []domain.Prompt `yaml:"prompts"`
}

// Catalog is an immutable, tier-indexed prompt list. Safe for concurrent use.
type Catalog struct {
	byTier map[domain.Tier][]domain.Prompt
	size   int
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a YAML catalog from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.Prompts)
}

// New validates prompts and indexes them by tier.
func New(prompts []domain.Prompt) (*Catalog, error) {
	c := &Catalog{byTier: make(map[domain.Tier][]domain.Prompt)}
	seen := make(map[domain.PromptRef]struct{}, len(prompts))
	for i, p := range prompts {
		if p.ID == "" {
			return nil, fmt.Errorf("prompt %d: missing id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("prompt %s: duplicate id", p.ID)
		}
		if !p.Tier.Valid() {
			return nil, fmt.Errorf("prompt %s: invalid tier", p.ID)
		}
		if p.DurationSeconds <= 0 {
			return nil, fmt.Errorf("prompt %s: duration must be positive", p.ID)
		}
		if p.Instruction == "" {
			return nil, fmt.Errorf("prompt %s: missing instruction", p.ID)
		}
		seen[p.ID] = struct{}{}
		c.byTier[p.Tier] = append(c.byTier[p.Tier], p)
		c.size++
	}
	return c, nil
}

// Prompts returns the prompts of tier. The slice must not be modified.
func (c *Catalog) Prompts(tier domain.Tier) []domain.Prompt {
	return c.byTier[tier]
}

func (c *Catalog) Len() int { return c.size }
