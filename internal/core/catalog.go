package core

import "github.com/dkeye/Tandem/internal/domain"

// Catalog is the read-only source of round prompts.
type Catalog interface {
	Prompts(tier domain.Tier) []domain.Prompt
}
