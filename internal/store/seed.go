package store

import (
	"fmt"
	"os"

	"manualqa-backend/internal/models"

	"gopkg.in/yaml.v3"
)

// Seed is the YAML layout for curated facts and the equipment catalogue.
type Seed struct {
	Facts   []models.Fact      `yaml:"facts"`
	Systems []models.SystemRef `yaml:"systems"`
}

// ReadSeed parses a seed file. Facts without a type are rejected.
func ReadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for i, f := range seed.Facts {
		switch f.FactType {
		case models.FactTypeSpec, models.FactTypeIntent, models.FactTypeGolden:
		default:
			return nil, fmt.Errorf("seed fact %d: unknown fact_type %q", i, f.FactType)
		}
	}
	return &seed, nil
}
