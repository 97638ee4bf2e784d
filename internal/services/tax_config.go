package services

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
)

// LoadTaxConfiguration reads a JSON tax configuration bundle from disk.
func LoadTaxConfiguration(path string) (domain.TaxConfiguration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.TaxConfiguration{}, fmt.Errorf("tax configuration: read %s: %w", path, err)
	}
	var cfg domain.TaxConfiguration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.TaxConfiguration{}, fmt.Errorf("tax configuration: parse %s: %w", path, err)
	}
	if len(cfg.Rates) == 0 && len(cfg.Rules) == 0 {
		return domain.TaxConfiguration{}, fmt.Errorf("tax configuration: %s has no rates or rules", path)
	}
	return cfg, nil
}
