package services

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTaxConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tax.json")
	payload := `{
		"name": "us-ca",
		"roundingRule": "round_to_cent",
		"rates": [
			{"id": "state", "rate": 0.0725, "type": "sales", "isActive": true,
			 "jurisdiction": {"country": "US", "state": "CA"},
			 "effectiveDate": "2020-01-01T00:00:00Z"}
		]
	}`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadTaxConfiguration(path)
	if err != nil {
		t.Fatalf("LoadTaxConfiguration() error = %v", err)
	}
	if cfg.Name != "us-ca" || len(cfg.Rates) != 1 {
		t.Fatalf("unexpected configuration %+v", cfg)
	}
	if cfg.Rates[0].Rate != 0.0725 {
		t.Fatalf("rate = %v, want 0.0725", cfg.Rates[0].Rate)
	}
}

func TestLoadTaxConfigurationRejectsEmptyBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tax.json")
	if err := os.WriteFile(path, []byte(`{"name": "empty"}`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadTaxConfiguration(path); err == nil {
		t.Fatalf("expected error for bundle without rates or rules")
	}
}

func TestLoadTaxConfigurationMissingFile(t *testing.T) {
	if _, err := LoadTaxConfiguration(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
