package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(nil), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Ledger.Backend != "memory" {
		t.Errorf("expected default ledger backend memory, got %s", cfg.Ledger.Backend)
	}
	if cfg.Kafka.Enabled {
		t.Errorf("expected kafka disabled by default")
	}
	if cfg.Kafka.Topic != defaultKafkaTopic {
		t.Errorf("unexpected default kafka topic: %s", cfg.Kafka.Topic)
	}
	if cfg.Inventory.OversellPolicy != "block" {
		t.Errorf("expected default oversell policy block, got %s", cfg.Inventory.OversellPolicy)
	}
	if cfg.Tax.RoundingRule != "round_to_cent" {
		t.Errorf("expected default rounding rule, got %s", cfg.Tax.RoundingRule)
	}
	if cfg.Loyalty.PointsPerUnit != 1 {
		t.Errorf("expected default loyalty rate 1, got %d", cfg.Loyalty.PointsPerUnit)
	}
	if cfg.PSP.DefaultCurrency != "USD" {
		t.Errorf("expected default currency USD, got %s", cfg.PSP.DefaultCurrency)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected default environment local, got %s", cfg.Environment)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"POS_SERVER_PORT":               "9090",
		"POS_SERVER_READ_TIMEOUT":       "20s",
		"POS_LEDGER_BACKEND":            "firestore",
		"POS_FIRESTORE_PROJECT_ID":      "pos-prod",
		"POS_KAFKA_ENABLED":             "true",
		"POS_KAFKA_BROKERS":             "broker-1:9092, broker-2:9092",
		"POS_KAFKA_TOPIC":               "pos.events",
		"POS_PSP_STRIPE_API_KEY":        "secret://stripe/api",
		"POS_PSP_STRIPE_WEBHOOK_SECRET": "secret://stripe/webhook",
		"POS_PSP_DEFAULT_CURRENCY":      "egp",
		"POS_TAX_COUNTRY":               "US",
		"POS_TAX_STATE":                 "CA",
		"POS_TAX_ROUNDING_RULE":         "round_to_nickel",
		"POS_INVENTORY_OVERSELL_POLICY": "allow_negative_alert",
		"POS_LOYALTY_POINTS_PER_UNIT":   "2",
		"POS_SECURITY_ADMIN_API_KEY":    "sm://admin/key",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		switch ref {
		case "secret://stripe/api":
			return "sk_live_1", nil
		case "secret://stripe/webhook":
			return "whsec_1", nil
		case "secret://admin/key":
			return "admin-key", nil
		default:
			return "", errors.New("unknown ref")
		}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeWebhookSecret"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Ledger.Backend != "firestore" {
		t.Errorf("unexpected ledger backend: %s", cfg.Ledger.Backend)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "broker-2:9092" {
		t.Errorf("unexpected kafka brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.PSP.StripeAPIKey != "sk_live_1" {
		t.Errorf("stripe api key not resolved: %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.PSP.StripeWebhookSecret != "whsec_1" {
		t.Errorf("stripe webhook secret not resolved")
	}
	if cfg.PSP.DefaultCurrency != "EGP" {
		t.Errorf("unexpected default currency: %s", cfg.PSP.DefaultCurrency)
	}
	if cfg.Security.AdminAPIKey != "admin-key" {
		t.Errorf("admin api key not resolved via sm:// alias")
	}
	if cfg.Tax.RoundingRule != "round_to_nickel" {
		t.Errorf("unexpected rounding rule: %s", cfg.Tax.RoundingRule)
	}
	if cfg.Inventory.OversellPolicy != "allow_negative_alert" {
		t.Errorf("unexpected oversell policy: %s", cfg.Inventory.OversellPolicy)
	}
	if cfg.Loyalty.PointsPerUnit != 2 {
		t.Errorf("unexpected loyalty rate: %d", cfg.Loyalty.PointsPerUnit)
	}
}

func TestLoadDotEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "POS_SERVER_PORT=7000\nPOS_TAX_COUNTRY=EG\n# comment\nexport POS_TAX_CITY=\"Cairo\"\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	// The explicit env map wins over the dotenv file.
	cfg, err := Load(context.Background(),
		WithEnvFile(envFile), WithoutSystemEnv(),
		WithEnvMap(map[string]string{"POS_SERVER_PORT": "7100"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7100" {
		t.Errorf("expected env map to override dotenv, got %s", cfg.Server.Port)
	}
	if cfg.Tax.Country != "EG" {
		t.Errorf("expected dotenv tax country EG, got %s", cfg.Tax.Country)
	}
	if cfg.Tax.City != "Cairo" {
		t.Errorf("expected dotenv quoted value Cairo, got %s", cfg.Tax.City)
	}
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{
			"firestore backend without project",
			map[string]string{"POS_LEDGER_BACKEND": "firestore"},
			"Firestore.ProjectID",
		},
		{
			"unknown backend",
			map[string]string{"POS_LEDGER_BACKEND": "postgres"},
			"Ledger.Backend",
		},
		{
			"kafka enabled without brokers",
			map[string]string{"POS_KAFKA_ENABLED": "true"},
			"Kafka.Brokers",
		},
		{
			"unknown oversell policy",
			map[string]string{"POS_INVENTORY_OVERSELL_POLICY": "maybe"},
			"Inventory.OversellPolicy",
		},
		{
			"unknown rounding rule",
			map[string]string{"POS_TAX_ROUNDING_RULE": "round_to_dollar"},
			"Tax.RoundingRule",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(context.Background(), WithEnvMap(tc.env), WithoutSystemEnv(), WithEnvFile(""))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, field := range verr.Fields() {
				if field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected field %s in %v", tc.field, verr.Fields())
			}
		})
	}
}

func TestLoadMissingRequiredSecret(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(nil), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if len(missing.RedactedNames()) != 1 {
		t.Fatalf("expected one redacted name, got %v", missing.RedactedNames())
	}
}

func TestLoadUnresolvableSecretReference(t *testing.T) {
	env := map[string]string{"POS_PSP_STRIPE_API_KEY": "secret://stripe/api"}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var serr *SecretError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if serr.Ref != "secret://stripe/api" {
		t.Fatalf("unexpected ref: %s", serr.Ref)
	}
}
