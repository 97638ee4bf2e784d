package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultLedgerBackend    = "memory"
	defaultKafkaTopic       = "pos.ledger.events"
	defaultCurrency         = "USD"
	defaultOversellPolicy   = "block"
	defaultRoundingRule     = "round_to_cent"
	defaultLoyaltyRate      = 1
	defaultRateLimitDefault = 120
	defaultRateLimitWebhook = 60
	defaultEnvironment      = "local"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Ledger      LedgerConfig
	Firestore   FirestoreConfig
	Kafka       KafkaConfig
	PSP         PSPConfig
	Tax         TaxConfig
	Inventory   InventoryConfig
	Loyalty     LoyaltyConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Environment string
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LedgerConfig selects the event log backend.
type LedgerConfig struct {
	// Backend is "memory" or "firestore".
	Backend string
}

// FirestoreConfig stores database parameters for the durable ledger backend.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// KafkaConfig controls the ledger tail publisher.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// PSPConfig collects secrets for payment providers.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	DefaultCurrency     string
	SuccessURL          string
	CancelURL           string
}

// TaxConfig locates the store for tax purposes and sets rounding behaviour.
type TaxConfig struct {
	Country      string
	State        string
	City         string
	PostalCode   string
	RoundingRule string
	// ConfigFile optionally points at a JSON tax configuration bundle.
	ConfigFile string
}

// InventoryConfig sets the default oversell policy.
type InventoryConfig struct {
	OversellPolicy string
}

// LoyaltyConfig sets the accrual rate.
type LoyaltyConfig struct {
	PointsPerUnit int
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute int
	WebhookBurst     int
}

// SecurityConfig groups the admin API key used for inventory and tax
// management endpoints.
type SecurityConfig struct {
	AdminAPIKey string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	names := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		names = append(names, secret.redacted)
	}
	sort.Strings(names)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the config field names recorded by the loader
// (e.g. "PSP.StripeAPIKey").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "POS_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "POS_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "POS_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "POS_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Ledger: LedgerConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "POS_LEDGER_BACKEND", defaultLedgerBackend)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "POS_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "POS_FIRESTORE_EMULATOR_HOST", ""),
		},
		Kafka: KafkaConfig{
			Enabled: boolWithDefault(lookup, "POS_KAFKA_ENABLED", false),
			Brokers: csvWithDefault(lookup, "POS_KAFKA_BROKERS"),
			Topic:   stringWithDefault(lookup, "POS_KAFKA_TOPIC", defaultKafkaTopic),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "POS_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "POS_PSP_STRIPE_WEBHOOK_SECRET", ""),
			DefaultCurrency:     strings.ToUpper(stringWithDefault(lookup, "POS_PSP_DEFAULT_CURRENCY", defaultCurrency)),
			SuccessURL:          stringWithDefault(lookup, "POS_PSP_SUCCESS_URL", ""),
			CancelURL:           stringWithDefault(lookup, "POS_PSP_CANCEL_URL", ""),
		},
		Tax: TaxConfig{
			Country:      stringWithDefault(lookup, "POS_TAX_COUNTRY", ""),
			State:        stringWithDefault(lookup, "POS_TAX_STATE", ""),
			City:         stringWithDefault(lookup, "POS_TAX_CITY", ""),
			PostalCode:   stringWithDefault(lookup, "POS_TAX_POSTAL_CODE", ""),
			RoundingRule: strings.ToLower(stringWithDefault(lookup, "POS_TAX_ROUNDING_RULE", defaultRoundingRule)),
			ConfigFile:   stringWithDefault(lookup, "POS_TAX_CONFIG_FILE", ""),
		},
		Inventory: InventoryConfig{
			OversellPolicy: strings.ToLower(stringWithDefault(lookup, "POS_INVENTORY_OVERSELL_POLICY", defaultOversellPolicy)),
		},
		Loyalty: LoyaltyConfig{
			PointsPerUnit: intWithDefault(lookup, "POS_LOYALTY_POINTS_PER_UNIT", defaultLoyaltyRate),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute: intWithDefault(lookup, "POS_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			WebhookBurst:     intWithDefault(lookup, "POS_RATELIMIT_WEBHOOK_BURST", defaultRateLimitWebhook),
		},
		Security: SecurityConfig{
			AdminAPIKey: stringWithDefault(lookup, "POS_SECURITY_ADMIN_API_KEY", ""),
		},
		Environment: strings.ToLower(stringWithDefault(lookup, "POS_ENVIRONMENT", defaultEnvironment)),
	}

	resolvedSecrets := make(map[string]string)
	resolveField := func(name string, field *string) error {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return err
		}
		*field = resolved
		resolvedSecrets[name] = strings.TrimSpace(resolved)
		return nil
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Security.AdminAPIKey", &cfg.Security.AdminAPIKey},
	}
	for _, target := range secretFields {
		if err := resolveField(target.name, target.field); err != nil {
			return Config{}, err
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Ledger.Backend {
	case "memory":
	case "firestore":
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	default:
		missing = append(missing, "Ledger.Backend")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		missing = append(missing, "Kafka.Brokers")
	}
	switch cfg.Inventory.OversellPolicy {
	case "block", "allow_negative_alert", "allow":
	default:
		missing = append(missing, "Inventory.OversellPolicy")
	}
	switch cfg.Tax.RoundingRule {
	case "round_to_cent", "round_up_to_cent", "round_down_to_cent", "round_to_nickel", "no_rounding":
	default:
		missing = append(missing, "Tax.RoundingRule")
	}
	if cfg.Loyalty.PointsPerUnit < 0 {
		missing = append(missing, "Loyalty.PointsPerUnit")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
