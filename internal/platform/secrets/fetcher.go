// Package secrets resolves secret:// references through Google Secret
// Manager. A plain-text fallback file covers local development, where no
// Google credentials exist.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// accessor is the slice of the Secret Manager client the fetcher uses.
type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (accessor, error) {
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Fetcher resolves secret references, caching each resolved value for the
// life of the process. Secrets here rotate by restart, not in place.
type Fetcher struct {
	client         accessor
	ownsClient     bool
	logger         *zap.Logger
	defaultProject string
	clientOpts     []option.ClientOption

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string

	latency metric.Float64Histogram
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithDefaultProject sets the project used for references that carry no
// project override.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) {
		f.defaultProject = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the path of the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) {
		f.fallbackPath = strings.TrimSpace(path)
	}
}

// WithClientOptions forwards Cloud client options when the fetcher constructs
// its own Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) {
		f.clientOpts = append(f.clientOpts, opts...)
	}
}

// WithSecretManagerClient injects a preconfigured client, primarily for tests.
func WithSecretManagerClient(client accessor) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// NewFetcher builds a Fetcher. When no Secret Manager client can be
// constructed the fetcher still works, serving the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:       zap.NewNop(),
		fallbackPath: ".secrets.local",
		cache:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		client, err := newSecretManagerClient(ctx, f.clientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager unavailable, fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}

	meter := otel.GetMeterProvider().Meter("github.com/Montivagant/rmsv3-sub002/internal/platform/secrets")
	latency, err := meter.Float64Histogram(
		"secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution attempts"),
	)
	if err != nil {
		f.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	} else {
		f.latency = latency
	}

	return f, nil
}

// Close releases the Secret Manager client when the fetcher owns it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind a secret:// reference.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	key := parsed.cacheKey()
	f.mu.RLock()
	value, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		f.observe(ctx, "cache", start)
		return value, nil
	}

	project := parsed.project
	if project == "" {
		project = f.defaultProject
	}

	if f.client != nil && project != "" {
		value, err := f.access(ctx, project, parsed)
		if err == nil {
			f.store(key, value)
			f.observe(ctx, "remote", start)
			return value, nil
		}
		if !recoverable(err) {
			f.observe(ctx, "error", start)
			return "", fmt.Errorf("secrets: resolve %s: %w", parsed, err)
		}
		f.logger.Debug("secrets: falling back to local file", zap.String("ref", parsed.String()), zap.Error(err))
	}

	value, ok = f.fallbackValue(parsed)
	if !ok {
		f.observe(ctx, "error", start)
		return "", fmt.Errorf("secrets: no fallback value for %s", parsed)
	}
	f.store(key, value)
	f.observe(ctx, "fallback", start)
	return value, nil
}

// ResolveSecret implements the config loader's resolver contract.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

func (f *Fetcher) access(ctx context.Context, project string, ref reference) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.Payload.GetData()), nil
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) observe(ctx context.Context, source string, start time.Time) {
	if f.latency == nil {
		return
	}
	ms := float64(time.Since(start)) / float64(time.Millisecond)
	f.latency.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
}

// fallbackValue consults the local secrets file, loaded once per process.
// Lines are NAME=VALUE, where NAME is a bare secret name or a secret://
// reference; blank lines and #-comments are skipped.
func (f *Fetcher) fallbackValue(ref reference) (string, bool) {
	f.fallbackOnce.Do(f.loadFallbackFile)
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallback[ref.cacheKey()]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.name]
	return value, ok
}

func (f *Fetcher) loadFallbackFile() {
	f.fallback = map[string]string{}
	if f.fallbackPath == "" {
		return
	}

	file, err := os.Open(f.fallbackPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.fallbackErr = fmt.Errorf("secrets: open fallback file %s: %w", f.fallbackPath, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" {
			continue
		}
		if parsed, err := parseReference(name); err == nil {
			f.fallback[parsed.name] = value
			f.fallback[parsed.cacheKey()] = value
		} else {
			f.fallback[name] = value
		}
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = fmt.Errorf("secrets: read fallback file %s: %w", f.fallbackPath, err)
	}
}

// recoverable reports whether a Secret Manager failure should fall through
// to the local file rather than fail the resolution.
func recoverable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

// reference is a parsed secret:// reference. The optional version and
// project query parameters override the defaults.
type reference struct {
	name    string
	version string
	project string
}

func (r reference) String() string {
	return "secret://" + r.name
}

func (r reference) cacheKey() string {
	return r.name + "@" + r.version
}

func parseReference(ref string) (reference, error) {
	if strings.TrimSpace(ref) == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{
		name:    name,
		version: version,
		project: strings.TrimSpace(query.Get("project")),
	}, nil
}
