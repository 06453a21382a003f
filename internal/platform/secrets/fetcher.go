// Package secrets resolves secret:// references against Google Secret
// Manager, with a process-local cache and a plaintext fallback file for
// development without cloud credentials.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
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

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultVersion      = "latest"
	meterName           = "github.com/bazaarhub/api/internal/platform/secrets"
)

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// accessClient is the slice of the Secret Manager client the fetcher needs.
type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references. Remote lookups go to Secret Manager in
// the project selected by environment; auth and availability failures degrade
// to the fallback file so local runs work without credentials.
type Fetcher struct {
	client     accessClient
	ownsClient bool

	logger *zap.Logger

	env            string
	defaultProject string
	projectByEnv   map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]cached

	fetchLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
}

type cached struct {
	value     string
	fetchedAt time.Time
	source    string
}

type fetcherOptions struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projectByEnv map[string]string
	fallbackPath string
	meter        metric.Meter
	client       accessClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherOptions)

// WithLogger sets the logger for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(o *fetcherOptions) { o.logger = logger }
}

// WithEnvironment selects the deployment environment used to pick a project.
func WithEnvironment(env string) Option {
	return func(o *fetcherOptions) { o.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project used when no per-environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(o *fetcherOptions) { o.defaultProj = strings.TrimSpace(projectID) }
}

// WithProjectMap supplies per-environment Secret Manager project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(o *fetcherOptions) { o.projectByEnv = cloneMap(m) }
}

// WithFallbackFile overrides the local fallback secrets file path.
func WithFallbackFile(path string) Option {
	return func(o *fetcherOptions) { o.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter injects an OpenTelemetry meter, replacing the global provider.
func WithMeter(m metric.Meter) Option {
	return func(o *fetcherOptions) { o.meter = m }
}

// WithSecretManagerClient injects a preconfigured client, mainly for tests.
func WithSecretManagerClient(client accessClient) Option {
	return func(o *fetcherOptions) { o.client = client }
}

// WithClientOptions forwards Cloud client options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *fetcherOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is not fatal;
// the fetcher then serves only cached and fallback values.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	options := fetcherOptions{
		logger:       zap.NewNop(),
		env:          defaultEnvironment,
		fallbackPath: defaultFallbackPath,
		projectByEnv: map[string]string{},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}

	meter := options.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}

	fetchLatency, err := meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret fetch attempts"),
	)
	if err != nil {
		options.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
		fetchLatency = nil
	}
	cacheHits, err := meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from cache"),
	)
	if err != nil {
		options.logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
		cacheHits = nil
	}

	f := &Fetcher{
		logger:         options.logger,
		env:            options.env,
		defaultProject: options.defaultProj,
		projectByEnv:   cloneMap(options.projectByEnv),
		fallbackPath:   options.fallbackPath,
		cache:          make(map[string]cached),
		fetchLatency:   fetchLatency,
		cacheHits:      cacheHits,
	}

	if options.client != nil {
		f.client = options.client
		return f, nil
	}

	client, err := newSecretManagerClient(ctx, options.clientOpts...)
	if err != nil {
		options.logger.Warn("secrets: secret manager client unavailable; fallback mode only", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

// Close releases the underlying client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind a secret:// reference. Cached values win;
// remote failures that look like missing credentials or an unreachable
// service fall through to the fallback file.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()

	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}
	key := parsed.cacheKey()

	if value, ok := f.cachedValue(key); ok {
		f.countCacheHit(ctx, parsed)
		f.observeFetch(ctx, start, "cache", nil)
		return value, nil
	}

	if project := f.resolveProject(parsed); project != "" && f.client != nil {
		value, err := f.accessRemote(ctx, project, parsed)
		if err == nil {
			f.remember(key, value, "remote")
			f.observeFetch(ctx, start, "remote", nil)
			return value, nil
		}
		if !degradesToFallback(err) {
			f.observeFetch(ctx, start, "error", err)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.canonical, err)
		}
		f.logger.Debug("secrets: using fallback file", zap.String("ref", parsed.canonical), zap.Error(err))
	}

	value, ok := f.fallbackValue(parsed)
	if !ok {
		err := fmt.Errorf("secrets: no fallback value for %s", parsed.canonical)
		f.observeFetch(ctx, start, "error", err)
		return "", err
	}
	f.remember(key, value, "fallback")
	f.observeFetch(ctx, start, "fallback", nil)
	return value, nil
}

// Invalidate drops any cached values for the reference, forcing a refetch.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseRef(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		if strings.HasPrefix(key, parsed.canonical+"#") {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) cachedValue(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	return entry.value, ok
}

func (f *Fetcher) remember(key, value, source string) {
	f.mu.Lock()
	f.cache[key] = cached{value: value, fetchedAt: time.Now(), source: source}
	f.mu.Unlock()
}

func (f *Fetcher) accessRemote(ctx context.Context, project string, ref secretRef) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", name)
	}
	return string(resp.Payload.GetData()), nil
}

func (f *Fetcher) resolveProject(ref secretRef) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projectByEnv[f.env]); id != "" {
		return id
	}
	return strings.TrimSpace(f.defaultProject)
}

func (f *Fetcher) fallbackValue(ref secretRef) (string, bool) {
	f.fallbackOnce.Do(f.loadFallbackFile)
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback file error", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallback[ref.cacheKey()]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.canonical]
	return value, ok
}

// loadFallbackFile reads KEY=VALUE lines. Keys may be full secret://
// references (optionally versioned) or bare names; blank lines and #
// comments are skipped. A missing file is not an error.
func (f *Fetcher) loadFallbackFile() {
	f.fallback = map[string]string{}

	path := strings.TrimSpace(f.fallbackPath)
	if path == "" {
		return
	}

	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.fallbackErr = fmt.Errorf("secrets: open fallback file %s: %w", path, err)
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
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if parsed, err := parseRef(key); err == nil {
			f.fallback[parsed.canonical] = value
			f.fallback[parsed.cacheKey()] = value
		} else {
			f.fallback[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
}

func (f *Fetcher) observeFetch(ctx context.Context, start time.Time, source string, err error) {
	if f.fetchLatency == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.Bool("failed", true))
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.fetchLatency.Record(ctx, elapsed, metric.WithAttributes(attrs...))
}

func (f *Fetcher) countCacheHit(ctx context.Context, ref secretRef) {
	if f.cacheHits == nil {
		return
	}
	f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", fingerprint(ref.canonical))))
}

// secretRef is a parsed secret://name?version=v&project=p reference. The
// canonical form strips query parameters so cache keys stay stable.
type secretRef struct {
	canonical string
	name      string
	version   string
	project   string
}

func (r secretRef) cacheKey() string {
	return r.canonical + "#" + r.version
}

func parseRef(ref string) (secretRef, error) {
	if strings.TrimSpace(ref) == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = defaultVersion
	}

	return secretRef{
		canonical: canonical.String(),
		name:      name,
		version:   version,
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// fingerprint hashes a reference so metric labels never leak secret names.
func fingerprint(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

// degradesToFallback reports whether a remote failure should be served from
// the fallback file instead of surfacing. Hard errors such as NotFound or
// InvalidArgument still surface so misconfiguration is visible.
func degradesToFallback(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
