// Package config loads runtime configuration from the environment with
// dotenv overrides and Secret Manager indirection for credentials.
package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRateLimitDefault     = 120
	defaultRateLimitAuth        = 240
	defaultEnvironment          = "local"
	defaultCurrency             = "INR"
	defaultTaxRatePercent       = 18
	defaultPlatformFee          = int64(2000)
	defaultShippingBase         = int64(9900)
	defaultShippingDiscount     = int64(4900)
	defaultCODSurcharge         = int64(4900)
	defaultFreeShippingAbove    = int64(499900)
	defaultReturnWindow         = 7 * 24 * time.Hour
	defaultStockCheckTimeout    = 3 * time.Second
	defaultOrderEventsTopic     = "order-events"
	defaultOrderEventsSub       = "order-events-revenue"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Environment string
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Payments    PaymentsConfig
	Fees        FeesConfig
	Returns     ReturnsConfig
	Stock       StockConfig
	RateLimits  RateLimitConfig
	Features    FeatureFlags
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings used for token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the order event feed resources. PushAudience, when
// set, enables the push delivery endpoint and is matched against the
// audience claim of Google-signed push tokens.
type PubSubConfig struct {
	ProjectID    string
	Topic        string
	Subscription string
	EmulatorHost string
	PushAudience string
}

// PaymentsConfig collects payment gateway credentials.
type PaymentsConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
}

// FeesConfig holds the pricing schedule in minor currency units.
type FeesConfig struct {
	Currency          string
	TaxRatePercent    int64
	PlatformFee       int64
	ShippingBase      int64
	ShippingDiscount  int64
	CODSurcharge      int64
	FreeShippingAbove int64
}

// ReturnsConfig controls the post-delivery return policy.
type ReturnsConfig struct {
	Window time.Duration
}

// StockConfig bounds availability lookups.
type StockConfig struct {
	CheckTimeout time.Duration
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableGuestCarts bool
	EnableCOD        bool
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver turns secret:// references into their values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError reports the config fields that are missing or out of
// range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes a failed secret reference resolution.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved empty. Error
// text and RedactedNames only expose hashes so logs never leak which
// credentials exist.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	redacted := e.RedactedNames()
	if len(redacted) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// RedactedNames returns sorted hashes of the missing secret names.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.names) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

// Names returns the raw missing secret identifiers, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.names) == 0 {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errNoSecretResolver = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loader)

type loader struct {
	envFile         string
	explicit        map[string]string
	useSystemEnv    bool
	resolver        SecretResolver
	requiredSecrets []string
	panicOnMissing  bool
}

// WithEnvFile points the loader at a dotenv file other than ./.env.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithEnvMap injects explicit key/value pairs that win over both the
// system environment and the dotenv file.
func WithEnvMap(values map[string]string) Option {
	return func(l *loader) { l.explicit = values }
}

// WithoutSystemEnv ignores os.Environ, reading only explicit maps and
// the dotenv file. Used in tests.
func WithoutSystemEnv() Option {
	return func(l *loader) { l.useSystemEnv = false }
}

// WithSecretResolver wires the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(l *loader) { l.resolver = resolver }
}

// WithRequiredSecrets marks config fields, named by their path such as
// "Payments.StripeAPIKey", as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(l *loader) { l.requiredSecrets = append(l.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic instead of returning the
// MissingSecretsError.
func WithPanicOnMissingSecrets() Option {
	return func(l *loader) { l.panicOnMissing = true }
}

func newLoader(opts []Option) loader {
	l := loader{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

// env is the merged key/value view the loader reads from. Precedence is
// explicit map, then system environment, then dotenv file.
type env struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func (l loader) environment() (env, error) {
	dotenv, err := readDotEnv(l.envFile)
	if err != nil {
		return env{}, err
	}
	return env{explicit: l.explicit, system: l.useSystemEnv, dotenv: dotenv}, nil
}

func (e env) get(key string) (string, bool) {
	if v, ok := e.explicit[key]; ok {
		return v, true
	}
	if e.system {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
	}
	v, ok := e.dotenv[key]
	return v, ok
}

func (e env) str(key, fallback string) string {
	if v, ok := e.get(key); ok && v != "" {
		return v
	}
	return fallback
}

func (e env) dur(key string, fallback time.Duration) time.Duration {
	if v, ok := e.get(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func (e env) integer(key string, fallback int) int {
	if v, ok := e.get(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (e env) i64(key string, fallback int64) int64 {
	if v, ok := e.get(key); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func (e env) flag(key string, fallback bool) bool {
	if v, ok := e.get(key); ok && v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

// EnvironmentValues returns the merged key/value map Load would read,
// applying the same precedence. Callers use it to bootstrap
// dependencies, such as the secret fetcher, before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	l := newLoader(opts)
	e, err := l.environment()
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for k, v := range e.dotenv {
		values[k] = v
	}
	if e.system {
		for _, entry := range os.Environ() {
			k, v, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(k) == "" {
				continue
			}
			values[strings.TrimSpace(k)] = v
		}
	}
	for k, v := range e.explicit {
		values[k] = v
	}
	return values, nil
}

// Load assembles the configuration from defaults, the dotenv file, the
// environment and secret references, then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	l := newLoader(opts)
	if l.resolver == nil {
		l.resolver = SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errNoSecretResolver}
		})
	}

	e, err := l.environment()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  e.dur("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: e.dur("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  e.dur("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Environment: strings.ToLower(e.str("API_ENVIRONMENT", defaultEnvironment)),
		Firebase: FirebaseConfig{
			ProjectID:       e.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: e.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:    e.str("API_PUBSUB_PROJECT_ID", ""),
			Topic:        e.str("API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			Subscription: e.str("API_PUBSUB_ORDER_EVENTS_SUBSCRIPTION", defaultOrderEventsSub),
			EmulatorHost: e.str("API_PUBSUB_EMULATOR_HOST", ""),
			PushAudience: e.str("API_PUBSUB_PUSH_AUDIENCE", ""),
		},
		Payments: PaymentsConfig{
			StripeAPIKey:        e.str("API_PAYMENTS_STRIPE_API_KEY", ""),
			StripeWebhookSecret: e.str("API_PAYMENTS_STRIPE_WEBHOOK_SECRET", ""),
		},
		Fees: FeesConfig{
			Currency:          strings.ToUpper(e.str("API_FEES_CURRENCY", defaultCurrency)),
			TaxRatePercent:    e.i64("API_FEES_TAX_RATE_PERCENT", defaultTaxRatePercent),
			PlatformFee:       e.i64("API_FEES_PLATFORM_FEE", defaultPlatformFee),
			ShippingBase:      e.i64("API_FEES_SHIPPING_BASE", defaultShippingBase),
			ShippingDiscount:  e.i64("API_FEES_SHIPPING_DISCOUNT", defaultShippingDiscount),
			CODSurcharge:      e.i64("API_FEES_COD_SURCHARGE", defaultCODSurcharge),
			FreeShippingAbove: e.i64("API_FEES_FREE_SHIPPING_ABOVE", defaultFreeShippingAbove),
		},
		Returns: ReturnsConfig{
			Window: e.dur("API_RETURNS_WINDOW", defaultReturnWindow),
		},
		Stock: StockConfig{
			CheckTimeout: e.dur("API_STOCK_CHECK_TIMEOUT", defaultStockCheckTimeout),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       e.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: e.integer("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
		},
		Features: FeatureFlags{
			EnableGuestCarts: e.flag("API_FEATURE_GUEST_CARTS", true),
			EnableCOD:        e.flag("API_FEATURE_COD", true),
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              e.dur("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.dur("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: e.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Firestore and pub/sub projects default to the Firebase project.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	for _, target := range []struct {
		name  string
		field *string
	}{
		{"Payments.StripeAPIKey", &cfg.Payments.StripeAPIKey},
		{"Payments.StripeWebhookSecret", &cfg.Payments.StripeWebhookSecret},
	} {
		value, err := resolveSecret(ctx, *target.field, l.resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if missing := missingSecrets(l.requiredSecrets, resolved); missing != nil {
		if l.panicOnMissing {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref, ok := secretReference(value)
	if !ok {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errNoSecretResolver}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// secretReference reports whether value is a secret reference and
// returns it in canonical secret:// form. The sm:// alias is accepted
// for backwards compatibility with older deployment manifests.
func secretReference(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(trimmed, "secret://"):
		return trimmed, true
	case strings.HasPrefix(trimmed, "sm://"):
		return "secret://" + strings.TrimPrefix(trimmed, "sm://"), true
	}
	return "", false
}

func (cfg Config) validate() error {
	var bad []string
	require := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(cfg.Fees.Currency != "", "Fees.Currency")
	require(cfg.Fees.TaxRatePercent >= 0 && cfg.Fees.TaxRatePercent <= 100, "Fees.TaxRatePercent")
	require(cfg.Fees.PlatformFee >= 0 && cfg.Fees.ShippingBase >= 0 && cfg.Fees.CODSurcharge >= 0, "Fees")
	require(cfg.Returns.Window > 0, "Returns.Window")
	require(cfg.Stock.CheckTimeout > 0, "Stock.CheckTimeout")
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	require(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}

func missingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(resolved[name]) == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
