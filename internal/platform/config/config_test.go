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
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "bh-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Environment != "local" {
		t.Errorf("expected default environment local, got %s", cfg.Environment)
	}
	if cfg.Firestore.ProjectID != "bh-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "bh-dev" {
		t.Errorf("expected pubsub project to default to firebase project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.Topic != defaultOrderEventsTopic {
		t.Errorf("unexpected default topic: %s", cfg.PubSub.Topic)
	}
	if cfg.Fees.Currency != "INR" {
		t.Errorf("expected default currency INR, got %s", cfg.Fees.Currency)
	}
	if cfg.Fees.TaxRatePercent != 18 {
		t.Errorf("unexpected default tax rate: %d", cfg.Fees.TaxRatePercent)
	}
	if cfg.Returns.Window != 7*24*time.Hour {
		t.Errorf("unexpected default return window: %s", cfg.Returns.Window)
	}
	if cfg.Stock.CheckTimeout != 3*time.Second {
		t.Errorf("unexpected default stock check timeout: %s", cfg.Stock.CheckTimeout)
	}
	if cfg.RateLimits.DefaultPerMinute != 120 {
		t.Errorf("unexpected default rate limit: %d", cfg.RateLimits.DefaultPerMinute)
	}
	if !cfg.Features.EnableGuestCarts {
		t.Errorf("expected guest carts enabled by default")
	}
	if !cfg.Features.EnableCOD {
		t.Errorf("expected cash on delivery enabled by default")
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != defaultIdempotencyInterval {
		t.Errorf("unexpected default cleanup interval: %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                      "9090",
		"API_SERVER_READ_TIMEOUT":              "20s",
		"API_SERVER_WRITE_TIMEOUT":             "25s",
		"API_SERVER_IDLE_TIMEOUT":              "2m",
		"API_ENVIRONMENT":                      "Prod",
		"API_FIREBASE_PROJECT_ID":              "bh-prod",
		"API_FIRESTORE_PROJECT_ID":             "bh-fire",
		"API_PUBSUB_PROJECT_ID":                "bh-events",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":        "orders-prod",
		"API_PUBSUB_ORDER_EVENTS_SUBSCRIPTION": "orders-prod-revenue",
		"API_PAYMENTS_STRIPE_API_KEY":          "secret://stripe/api",
		"API_PAYMENTS_STRIPE_WEBHOOK_SECRET":   "secret://stripe/webhook",
		"API_FEES_CURRENCY":                    "usd",
		"API_FEES_TAX_RATE_PERCENT":            "8",
		"API_FEES_PLATFORM_FEE":                "150",
		"API_FEES_SHIPPING_BASE":               "700",
		"API_FEES_SHIPPING_DISCOUNT":           "200",
		"API_FEES_COD_SURCHARGE":               "300",
		"API_FEES_FREE_SHIPPING_ABOVE":         "10000",
		"API_RETURNS_WINDOW":                   "336h",
		"API_STOCK_CHECK_TIMEOUT":              "1500ms",
		"API_RATELIMIT_DEFAULT_PER_MIN":        "150",
		"API_RATELIMIT_AUTH_PER_MIN":           "300",
		"API_FEATURE_GUEST_CARTS":              "false",
		"API_FEATURE_COD":                      "off",
		"API_IDEMPOTENCY_HEADER":               "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":                  "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL":     "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":        "500",
	}

	secrets := map[string]string{
		"secret://stripe/api":     "stripe-key",
		"secret://stripe/webhook": "stripe-webhook",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errNoSecretResolver}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Environment != "prod" {
		t.Errorf("expected lowered environment prod, got %s", cfg.Environment)
	}
	if cfg.Firestore.ProjectID != "bh-fire" {
		t.Errorf("unexpected firestore project %s", cfg.Firestore.ProjectID)
	}
	if cfg.PubSub.ProjectID != "bh-events" {
		t.Errorf("unexpected pubsub project %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.Topic != "orders-prod" {
		t.Errorf("unexpected topic %s", cfg.PubSub.Topic)
	}
	if cfg.PubSub.Subscription != "orders-prod-revenue" {
		t.Errorf("unexpected subscription %s", cfg.PubSub.Subscription)
	}
	if cfg.Payments.StripeAPIKey != "stripe-key" {
		t.Errorf("expected resolved stripe api key, got %s", cfg.Payments.StripeAPIKey)
	}
	if cfg.Payments.StripeWebhookSecret != "stripe-webhook" {
		t.Errorf("expected resolved stripe webhook secret, got %s", cfg.Payments.StripeWebhookSecret)
	}
	if cfg.Fees.Currency != "USD" {
		t.Errorf("expected upper-cased currency USD, got %s", cfg.Fees.Currency)
	}
	if cfg.Fees.TaxRatePercent != 8 {
		t.Errorf("unexpected tax rate %d", cfg.Fees.TaxRatePercent)
	}
	if cfg.Fees.PlatformFee != 150 {
		t.Errorf("unexpected platform fee %d", cfg.Fees.PlatformFee)
	}
	if cfg.Fees.FreeShippingAbove != 10000 {
		t.Errorf("unexpected free shipping threshold %d", cfg.Fees.FreeShippingAbove)
	}
	if cfg.Returns.Window != 336*time.Hour {
		t.Errorf("unexpected return window %s", cfg.Returns.Window)
	}
	if cfg.Stock.CheckTimeout != 1500*time.Millisecond {
		t.Errorf("unexpected stock check timeout %s", cfg.Stock.CheckTimeout)
	}
	if cfg.Features.EnableGuestCarts {
		t.Errorf("expected guest carts disabled")
	}
	if cfg.Features.EnableCOD {
		t.Errorf("expected cash on delivery disabled")
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute {
		t.Errorf("unexpected cleanup interval %s", cfg.Idempotency.CleanupInterval)
	}
	if cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected cleanup batch size %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=bh-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "bh-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadRejectsInvalidFees(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":   "bh-dev",
		"API_FEES_TAX_RATE_PERCENT": "140",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error for out-of-range tax rate")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	if len(fields) != 1 || fields[0] != "Fees.TaxRatePercent" {
		t.Fatalf("unexpected invalid fields %v", fields)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":     "bh-dev",
		"API_PAYMENTS_STRIPE_API_KEY": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://stripe/api=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
	if got := values["API_SECRET_VERSION_PINS"]; got != "secret://stripe/api=5" {
		t.Fatalf("expected override version pin, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "bh-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Payments.StripeAPIKey"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	got := missing.RedactedNames()
	if len(got) != 1 {
		t.Fatalf("unexpected redacted names %v", got)
	}
	if got[0] == "Payments.StripeAPIKey" || len(got[0]) != 16 {
		t.Fatalf("expected hashed identifier, got %q", got[0])
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "bh-dev",
	}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Payments.StripeAPIKey" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Payments.StripeAPIKey"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":            "bh-dev",
		"API_PAYMENTS_STRIPE_WEBHOOK_SECRET": "sm://stripe/webhook",
	}

	secrets := map[string]string{
		"secret://stripe/webhook": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Payments.StripeWebhookSecret != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Payments.StripeWebhookSecret)
	}
}
