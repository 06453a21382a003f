package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bazaarhub/api/internal/di"
	"github.com/bazaarhub/api/internal/handlers"
	"github.com/bazaarhub/api/internal/payments"
	"github.com/bazaarhub/api/internal/platform/auth"
	"github.com/bazaarhub/api/internal/platform/config"
	pfirestore "github.com/bazaarhub/api/internal/platform/firestore"
	"github.com/bazaarhub/api/internal/platform/idempotency"
	"github.com/bazaarhub/api/internal/platform/jobs"
	"github.com/bazaarhub/api/internal/platform/observability"
	"github.com/bazaarhub/api/internal/platform/secrets"
	"github.com/bazaarhub/api/internal/repositories"
	firestoreRepo "github.com/bazaarhub/api/internal/repositories/firestore"
	"github.com/bazaarhub/api/internal/services"
)

const (
	googleJWKSURL    = "https://www.googleapis.com/oauth2/v3/certs"
	googleOIDCIssuer = "https://accounts.google.com"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		os.Stderr.WriteString("failed to initialise logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	healthRepo, err := newHealthRepository(firestoreClient, fetcher)
	if err != nil {
		logger.Fatal("failed to assemble health checks", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	eventLogger := zapEventLogger(logger.Named("services"))

	var paymentGateway services.PaymentProvider
	if key := strings.TrimSpace(cfg.Payments.StripeAPIKey); key != "" {
		gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey: key,
			Logger: zapEventLogger(logger.Named("payments")),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
		}
		paymentGateway = gateway
	} else {
		logger.Warn("stripe api key not configured; prepaid checkout is disabled")
	}

	var orderEvents services.OrderEventPublisher
	var pubsubClient *pubsub.Client
	var orderEventsSub *pubsub.Subscription
	if projectID := strings.TrimSpace(cfg.PubSub.ProjectID); projectID != "" {
		if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" && os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
			_ = os.Setenv("PUBSUB_EMULATOR_HOST", host)
		}
		pubsubClient, err = pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		topic := pubsubClient.Topic(cfg.PubSub.Topic)
		defer topic.Stop()
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		orderEvents = publisher

		if sub := strings.TrimSpace(cfg.PubSub.Subscription); sub != "" {
			orderEventsSub = pubsubClient.Subscription(sub)
		}
	} else {
		logger.Warn("pubsub project not configured; order events are disabled")
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.ContainerDeps{
		Payments: paymentGateway,
		Events:   orderEvents,
		Build:    buildInfo,
		Logger:   eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to assemble service container", zap.Error(err))
	}

	listenerCtx, listenerCancel := context.WithCancel(context.Background())
	var listenerWG sync.WaitGroup
	if orderEventsSub != nil {
		listener, err := jobs.NewOrderEventListener(jobs.OrderEventListenerDeps{
			Subscription: orderEventsSub,
			Revenue:      container.Services.Revenue,
			Logger:       zapEventLogger(logger.Named("orderevents")),
		})
		if err != nil {
			logger.Fatal("failed to initialise order event listener", zap.Error(err))
		}
		listenerWG.Add(1)
		go func() {
			defer listenerWG.Done()
			if err := listener.Run(listenerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("order event listener stopped", zap.Error(err))
			}
		}()
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			sweepLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					sweepCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(sweepCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					switch {
					case err != nil:
						sweepLogger.Error("expired key sweep failed", zap.Error(err))
					case removed > 0:
						sweepLogger.Info("swept expired idempotency keys", zap.Int("removed", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	cartHandlers := handlers.NewCartHandlers(authenticator, container.Services.Cart)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, container.Services.Checkout)
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders)
	returnHandlers := handlers.NewReturnHandlers(authenticator, container.Services.Returns)
	sellerHandlers := handlers.NewSellerHandlers(authenticator, container.Services.Revenue)
	adminCouponHandlers := handlers.NewAdminCouponHandlers(authenticator, container.Services.CouponAdmin)
	internalHandlers := handlers.NewInternalHandlers(authenticator, container.Services.System)
	pushHandlers := handlers.NewOrderEventPushHandlers(container.Services.Revenue)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		handlers.RateLimitMiddleware(cfg.RateLimits.DefaultPerMinute, cfg.RateLimits.AuthenticatedPerMinute),
	}

	pushMiddleware := buildPushMiddleware(logger.Named("auth"), cfg)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithCheckoutMiddlewares(idempotencyMiddleware),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithReturnRoutes(returnHandlers.Routes),
		handlers.WithSellerRoutes(sellerHandlers.Routes),
		handlers.WithAdminRoutes(adminCouponHandlers.Routes),
		handlers.WithInternalRoutes(func(r chi.Router) {
			r.Group(internalHandlers.Routes)
			if pushMiddleware != nil {
				r.Group(func(g chi.Router) {
					g.Use(pushMiddleware)
					pushHandlers.Routes(g)
				})
			}
		}),
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("bazaarhub api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	listenerCancel()
	listenerWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newHealthRepository probes the dependencies the API cannot serve without.
func newHealthRepository(client *firestore.Client, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	var checks []repositories.DependencyCheck
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				// Listing collections is the cheapest authenticated call.
				if _, err := c.Collections(ctx).Next(); !errors.Is(err, iterator.Done) {
					return err
				}
				return nil
			},
		})
	}
	if fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				// The probe secret need not exist; NotFound still proves
				// the service is reachable and credentials work.
				_, err := fetcher.Resolve(ctx, "secret://system/healthz?version=latest")
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

// buildPushMiddleware guards the Pub/Sub push delivery endpoint with Google
// OIDC token verification. Returns nil when push delivery is not configured,
// in which case the route is never registered.
func buildPushMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(cfg.PubSub.PushAudience)
	if audience == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(googleJWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(adapter))

	return validator.RequireOIDC(audience, []string{googleOIDCIssuer})
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}

// newSecretFetcher builds the Secret Manager fetcher before config.Load
// runs, since loading itself resolves secret references.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(env[key]); v != "" {
			return v
		}
		return fallback
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(strings.ToLower(get("API_ENVIRONMENT", "local"))),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(get("API_SECRET_FALLBACK_FILE", ".secrets.local")),
	}
	if projects := secretProjectMapFromEnv(env); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if project := get("API_SECRET_DEFAULT_PROJECT_ID", get("API_FIREBASE_PROJECT_ID", "")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if creds := get("API_FIREBASE_CREDENTIALS_FILE", ""); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// secretProjectMapFromEnv parses API_SECRET_PROJECT_IDS, a comma list
// of env=project pairs such as "prod=bh-prod,staging=bh-staging".
func secretProjectMapFromEnv(env map[string]string) map[string]string {
	projects := make(map[string]string)
	for _, pair := range strings.Split(env["API_SECRET_PROJECT_IDS"], ",") {
		label, project, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		label = strings.ToLower(strings.TrimSpace(label))
		project = strings.TrimSpace(project)
		if label != "" && project != "" {
			projects[label] = project
		}
	}
	return projects
}
