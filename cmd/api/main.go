package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/ME-sdeo/me3-zam0pf-sub003/internal/api/http"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/api/http/handlers"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/auth"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/cache"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/config"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/events"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/ledger"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/observability"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/persistence"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/repository/memstore"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/security"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/service"
	"github.com/ME-sdeo/me3-zam0pf-sub003/internal/worker"
)

type repositories struct {
	users         repository.UserRepository
	companies     repository.CompanyRepository
	consents      repository.ConsentRepository
	audit         repository.AuditRepository
	notifications repository.NotificationRepository
	profiles      repository.ProfileRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Pool != nil && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.Pool, cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	repos := buildRepositories(pg, logger)

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)

	ledgerGuard := ledger.NewGuard(buildLedger(cfg.Ledger, logger), ledger.GuardConfigFrom(cfg.Ledger), logger, metrics)

	authService := service.NewAuthService(cfg.Auth, repos.users, logger)
	consentService := service.NewConsentService(service.ConsentDependencies{
		ConsentRepo:       repos.consents,
		UserRepo:          repos.users,
		CompanyRepo:       repos.companies,
		Ledger:            ledgerGuard,
		Cache:             cache.NewRedisCache(redis.Client, "consent"),
		CacheTTL:          cfg.Cache.TTL(),
		Dispatcher:        dispatcher,
		Metrics:           metrics,
		Logger:            logger,
		ExpiryConcurrency: cfg.Expiry.Concurrency,
	})
	companyService := service.NewCompanyService(repos.companies, repos.users, authService, logger)
	auditService := service.NewAuditService(repos.audit, logger)
	profileService := service.NewProfileService(repos.profiles, buildCipher(cfg.Profile, logger), auditService, logger)
	notificationService := service.NewNotificationService(cfg.Notification, service.NotificationDependencies{
		NotificationRepo: repos.notifications,
		CompanyRepo:      repos.companies,
		Dispatcher:       dispatcher,
		Logger:           logger,
	})

	authorizer, err := auth.NewAuthorizer(auth.DefaultPolicy, logger)
	if err != nil {
		logger.Fatal("failed to build authorizer", zap.Error(err))
	}
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), repos.users)

	worker.StartNotificationWorker(ctx, notificationService)
	go worker.NewExpiryWorker(consentService, cfg.Expiry, logger).Run(ctx)

	var limiterStorage fiber.Storage
	if err := redis.Ping(ctx); err == nil {
		limiterStorage = cache.NewFiberStorage(redis.Client, "limiter")
	} else {
		logger.Warn("rate limiter falling back to in-process counters", zap.Error(err))
	}

	deps := map[string]handlers.Pinger{"redis": redis, "postgres": nil}
	if pg.Pool != nil {
		deps["postgres"] = pg
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true, Immutable: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps, ledgerGuard.State),
		Users:          handlers.NewUsersHandler(authService, profileService),
		Consents:       handlers.NewConsentsHandler(consentService),
		Companies:      handlers.NewCompaniesHandler(companyService),
		Notifications:  handlers.NewNotificationsHandler(notificationService),
		Audit:          handlers.NewAuditHandler(auditService),
		AuthMiddleware: authMiddleware,
		Authorizer:     authorizer,
		RateLimit:      httptransport.NewRateLimiter(cfg.RateLimit, limiterStorage),
		AuditTrail:     httptransport.AuditTrail(auditService),
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	cancel()

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func buildRepositories(pg *persistence.Postgres, logger *zap.Logger) repositories {
	if pg.Pool == nil {
		logger.Warn("using in-memory repositories; data is lost on restart")
		store := memstore.New()
		return repositories{
			users:         store.Users(),
			companies:     store.Companies(),
			consents:      store.Consents(),
			audit:         store.Audit(),
			notifications: store.Notifications(),
			profiles:      store.Profiles(),
		}
	}
	return repositories{
		users:         repository.NewUserRepository(pg.Pool),
		companies:     repository.NewCompanyRepository(pg.Pool),
		consents:      repository.NewConsentRepository(pg.Pool),
		audit:         repository.NewAuditRepository(pg.Pool),
		notifications: repository.NewNotificationRepository(pg.Pool),
		profiles:      repository.NewProfileRepository(pg.Pool),
	}
}

func buildLedger(cfg config.LedgerConfig, logger *zap.Logger) ledger.Appender {
	if cfg.URL == "" {
		logger.Warn("LEDGER_URL not set; recording consent events in an in-process ledger")
		return ledger.NewMemoryLedger()
	}
	return ledger.NewHTTPClient(cfg.URL, cfg.APIKey, &http.Client{Timeout: cfg.CallTimeout()})
}

func buildCipher(cfg config.ProfileConfig, logger *zap.Logger) *security.FieldCipher {
	key, err := cfg.EncryptionKey()
	if err != nil {
		logger.Fatal("profile encryption key", zap.Error(err))
	}
	if key == nil {
		logger.Warn("PROFILE_ENCRYPTION_KEY not set; generating an ephemeral key")
		key, err = security.RandomKey()
		if err != nil {
			logger.Fatal("profile encryption key", zap.Error(err))
		}
	}
	cipher, err := security.NewFieldCipher(key)
	if err != nil {
		logger.Fatal("profile encryption key", zap.Error(err))
	}
	return cipher
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
