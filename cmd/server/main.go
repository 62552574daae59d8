package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "cmsapi/docs" // swagger docs

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"cmsapi/internal/acl"
	"cmsapi/internal/auth"
	"cmsapi/internal/cache"
	"cmsapi/internal/config"
	"cmsapi/internal/db"
	"cmsapi/internal/handler"
	"cmsapi/internal/logging"
	"cmsapi/internal/mail"
	"cmsapi/internal/metrics"
	"cmsapi/internal/middleware"
	"cmsapi/internal/recovery"
	"cmsapi/internal/repository"
	"cmsapi/internal/router"
	"cmsapi/internal/service"
	"cmsapi/internal/settings"
)

// @title CMS API
// @version 1.0
// @description CMS authentication, ACL and settings API with cookie or bearer JWT sessions.
// @host localhost:8080
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name token
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "server")

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		log.WithError(err).Fatal("database init")
	}

	// Drop tables if RESET_DB environment variable is set
	if os.Getenv("RESET_DB") == "true" {
		log.Warn("RESET_DB=true detected, dropping all tables")
		if err := db.Reset(gormDB); err != nil {
			log.WithError(err).Fatal("reset database")
		}
	}
	if err := db.Migrate(gormDB); err != nil {
		log.WithError(err).Fatal("migrate")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	// Initialize repositories
	userRepo := repository.NewUserRepository(gormDB)
	roleRepo := repository.NewRoleRepository(gormDB)
	settingRepo := repository.NewSettingRepository(gormDB)

	// Initialize auth components
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.TokenTTL)
	aclCache := acl.NewCache(roleRepo, cfg.CacheTTL, logging.Component(logger, "acl"))
	guard := acl.NewGuard(aclCache)

	settingsCache := settings.NewCache(settingRepo, cfg.CacheTTL, logging.Component(logger, "settings"))
	settingsService := settings.NewService(settingRepo, settingsCache, logging.Component(logger, "settings"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := settingsService.Refresh(ctx); err != nil {
		log.WithError(err).Warn("initial settings load failed, will retry on first use")
	}
	if _, err := aclCache.Get(ctx); err != nil {
		log.WithError(err).Warn("initial acl load failed, will retry on first use")
	}

	store, rdb, closeStore := newRecoveryStore(ctx, cfg, log)
	defer closeStore()

	mailLog := logging.Component(logger, "mail")
	smtpMailer := mail.New(mail.SMTPConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		FromAddress: cfg.MailFrom,
	}, mailLog)
	var mailer *mail.QueuedMailer
	if rdb != nil {
		mailer = mail.NewRedisQueue(smtpMailer, rdb.Redis(), mail.DefaultQueueSize, mailLog)
	} else {
		mailer = mail.NewMemoryQueue(smtpMailer, mail.DefaultQueueSize, mailLog)
	}
	go mailer.Run(ctx)

	flow := recovery.NewFlow(store, userRepo, mailer, logging.Component(logger, "recovery"))

	// Initialize services
	authService := service.NewAuthService(userRepo, roleRepo, jwtService, cfg.DefaultRole)

	e := echo.New()
	e.HideBanner = true

	// Register routes
	router.Register(e, router.Deps{
		Session: middleware.Session(middleware.SessionConfig{
			JWT:   jwtService,
			Users: userRepo,
			Log:   logging.Component(logger, "session"),
			Debug: cfg.AuthDebug,
		}),
		Guard:       guard,
		RateLimiter: middleware.NewRateLimiter(settingsCache, logging.Component(logger, "ratelimit")),
		Gatherer:    registry,
		Log:         logging.Component(logger, "http"),
		IPExtractor: router.ClientIP(cfg.TrustProxy),
	}, router.Handlers{
		Auth:     handler.NewAuthHandler(authService, jwtService, cfg.IsProduction()),
		Recovery: handler.NewRecoveryHandler(flow),
		Settings: handler.NewSettingsHandler(settingsService),
		ACL:      handler.NewACLHandler(aclCache),
	})

	swaggerURL := "http://localhost:" + cfg.ServerPort + "/swagger/index.html"
	if cfg.SwaggerHost != "" {
		swaggerURL = strings.TrimSuffix(cfg.SwaggerHost, "/") + "/swagger/index.html"
		if !strings.HasPrefix(swaggerURL, "http://") && !strings.HasPrefix(swaggerURL, "https://") {
			swaggerURL = "http://" + swaggerURL
		}
	}
	log.WithField("url", swaggerURL).Info("swagger documentation available")

	go func() {
		addr := ":" + cfg.ServerPort
		log.WithField("addr", addr).Info("server starting")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server start")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
}

// newRecoveryStore also returns the redis client when one backs the store, so the mail queue can share it.
func newRecoveryStore(ctx context.Context, cfg *config.Config, log *logrus.Entry) (recovery.Store, *cache.Client, func()) {
	if cfg.RecoveryBackend != "redis" {
		return recovery.NewMemoryStore(recovery.CodeTTL, recovery.RequestCooldown), nil, func() {}
	}
	client := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err := client.Ping(ctx); err != nil {
		log.WithError(err).Fatal("redis unavailable for recovery sessions")
	}
	log.WithField("addr", cfg.RedisAddr).Info("recovery sessions and mail queue stored in redis")
	store := recovery.NewRedisStore(client, recovery.CodeTTL, recovery.RequestCooldown)
	return store, client, func() { _ = client.Close() }
}
