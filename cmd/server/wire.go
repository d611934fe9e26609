package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clubadmin/internal/admin/activity"
	"clubadmin/internal/admin/email"
	"clubadmin/internal/admin/guard"
	"clubadmin/internal/admin/handler"
	"clubadmin/internal/admin/identity"
	"clubadmin/internal/admin/models"
	"clubadmin/internal/admin/session"
	"clubadmin/internal/admin/token"
	"clubadmin/internal/admin/workers/cleanup"
	"clubadmin/internal/admin/workers/connectivity"
	"clubadmin/internal/docstore"
	jwttoken "clubadmin/internal/jwt_token"
	"clubadmin/internal/kv"
	"clubadmin/internal/platform/config"
	"clubadmin/internal/platform/database"
	"clubadmin/internal/platform/health"
	"clubadmin/internal/platform/metrics"
	"clubadmin/internal/platform/nethealth"
	"clubadmin/internal/platform/redis"
	"clubadmin/internal/platform/sqlite"
	"clubadmin/internal/platform/tracer"
	"clubadmin/internal/resilient"
	"clubadmin/migrations"
)

const (
	callbackPath            = "/admin/auth/callback"
	clientIssuer            = "clubadmin"
	volatileTTL             = 24 * time.Hour
	reachabilityHTTPTimeout = 10 * time.Second
)

// stores holds the remote document store and the local key-value stores.
// Durable state (sessions, fallback records) lives in SQLite; per-tab
// volatile state lives in Redis when configured.
type stores struct {
	remote   docstore.Store
	durable  kv.Store
	volatile kv.Store

	pool  *database.Pool
	redis *redis.Client
	local *sql.DB
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*stores, error) {
	s := &stores{}

	pool, err := database.New(ctx, database.DefaultConfig(cfg.Store.DatabaseURL))
	switch {
	case pool == nil && err != nil:
		return nil, err
	case pool == nil:
		log.Warn("DATABASE_URL not set; using an in-memory remote store")
		s.remote = docstore.NewInMemory()
	default:
		if err != nil {
			log.Warn("remote store unreachable at startup; serving from local fallback", "error", err)
		} else if err := migrations.Up(ctx, pool.DB()); err != nil {
			pool.Close() //nolint:errcheck // best-effort cleanup on init failure
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		s.pool = pool
		s.remote = docstore.NewPostgres(pool.DB())
	}

	local, err := sqlite.Open(ctx, cfg.Store.LocalStorePath)
	if err != nil {
		s.Close(log)
		return nil, err
	}
	s.local = local
	durable, err := kv.NewSQLite(ctx, local)
	if err != nil {
		s.Close(log)
		return nil, fmt.Errorf("init local store: %w", err)
	}
	s.durable = durable

	rc, err := redis.New(ctx, cfg.Store.RedisURL)
	if err != nil {
		s.Close(log)
		return nil, err
	}
	if rc != nil {
		s.redis = rc
		s.volatile = kv.NewRedis(rc.Client, volatileTTL)
		log.Info("redis connected for tab state")
	} else {
		s.volatile = kv.NewInMemory()
	}
	return s, nil
}

func (s *stores) Close(log *slog.Logger) {
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Error("failed to close redis", "error", err)
		}
	}
	if s.local != nil {
		if err := s.local.Close(); err != nil {
			log.Error("failed to close local store", "error", err)
		}
	}
}

type app struct {
	handler      *handler.Handler
	health       *health.Handler
	registry     *session.Registry
	cleanup      *cleanup.CleanupService
	connectivity *connectivity.Monitor
}

func buildApp(cfg config.Config, st *stores, m *metrics.Metrics, log *slog.Logger) (*app, error) {
	netHealth := nethealth.New()
	netHealth.OnChange(func(degraded bool) {
		if degraded {
			log.Warn("remote store degraded; writes go to local fallback")
		} else {
			log.Info("remote store available again")
		}
	})

	adapter := resilient.New(st.remote, st.durable, netHealth,
		resilient.WithLogger(log),
		resilient.WithMetrics(m),
		resilient.WithTracer(tracer.NewOTel()),
		resilient.WithRetry(cfg.Store.RetryAttempts, cfg.Store.RetryBaseDelay),
		resilient.WithReachabilityChecks(&http.Client{Timeout: reachabilityHTTPTimeout}, cfg.Store.ReachabilityEndpoints, cfg.Store.ReachabilityTimeout),
	)

	tokens, err := buildTokenService(cfg, adapter, m, log)
	if err != nil {
		return nil, err
	}

	cfgSession := session.Config{
		AllowList:      cfg.Admin.AllowList,
		Permissions:    cfg.Admin.Permissions,
		SessionTimeout: cfg.Admin.SessionTimeout,
		CheckInterval:  cfg.Admin.SessionCheckInterval,
	}
	factory := session.NewFactory(session.Shared{
		Providers: buildProviders(cfg, log),
		Tokens:    tokens,
		Profiles:  adapter,
		Durable:   st.durable,
		Volatile:  st.volatile,
		Health:    netHealth,
		Activity:  activity.New(adapter, activity.WithLogger(log)),
	}, cfgSession, session.WithLogger(log), session.WithMetrics(m))
	registry := session.NewRegistry(factory,
		session.WithRegistryLogger(log),
		session.WithRegistryMetrics(m),
	)

	gate := guard.New(
		guard.WithDevBypass(cfg.Admin.DevMode),
		guard.WithLoginURL(cfg.Server.LoginPageURL),
		guard.WithLogger(log),
	)
	clients := jwttoken.NewClientTokenService(cfg.Server.ClientSigningKey, clientIssuer)
	h := handler.New(registry, gate, clients, adapter, netHealth,
		handler.WithLogger(log),
		handler.WithResendCooldown(cfg.Admin.ResendCooldown),
		handler.WithMaxUIAttempts(cfg.Admin.UIMaxVerifyAttempts),
		handler.WithLoginPageURL(cfg.Server.LoginPageURL),
	)

	healthHandler := health.New(environment(cfg), netHealth.Mode)
	healthHandler.RegisterOptionalCheck("remote_store", st.remote.Health)
	if st.redis != nil {
		healthHandler.RegisterOptionalCheck("redis", st.redis.Health)
	}
	if st.local != nil {
		healthHandler.RegisterCheck("local_store", st.local.PingContext)
	}

	cleaner, err := cleanup.New(st.remote, st.durable,
		cleanup.WithCleanupInterval(cfg.Store.CleanupInterval),
		cleanup.WithCleanupLogger(log),
		cleanup.WithCleanupMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	monitor, err := connectivity.New(st.remote, adapter, netHealth,
		connectivity.WithInterval(cfg.Store.ConnectivityInterval),
		connectivity.WithLogger(log),
		connectivity.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	return &app{
		handler:      h,
		health:       healthHandler,
		registry:     registry,
		cleanup:      cleaner,
		connectivity: monitor,
	}, nil
}

func buildTokenService(cfg config.Config, adapter *resilient.Adapter, m *metrics.Metrics, log *slog.Logger) (*token.Service, error) {
	hasher, err := token.NewHasher(cfg.Token.Hash)
	if err != nil {
		return nil, err
	}

	var sender email.Sender
	if cfg.EmailConfigured() {
		opts := []email.Web3FormsOption{
			email.WithEndpoint(cfg.Email.Endpoint),
			email.WithSenderLogger(log),
		}
		if cfg.Email.ReplyTo != "" {
			opts = append(opts, email.WithReplyTo(cfg.Email.ReplyTo))
		}
		sender = email.NewWeb3Forms(cfg.Email.AccessKey, opts...)
	} else {
		log.Warn("email delivery not configured; sign-in codes are written to the log")
		sender = email.NewLogSender(log)
	}

	opts := []token.Option{
		token.WithHasher(hasher),
		token.WithExpiry(cfg.Token.Expiry),
		token.WithLogger(log),
		token.WithMetrics(m),
		token.WithTracer(tracer.NewOTel()),
	}
	if cfg.Token.Mode == config.TokenModeStatic {
		opts = append(opts, token.WithStaticToken(cfg.Token.StaticToken))
	}
	return token.New(adapter, sender, opts...)
}

func buildProviders(cfg config.Config, log *slog.Logger) identity.Factory {
	if cfg.Identity.GoogleClientID != "" {
		return identity.GoogleFactory(identity.GoogleConfig(
			cfg.Identity.GoogleClientID,
			cfg.Identity.GoogleClientSecret,
			cfg.Identity.GoogleRedirectURL,
		))
	}

	devEmail := cfg.Identity.DevEmail
	if devEmail == "" {
		devEmail = "admin@localhost"
	}
	devName := cfg.Identity.DevName
	if devName == "" {
		devName = email.DeriveName(devEmail)
	}
	log.Warn("google sign-in not configured; using the static dev identity", "email", devEmail)
	return identity.StaticFactory(models.AdminIdentity{
		UID:         "dev-" + strings.ReplaceAll(models.NormalizeEmail(devEmail), "@", "-"),
		Email:       devEmail,
		DisplayName: devName,
	}, callbackPath)
}

func environment(cfg config.Config) string {
	if cfg.Admin.DevMode {
		return "development"
	}
	return "production"
}
