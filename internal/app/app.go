package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/forkful/gateway/internal/handler"
	"github.com/forkful/gateway/internal/mailer"
	"github.com/forkful/gateway/internal/proxy"
	"github.com/forkful/gateway/internal/session"
	"github.com/forkful/gateway/internal/signedkey"
	"github.com/forkful/gateway/internal/storage/postgres"
	"github.com/forkful/gateway/pkg/health"
	"github.com/forkful/gateway/pkg/httpmiddleware"
	"github.com/forkful/gateway/pkg/slidingwindow"
)

// tokenJanitorInterval paces the purge of expired refresh and action tokens.
const tokenJanitorInterval = time.Hour

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the gateway.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Repositories. The token repository carries a bloom filter that must be
	// warmed from the live table before serving traffic.
	userRepo := postgres.NewUserRepository(pool)
	tokenRepo := postgres.NewTokenRepository(pool)
	actionRepo := postgres.NewActionTokenRepository(pool)
	if err := tokenRepo.Warm(ctx); err != nil {
		return errors.Wrap(err, "warm token filter")
	}
	go runTokenJanitor(ctx, tokenRepo)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Trust layer.
	codec := signedkey.New([]byte(cfg.KeySecret))
	mail := mailer.New(cfg.Services.MailURL, cfg.InternalKey, cfg.Proxy.MailTimeout)
	issuer := session.NewIssuer(session.IssuerConfig{
		JWTSecret: []byte(cfg.JWTSecret),
		JWTTTL:    cfg.JWTTTL,
	}, userRepo, tokenRepo, actionRepo, mail)

	// Proxy layer.
	forwarder := proxy.NewForwarder(cfg.InternalKey, cfg.Proxy.Timeout)
	hydrator := proxy.NewHydrator(cfg.Services.UserURL, cfg.InternalKey, cfg.Proxy.Timeout)

	h := handler.New(handler.Config{
		GatewaySecret:   cfg.GatewaySecret,
		SignedKeyMaxAge: cfg.KeyMaxAge,
		JWTSecret:       []byte(cfg.JWTSecret),
		UserServiceURL:  cfg.Services.UserURL,
	}, codec, issuer, forwarder, hydrator)

	// Sliding-window limiter classes, shared across their route groups.
	strict := slidingwindow.New(cfg.RateLimit.Strict.Max, cfg.RateLimit.Strict.Window)
	strict.StartCleanup(ctx)
	moderate := slidingwindow.New(cfg.RateLimit.Moderate.Max, cfg.RateLimit.Moderate.Window)
	moderate.StartCleanup(ctx)
	strictLimit := httpmiddleware.RateLimitWith(strict, httpmiddleware.ClientIP)
	moderateLimit := httpmiddleware.RateLimitWith(moderate, httpmiddleware.ClientIP)

	upstreams := map[string]string{
		"recipes":  cfg.Services.RecipeURL,
		"users":    cfg.Services.UserURL,
		"media":    cfg.Services.MediaURL,
		"mail":     cfg.Services.MailURL,
		"realtime": cfg.Services.RealtimeURL,
	}

	// Everything under /api/ sits behind the perimeter gate; the probe
	// endpoints stay open for the orchestrator.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", httpmiddleware.Wrap(apiRoutes(h, upstreams, cfg, strictLimit, moderateLimit),
		h.PerimeterGate(),
	))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Proxy.Timeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "x-gateway-api-key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		), "gateway",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// apiRoutes builds the routing table behind the perimeter gate.
func apiRoutes(h *handler.Handler, upstreams map[string]string, cfg *Config, strictLimit, moderateLimit httpmiddleware.Middleware) http.Handler {
	requireSession := h.RequireSession()

	mux := http.NewServeMux()

	// Session lifecycle. Credential endpoints take the strict class, token
	// churn the moderate class.
	mux.Handle("POST /api/auth/register", strictLimit(http.HandlerFunc(h.Register)))
	mux.Handle("POST /api/auth/login", strictLimit(http.HandlerFunc(h.Login)))
	mux.Handle("POST /api/auth/forgot-password", strictLimit(http.HandlerFunc(h.ForgotPassword)))
	mux.Handle("POST /api/auth/reset-password", strictLimit(http.HandlerFunc(h.ResetPassword)))
	mux.Handle("POST /api/auth/refresh", moderateLimit(http.HandlerFunc(h.Refresh)))
	mux.Handle("POST /api/auth/verify", moderateLimit(http.HandlerFunc(h.VerifyEmail)))
	mux.Handle("POST /api/auth/logout", http.HandlerFunc(h.Logout))

	// Aggregate upstream health.
	mux.Handle("GET /api/health", h.AggregateHealth(upstreams))

	// Recipe service. Reads are public behind the perimeter and hydrated
	// with owner entities; writes require a session.
	recipes := h.ProxyTo(cfg.Services.RecipeURL, true)
	mux.Handle("GET /api/recipes", recipes)
	mux.Handle("GET /api/recipes/", recipes)
	mux.Handle("POST /api/recipes", requireSession(recipes))
	mux.Handle("POST /api/recipes/", requireSession(recipes))
	mux.Handle("PUT /api/recipes/", requireSession(recipes))
	mux.Handle("DELETE /api/recipes/", requireSession(recipes))

	// Remaining recipe-service surfaces. Comment listings are hydrated like
	// recipes; the personal collections are session-scoped end to end.
	comments := h.ProxyTo(cfg.Services.RecipeURL, true)
	mux.Handle("GET /api/comments/", comments)
	mux.Handle("POST /api/comments/", requireSession(comments))
	mux.Handle("DELETE /api/comments/", requireSession(comments))
	plain := h.ProxyTo(cfg.Services.RecipeURL, false)
	mux.Handle("/api/collections/", requireSession(plain))
	mux.Handle("/api/shopping-lists/", requireSession(plain))
	mux.Handle("/api/meal-plans/", requireSession(plain))

	// User service. Account deletion is handled locally first so every
	// session dies with the account.
	users := h.ProxyTo(cfg.Services.UserURL, false)
	mux.Handle("GET /api/users/", users)
	mux.Handle("GET /api/profiles/", users)
	mux.Handle("PUT /api/users/", requireSession(users))
	mux.Handle("PUT /api/profiles/", requireSession(users))
	mux.Handle("DELETE /api/users/me", requireSession(http.HandlerFunc(h.DeleteAccount)))

	// Media service. Upload parts are re-encoded with a bounded in-memory
	// buffer per file part.
	mux.Handle("POST /api/media/upload", requireSession(moderateLimit(h.UploadTo(cfg.Services.MediaURL, true))))
	mux.Handle("GET /api/media/", h.ProxyTo(cfg.Services.MediaURL, false))

	// Realtime service. Notification reads are token-churn traffic, so they
	// draw from the moderate class.
	mux.Handle("/api/notifications/", moderateLimit(h.ProxyTo(cfg.Services.RealtimeURL, false)))

	return mux
}

// runTokenJanitor periodically purges expired refresh tokens.
func runTokenJanitor(ctx context.Context, tokens *postgres.TokenRepository) {
	ticker := time.NewTicker(tokenJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := tokens.DeleteExpired(ctx, time.Now())
			if err != nil {
				zctx.From(ctx).Error("Purge expired tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				zctx.From(ctx).Info("Purged expired tokens", zap.Int64("count", n))
			}
		}
	}
}
