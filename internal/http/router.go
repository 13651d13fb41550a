// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-transcribe-backend/internal/collab"
	"github.com/tbourn/go-transcribe-backend/internal/config"
	"github.com/tbourn/go-transcribe-backend/internal/domain"
	"github.com/tbourn/go-transcribe-backend/internal/http/handlers"
	"github.com/tbourn/go-transcribe-backend/internal/http/middleware"
	"github.com/tbourn/go-transcribe-backend/internal/repo"
	"github.com/tbourn/go-transcribe-backend/internal/services"
	"github.com/tbourn/go-transcribe-backend/internal/suppliers"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), identity resolution,
// idempotency and rate limiting, CORS and security headers, health and metrics
// endpoints, and then mounts the versioned public API under cfg.APIBasePath.
// Supplier callbacks are mounted at the engine root because providers receive
// the full callback URL at dispatch time.
//
// The resolve parameter validates bearer tokens against whatever user store
// the deployment runs; nil means every request is treated as anonymous.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter, response compression
//  6. Metrics
//  7. Identity resolution (before idempotency: the lookup is identity-scoped)
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, resolve middleware.UserResolver, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // project-specific sensitive header example
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB; media never travels through this API,
	// only references to it) and response compression
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Identity resolution (userID/tier/identityKey in context)
	r.Use(middleware.Identity(cfg.IdentitySalt, resolve))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, identityKey, key string, now time.Time) (string, bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, identityKey, key, now)
			if err != nil || rec == nil {
				return "", false, nil
			}
			return rec.JobID, true, nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (off by default)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/config
	h := handlers.New(buildAdmission(db, cfg), &services.JobService{DB: db, Ledger: &services.UsageLedger{DB: db}}, db, cfg.Suppliers.CallbackSecret)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Admission
		api.POST("/transcriptions", h.CreateTranscription)

		// Jobs
		api.GET("/jobs", h.ListJobs)
		api.GET("/jobs/:id", h.GetJob)
		api.DELETE("/jobs/:id", h.CancelJob)
	}

	// Supplier result callbacks (root-mounted; providers get the full URL)
	r.POST("/callbacks/:supplier/:id", h.SupplierCallback)
}

// buildAdmission assembles the admission pipeline from configuration: quota
// gates over the usage ledger, duration/clip policy, the supplier dispatcher,
// and the anonymous-preview verifier.
func buildAdmission(db *gorm.DB, cfg config.Config) *services.AdmissionService {
	ledger := &services.UsageLedger{DB: db}
	tiers := collab.DefaultTierPolicy()

	quota := &services.QuotaEvaluator{
		Ledger: ledger,
		Tiers:  tiers,
		Limits: services.Limits{
			AnonDailyCount:        cfg.Limits.AnonDailyCount,
			AnonMonthlyMinutes:    cfg.Limits.AnonMonthlyMinutes,
			AnonPreviewDailyCount: cfg.Limits.AnonPreviewDailyCount,
			YouTubeMonthlyCount:   cfg.Limits.YouTubeMonthlyCount,
		},
	}

	durations := &services.DurationResolver{
		PreviewLimitSeconds:  cfg.Durations.PreviewLimitSeconds,
		ClipToleranceSeconds: cfg.Durations.ClipToleranceSeconds,
		UploadLimitSeconds: map[domain.Tier]float64{
			domain.TierFree:  cfg.Durations.FreeUploadSeconds,
			domain.TierBasic: cfg.Durations.BasicUploadSeconds,
			domain.TierPro:   cfg.Durations.ProUploadSeconds,
		},
	}

	dispatcher := &suppliers.Dispatcher{
		Premium:        supplierClient("premium", cfg.Suppliers.Premium, cfg.Suppliers.Timeout),
		Standard:       supplierClient("standard", cfg.Suppliers.Standard, cfg.Suppliers.Timeout),
		LocalFallback:  cfg.Suppliers.LocalFallback,
		CallbackBase:   cfg.Suppliers.CallbackBase,
		CallbackSecret: cfg.Suppliers.CallbackSecret,
		Timeout:        cfg.Suppliers.Timeout,
	}

	verifier := &collab.BotVerifier{
		SessionSecret:   cfg.Verify.SessionSecret,
		SessionTTL:      cfg.Verify.SessionTTL,
		ChallengeURL:    cfg.Verify.ChallengeURL,
		ChallengeSecret: cfg.Verify.ChallengeSecret,
		HTTP:            &http.Client{Timeout: 5 * time.Second},
	}

	var rewriter services.StorageRewriter
	if cfg.Storage.CDNPrefix != "" {
		rewriter = &collab.PrefixRewriter{
			OriginPrefix: cfg.Storage.OriginPrefix,
			CDNPrefix:    cfg.Storage.CDNPrefix,
		}
	}

	return &services.AdmissionService{
		Quota:      quota,
		Durations:  durations,
		Jobs:       &services.JobService{DB: db, Ledger: ledger},
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Verifier:   verifier,
		Tiers:      tiers,
		Rewriter:   rewriter,
		Deadline:   cfg.AdmissionDeadline,
	}
}

// supplierClient builds a provider client; unconfigured providers yield a
// client that reports !Configured() and is skipped by route selection.
func supplierClient(name string, sc config.SupplierConfig, timeout time.Duration) *suppliers.Client {
	return &suppliers.Client{
		Name:          name,
		Endpoint:      sc.Endpoint,
		Token:         sc.Token,
		SignCallbacks: sc.SignCallbacks,
		HTTP:          &http.Client{Timeout: timeout},
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
