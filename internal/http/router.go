// Package httpapi wires the HTTP transport (Gin) to the relay services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// session resolution, idempotency, rate limiting, CORS and security headers.
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

	"github.com/tbourn/go-chat-relay/internal/config"
	"github.com/tbourn/go-chat-relay/internal/http/handlers"
	"github.com/tbourn/go-chat-relay/internal/http/middleware"
	"github.com/tbourn/go-chat-relay/internal/services"
)

// Upstreams are the two webhook clients the relays forward to.
type Upstreams struct {
	Ingest services.Ingester
	Answer services.Answerer
}

var (
	corsAllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsAllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey}
)

// RegisterRoutes attaches all middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: access log with token and password scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (uploads get their own cap plus multipart framing)
//  6. Metrics
//  7. ResolveSession + request-scoped logger: identify the caller when possible
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, up Upstreams, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	authSvc := services.NewAuthService(db, []byte(cfg.Session.Secret), cfg.Session.Issuer, cfg.Session.TTL)
	uploadSvc := &services.UploadService{DB: db, Ingest: up.Ingest, IdempotencyTTL: cfg.IdempotencyTTL}
	askSvc := &services.QuestionService{DB: db, Answer: up.Answer, MaxQuestionRunes: 4000}
	convSvc := &services.ConversationService{DB: db}

	apiBase := cfg.APIBasePath
	uploadRoute := joinPath(apiBase, "/upload")

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"Apikey"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.MaxBodyBytes, map[string]int64{
		uploadRoute: cfg.MaxUploadBytes + handlers.MultipartEnvelopeBytes,
	}))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.ResolveSession(authSvc))
	r.Use(middleware.Logger())

	// Only uploads have a replayable side effect.
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, route, key string, now time.Time) (bool, error) {
			if route != uploadRoute {
				return false, nil
			}
			return uploadSvc.Replayable(ctx, userID, key, now), nil
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	useCORS(r, cfg.CORS.AllowedOrigins)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
		Expose:       middleware.RelayExposedHeaders,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(authSvc, uploadSvc, askSvc, convSvc)
	h.MaxUploadBytes = cfg.MaxUploadBytes

	loginRL := middleware.NewRateLimiter(cfg.LoginRateRPS, cfg.LoginRateBurst, middleware.KeyByIP())

	api := groupWithPrefix(r, apiBase)
	{
		for _, p := range []string{"/login", "/logout", "/me", "/upload", "/uploads", "/ask", "/conversation"} {
			api.OPTIONS(p, preflight)
		}

		api.POST("/login", loginRL.Handler(), h.Login)

		authd := api.Group("", middleware.RequireSession())
		authd.POST("/logout", h.Logout)
		authd.GET("/me", h.Me)

		authd.POST("/upload", h.Upload)
		authd.GET("/uploads", h.ListUploads)

		authd.POST("/ask", h.Ask)
		authd.GET("/conversation", h.ListConversation)
	}
}

// useCORS installs gin-contrib/cors. With no allowlist every origin is
// accepted and Access-Control-Allow-Origin: * is forced even on requests
// without an Origin header, so plain clients see the same headers a browser
// would.
func useCORS(r *gin.Engine, origins []string) {
	conf := cors.Config{
		AllowMethods:     corsAllowMethods,
		AllowHeaders:     corsAllowHeaders,
		ExposeHeaders:    append([]string{"Content-Length"}, middleware.RelayExposedHeaders...),
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		conf.AllowAllOrigins = true
		r.Use(cors.New(conf))
		return
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
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
	conf.AllowOrigins = origins
	r.Use(cors.New(conf))
}

// preflight answers OPTIONS requests that reach the router, i.e. those
// without an Origin header that gin-contrib/cors leaves alone.
func preflight(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key")
	c.Status(http.StatusNoContent)
}

// limitBody caps request bodies with http.MaxBytesReader. Routes listed in
// overrides (by full path) use their own cap instead of def.
func limitBody(def int64, overrides map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		max := def
		if v, ok := overrides[c.FullPath()]; ok {
			max = v
		}
		if max > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
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

// joinPath appends p to a normalized base path.
func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
