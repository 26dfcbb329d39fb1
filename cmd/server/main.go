// Command server runs the chat relay HTTP API.
//
//	@title						Chat Relay API
//	@version					1.0
//	@description				Upload-gated chat relay in front of an ingestion webhook and an answering webhook.
//	@BasePath					/
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				"Bearer <token>" as returned by /login.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-relay/docs"
	"github.com/tbourn/go-chat-relay/internal/config"
	httpapi "github.com/tbourn/go-chat-relay/internal/http"
	"github.com/tbourn/go-chat-relay/internal/observability"
	"github.com/tbourn/go-chat-relay/internal/repo"
	"github.com/tbourn/go-chat-relay/internal/sysutil"
	"github.com/tbourn/go-chat-relay/internal/webhook"
)

var version = "dev"

const cleanupEvery = 10 * time.Minute

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	sysutil.InitLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}

	target := cfg.DBPath
	if cfg.DBDriver == "postgres" {
		target = cfg.DBDSN
	}
	db, err := repo.OpenDB(cfg.DBDriver, target)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open record store")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	docs.SwaggerInfo.Version = version
	docs.SwaggerInfo.BasePath = cfg.APIBasePath

	r := gin.New()
	httpapi.RegisterRoutes(r, db, httpapi.Upstreams{
		Ingest: webhook.NewIngestClient(cfg.Upstream.IngestURL, cfg.Upstream.Timeout),
		Answer: webhook.NewAnswerClient(cfg.Upstream.AnswerURL, cfg.Upstream.Timeout),
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go cleanupLoop(ctx, db, cfg.Session.TTL)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("chat relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// cleanupLoop purges expired sessions (with their transcripts) and expired
// idempotency records until ctx is done. Sessions are kept for one extra TTL
// after expiry so recent logins can still be audited.
func cleanupLoop(ctx context.Context, db *gorm.DB, ttl time.Duration) {
	t := time.NewTicker(cleanupEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n, err := repo.DeleteExpiredSessions(ctx, db, now.Add(-ttl)); err != nil {
				log.Warn().Err(err).Msg("session cleanup")
			} else if n > 0 {
				log.Debug().Int64("deleted", n).Msg("expired sessions removed")
			}
			if n, err := repo.DeleteExpiredIdempotency(ctx, db, now); err != nil {
				log.Warn().Err(err).Msg("idempotency cleanup")
			} else if n > 0 {
				log.Debug().Int64("deleted", n).Msg("expired idempotency keys removed")
			}
		}
	}
}
