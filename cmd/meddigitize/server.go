package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/meddigitize/meddigitize/internal/config"
	"github.com/meddigitize/meddigitize/internal/domain/audit"
	"github.com/meddigitize/meddigitize/internal/domain/identity"
	"github.com/meddigitize/meddigitize/internal/domain/records"
	"github.com/meddigitize/meddigitize/internal/domain/upload"
	"github.com/meddigitize/meddigitize/internal/platform/auth"
	"github.com/meddigitize/meddigitize/internal/platform/blobstore"
	"github.com/meddigitize/meddigitize/internal/platform/db"
	"github.com/meddigitize/meddigitize/internal/platform/dedupe"
	"github.com/meddigitize/meddigitize/internal/platform/middleware"
	"github.com/meddigitize/meddigitize/internal/platform/ocr"
	"github.com/meddigitize/meddigitize/internal/platform/ocr/tesseract"
	"github.com/meddigitize/meddigitize/migrations"
)

// repositories is the storage the services run on. Tests swap in fakes.
type repositories struct {
	records records.Repository
	users   identity.UserRepository
	doctors identity.DoctorRepository
	audit   audit.Repository
	withTx  identity.TxRunner
}

func pgRepositories(pool db.Beginner, r repositories) repositories {
	r.withTx = func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}
	return r
}

type services struct {
	issuer      *auth.TokenIssuer
	revocations *auth.RevocationList
	reads       *dedupe.Group
	store       blobstore.BlobStore
	audit       *audit.Service
	records     *records.Service
	identity    *identity.Service
	upload      *upload.Service
}

func newServices(cfg *config.Config, repos repositories, store blobstore.BlobStore, recognizer upload.Recognizer, logger zerolog.Logger) *services {
	revocations := auth.NewRevocationList()
	issuer := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL())
	issuer.UseRevocations(revocations)

	reads := dedupe.New(cfg.DedupeWindow())
	auditSvc := audit.NewService(repos.audit, logger)
	recordSvc := records.NewService(repos.records, auditSvc, reads, logger)
	identitySvc := identity.NewService(repos.users, repos.doctors, auditSvc, issuer, identity.Options{
		AdminPassword: cfg.AdminPassword,
		Revocations:   revocations,
		TokenTTL:      cfg.TokenTTL(),
		WithTx:        repos.withTx,
	}, logger)
	uploadSvc := upload.NewService(store, recognizer, recordSvc, middleware.ParseLimit(cfg.MaxContentLength), logger)

	return &services{
		issuer:      issuer,
		revocations: revocations,
		reads:       reads,
		store:       store,
		audit:       auditSvc,
		records:     recordSvc,
		identity:    identitySvc,
		upload:      uploadSvc,
	}
}

// newOCREngine prefers the remote OCR service when one is configured and
// falls back to the linked tesseract library.
func newOCREngine(cfg *config.Config) ocr.Engine {
	if cfg.OCRServiceURL != "" {
		return ocr.NewRemoteEngine(cfg.OCRServiceURL, cfg.OCRTimeout())
	}
	return tesseract.New()
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

func newRouter(cfg *config.Config, logger zerolog.Logger, svc *services, pinger db.Pinger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID", "X-LOCAL-RESET"},
		AllowCredentials: true,
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout()))
	e.Use(middleware.BodyLimit(cfg.MaxContentLength))
	e.Use(middleware.AccessAudit(logger, svc.audit))

	e.GET("/api/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/api/db-health", db.HealthHandler(pinger))
	e.GET("/uploads/:name", blobstore.ServeHandler(svc.store))

	limit := middleware.RateLimit(rateLimitConfig(cfg))
	public := e.Group("/api", limit)
	api := e.Group("/api", limit, auth.JWTMiddleware(svc.issuer))
	// registered last so unknown /api paths answer 404 rather than 401
	optional := e.Group("/api", limit, auth.OptionalJWTMiddleware(svc.issuer))

	identity.NewHandler(svc.identity, cfg.LocalResetSecret).RegisterRoutes(public, api)
	records.NewHandler(svc.records).RegisterRoutes(api)
	audit.NewHandler(svc.audit).RegisterRoutes(api)
	upload.NewHandler(svc.upload).RegisterRoutes(optional, api)

	return e
}

func runServer(migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if migrate {
		n, err := db.NewMigrator(pool, migrations.FS).Up(ctx, defaultSchema)
		if err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Int("applied", n).Msg("migrations up to date")
	}

	store, err := blobstore.NewFSBlobStore(cfg.UploadFolder, middleware.ParseLimit(cfg.MaxContentLength))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open upload folder")
	}

	if err := ocr.SetPDFLicense(cfg.UnidocLicenseKey); err != nil {
		logger.Warn().Err(err).Msg("unidoc license rejected; PDF extraction runs unlicensed")
	}
	engine := newOCREngine(cfg)
	recognizer := ocr.NewRecognizer(engine, cfg.OCRLanguages, cfg.OCRTimeout(), logger)
	logger.Info().Str("engine", engine.Name()).Strs("languages", cfg.OCRLanguages).Msg("ocr ready")

	repos := pgRepositories(pool, repositories{
		records: records.NewRecordRepoPG(pool),
		users:   identity.NewUserRepoPG(pool),
		doctors: identity.NewDoctorRepoPG(pool),
		audit:   audit.NewRepoPG(pool),
	})
	svc := newServices(cfg, repos, store, recognizer, logger)
	svc.revocations.StartCleanup(ctx, time.Minute)
	svc.reads.StartCleanup(ctx, time.Minute)

	created, err := svc.identity.EnsureAdmin(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bootstrap admin account")
	}
	if created {
		logger.Warn().Str("username", auth.BuiltinAdmin).Msg("created built-in admin account")
	}

	e := newRouter(cfg, logger, svc, pool)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
