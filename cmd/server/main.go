package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"skilllink/internal/config"
	apphttp "skilllink/internal/http"
	"skilllink/internal/media"
	"skilllink/internal/observability"
	"skilllink/internal/repository/sqlite"
	"skilllink/internal/service"
	"skilllink/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := observability.NewLogger(cfg.Log.Level, os.Stderr)

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Telemetry.ServiceName+"-api", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Fatalf("init tracer: %v", err)
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	resetRepo := sqlite.NewPasswordResetRepository(db)

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}
	if err := resetRepo.Init(ctx); err != nil {
		logger.Fatalf("init password reset repository: %v", err)
	}
	if n, err := resetRepo.DeleteExpired(ctx, time.Now().UTC()); err != nil {
		logger.Warnf("purge expired reset tokens: %v", err)
	} else if n > 0 {
		logger.Infof("purged %d expired reset tokens", n)
	}

	userService := service.NewUserService(userRepo, resetRepo, service.NewLogNotifier(logger), service.ResetConfig{
		TTL:     cfg.Auth.ResetTTL,
		BaseURL: cfg.Auth.ResetURL,
	})
	tokens := service.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	assets, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg, "api")
	bridge := media.NewBridge(assets, media.WithLogger(logger), media.WithMetrics(media.NewMetrics(reg)))

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName + "-api"))
	router.Use(prom.GinHandleMiddleware(), observability.RequestLogger(logger))
	router.GET("/metrics", observability.Handler(reg))

	handler := apphttp.NewHandler(userService, tokens, bridge, apphttp.Options{
		CORSOrigins:    cfg.Server.CORSOrigins,
		TempDir:        cfg.Storage.TempDir,
		MaxUploadBytes: cfg.Storage.MaxUploadMB << 20,
		CookieSecure:   cfg.Portal.CookieSecure,
	}, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warnf("tracer shutdown: %v", err)
	}

	logger.Info("bye")
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.AssetStore, error) {
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3AssetStore(client, storage.S3Options{
		Bucket:        cfg.Storage.Bucket,
		KeyPrefix:     cfg.Storage.KeyPrefix,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		ACL:           types.ObjectCannedACL(cfg.Storage.ACL),
	}), nil
}
