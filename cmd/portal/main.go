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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"skilllink/internal/authclient"
	"skilllink/internal/config"
	"skilllink/internal/guard"
	"skilllink/internal/observability"
	"skilllink/internal/portal"
	"skilllink/internal/repository/redis"
	"skilllink/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := observability.NewLogger(cfg.Log.Level, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Telemetry.ServiceName+"-portal", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Fatalf("init tracer: %v", err)
	}

	table, err := guard.TableFromConfig(cfg.Portal.Routes)
	if err != nil {
		logger.Fatalf("route table: %v", err)
	}
	homes, err := guard.HomesFromConfig(cfg.Portal.Homes)
	if err != nil {
		logger.Fatalf("role homes: %v", err)
	}
	g := guard.New(table, homes, cfg.Portal.LoginPath, cfg.Portal.SignupPath)

	auth := authclient.New(cfg.Portal.APIBaseURL, authclient.WithLogger(logger))

	var tokens session.TokenStore
	if cfg.Redis.Addr != "" {
		rs := redis.NewTokenStore(redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rs.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rs.Ping(pingCtx); err != nil {
			logger.Fatalf("connect redis: %v", err)
		}
		cancel()
		logger.Infof("visitor tokens kept in redis at %s", cfg.Redis.Addr)
		tokens = rs
	} else {
		logger.Info("visitor tokens kept in memory")
	}

	registry := session.NewRegistry(auth, tokens, session.RegistryConfig{
		TTL:             cfg.Portal.SessionTTL,
		RefreshInterval: cfg.Portal.RefreshEvery,
		Logger:          logger,
	})
	go registry.Run(ctx, time.Minute)

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg, "portal")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName + "-portal"))
	router.Use(prom.GinHandleMiddleware(), observability.RequestLogger(logger))
	router.GET("/metrics", observability.Handler(reg))
	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	portal.NewHandler(registry, g, portal.Options{
		SessionTTL:   cfg.Portal.SessionTTL,
		InitWait:     cfg.Portal.InitWait,
		SubmitWait:   cfg.Portal.SubmitWait,
		CookieSecure: cfg.Portal.CookieSecure,
	}, logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Portal.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("portal listening on %s (api %s)", cfg.Portal.Addr, cfg.Portal.APIBaseURL)
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
	logger.Infof("closed with %d visitor sessions", registry.Len())
}
