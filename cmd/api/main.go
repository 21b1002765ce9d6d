// Package main はAPIサーバーのエントリーポイントです。
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

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/api"
	"github.com/asif420570/Image-compressor/internal/auth"
	"github.com/asif420570/Image-compressor/internal/config"
	"github.com/asif420570/Image-compressor/internal/logging"
	"github.com/asif420570/Image-compressor/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.NewLogger(gin.DebugMode, "info")
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	logger := logging.NewLogger(cfg.GinMode, cfg.LogLevel)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := gin.New()
	router.Use(gin.Recovery(), logging.RequestLogger(logger))

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		m, handler, err := observability.NewMetrics(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init metrics")
		}
		metrics = m
		router.Use(metrics.Middleware())
		router.GET("/metrics", gin.WrapH(handler))
	}

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "Content-Disposition"}
	router.Use(cors.New(corsConfig))

	deps, err := setupJobs(cfg, metrics, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up jobs")
	}
	deps.start()
	go deps.workspaces.RunSweeper(ctx, time.Minute, time.Duration(cfg.SessionIdleMinutes)*time.Minute)

	// ルーティングの設定
	setupRoutes(router, cfg, deps, logger)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Str("mode", cfg.GinMode).Str("dispatcher", cfg.JobDispatcher).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	deps.shutdown(shutdownCtx, logger)
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "image-compressor-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, deps *jobDeps, logger zerolog.Logger) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	authManager := auth.NewManager(cfg, deps.workspaces, logger)
	handler := api.NewHandler(api.Options{
		MaxFiles:            cfg.MaxFiles,
		MaxFileSize:         cfg.MaxFileSize,
		AsyncThresholdBytes: cfg.ExportAsyncThresholdBytes,
		Exports:             deps.exports,
		Logger:              logger,
	})

	apiGroup := router.Group("/api")
	{
		authRoutes := apiGroup.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
			authRoutes.GET("/session", authManager.RequireLogin(), authManager.Session)
		}

		protected := apiGroup.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		handler.Register(protected)
	}
}
