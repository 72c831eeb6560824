// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/ChonangRai/tool-factory/internal/config"
	"github.com/ChonangRai/tool-factory/internal/export"
	"github.com/ChonangRai/tool-factory/internal/factory"
	"github.com/ChonangRai/tool-factory/internal/jobs"
	"github.com/ChonangRai/tool-factory/internal/logging"
	"github.com/ChonangRai/tool-factory/internal/session"
	"github.com/ChonangRai/tool-factory/internal/storage"
)

const sweepInterval = time.Minute

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		logging.Get().Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stdout})
	logger := logging.Get()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher, closePublisher, err := setupPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up result storage")
	}
	defer closePublisher()

	exportService, err := export.NewService(export.Config{
		WorkDir:          cfg.JobWorkDir,
		ExpireMinutes:    cfg.JobExpireMinutes,
		SignedURLMinutes: cfg.SignedURLMinutes,
	}, publisher, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise export service")
	}

	registry := factory.NewRegistry(factory.Options{
		MaxFileSize:       cfg.MaxFileSize,
		MaxPages:          cfg.MaxPages,
		MaxItems:          cfg.MaxItems,
		RenderConcurrency: cfg.RenderConcurrency,
		ThumbnailZoom:     cfg.ThumbnailZoom,
		EditorZoom:        cfg.EditorZoom,
		Logger:            logger,
	}, time.Duration(cfg.WorkspaceIdleMinutes)*time.Minute)
	go registry.Run(ctx, sweepInterval)

	handlerOpts := factory.HandlerOptions{
		AsyncThresholdBytes: cfg.AsyncThresholdBytes,
		AsyncThresholdPages: cfg.AsyncThresholdPages,
		Logger:              logger,
	}
	jobManager, err := setupJobs(cfg, exportService, logger)
	if err != nil {
		// キューが使えない場合も同期処理だけで動かす
		logging.Apply(logger.Warn(), logging.Component("jobs"), logging.ErrorField(err)).
			Msg("async jobs disabled")
	} else {
		jobManager.StartWorkers()
		defer jobManager.Shutdown(context.Background())
		handlerOpts.Stager = exportService
		handlerOpts.Scheduler = &exportJobScheduler{manager: jobManager}
	}

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	router.MaxMultipartMemory = 32 << 20

	// セッションストアの設定（クッキー署名鍵は必須）
	secret := cfg.SessionSecret
	if secret == "" {
		secret = "tool-factory-development-secret-key"
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   session.MaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(session.CookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token", "Content-Disposition", "X-Job-Id"}
	router.Use(cors.New(corsConfig))

	sessionManager := session.NewManager(time.Duration(cfg.WorkspaceIdleMinutes)*time.Minute, registry.Drop)
	setupRoutes(router, sessionManager, factory.NewHandler(registry, handlerOpts), jobManager, exportService)

	// サーバーの起動
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.Apply(logger.Info(), logging.Str("addr", srv.Addr), logging.Str("mode", cfg.GinMode)).
			Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Apply(logger.Error(), logging.ErrorField(err)).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

// setupPublisher は成果物の公開先を決めます。GCS バケットが未設定なら作業ディレクトリ配下のローカル保存です。
func setupPublisher(ctx context.Context, cfg *config.Config) (storage.Storage, func(), error) {
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCS(ctx, storage.GCSConfig{
			Bucket:          cfg.GCSBucket,
			ProjectID:       cfg.GCPProject,
			CredentialsFile: cfg.ServiceAccount,
			Prefix:          "results",
		})
		if err != nil {
			return nil, nil, err
		}
		return gcs, func() { gcs.Close() }, nil
	}
	local, err := storage.NewLocal(filepath.Join(cfg.JobWorkDir, "published"))
	if err != nil {
		return nil, nil, err
	}
	return local, func() {}, nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "tool-factory-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループとセッション周りの配線を行います。
func setupRoutes(router *gin.Engine, sm *session.Manager, handler *factory.Handler, jobManager *jobs.Manager, exportService *export.Service) {
	router.GET("/health", handleHealth)

	api := router.Group("/api")
	api.Use(sm.Attach())
	{
		// セッションの発行のみ行うため CSRF 検証は不要
		api.GET("/session", sm.Info)

		protected := api.Group("")
		protected.Use(sm.VerifyCSRF())
		handler.Register(protected)

		if jobManager != nil {
			protected.GET("/jobs/:id", jobStatusHandler(jobManager))
			protected.GET("/jobs/:id/download", jobDownloadHandler(jobManager, exportService))
		}
	}
}
