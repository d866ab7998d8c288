// Package main runs the live polling HTTP server with WebSocket gateway and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/livepoll/backend/config"
	"github.com/livepoll/backend/internal/middleware"
	"github.com/livepoll/backend/internal/polls"
	"github.com/livepoll/backend/internal/realtime"
	"github.com/livepoll/backend/internal/worker"
	"github.com/livepoll/backend/pkg/database"
	"github.com/livepoll/backend/pkg/queue"
	"github.com/livepoll/backend/pkg/redis"
	"github.com/livepoll/backend/pkg/response"
	"github.com/livepoll/backend/pkg/storage"
)

const version = "1.0.0"

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var s3Client *storage.S3
	if cfg.AWS.ExportEnabled() {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	// Archive
	pollRepo := polls.NewRepository(pool)
	var archive polls.Archive = pollRepo
	var jobQueue *queue.Queue
	if rdb != nil && s3Client != nil {
		jobQueue = queue.NewQueue(rdb.Client, logger)
		archive = polls.NewExportingArchive(pollRepo, jobQueue, logger)
	}

	// Session store + gateway
	store := polls.NewStore(archive, cfg.Archive.Timeout(), logger)
	var hub *realtime.Hub
	if rdb != nil {
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}
	gateway := realtime.NewGateway(store, hub, logger)

	var exports polls.ExportLinker
	if s3Client != nil {
		exports = s3Client
	}
	pollHandler := polls.NewHandler(pollRepo, exports, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/", func(c *gin.Context) {
		response.OK(c, gin.H{
			"message": "Live polling backend",
			"version": version,
			"endpoints": gin.H{
				"health": "/health",
				"polls":  "/polls",
				"status": "/status",
				"socket": "/ws",
			},
		})
	})
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	router.GET("/status", pollHandler.Status(store, hub))
	router.GET("/polls", pollHandler.List)
	router.GET("/polls/:id", pollHandler.GetByID)
	router.GET("/polls/:id/export-url", pollHandler.ExportURL)

	router.GET("/ws", realtime.ServeWs(gateway, cfg.Server.WSSendBuffer, logger))

	router.NoRoute(func(c *gin.Context) { response.NotFound(c, "endpoint not found") })

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (archive export to S3)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if jobQueue != nil {
		exporter := worker.NewArchiveExporter(pollRepo, s3Client, jobQueue, logger)
		go exporter.Run(workerCtx)
		logger.Info("archive export worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if s := store.GetStatus(); s != nil {
		logger.Warn("active poll discarded on shutdown", zap.String("session_id", s.ID), zap.Int("responses", s.Total))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
