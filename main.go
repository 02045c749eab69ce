package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/faceproof/internal/auth"
	"github.com/example/faceproof/internal/calibrate"
	"github.com/example/faceproof/internal/config"
	"github.com/example/faceproof/internal/embedding"
	"github.com/example/faceproof/internal/handlers"
	"github.com/example/faceproof/internal/logging"
	"github.com/example/faceproof/internal/repository"
	"github.com/example/faceproof/internal/storage"
	"github.com/example/faceproof/internal/usecase"
	"github.com/example/faceproof/internal/vectorindex"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	db := initDatabase(ctx, cfg, logger)
	identities := repository.NewIdentityRepository(db)
	if err := identities.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}
	verificationLogs := repository.NewVerificationLogRepository(db, logger)
	if err := verificationLogs.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)

	index := initVectorIndex(cfg, db, logger)
	defer index.Close() //nolint:errcheck

	photos, err := storage.NewPhotoStore(cfg.MediaDir)
	if err != nil {
		logger.Fatal("media directory unavailable", zap.Error(err))
	}

	calibrator, err := calibrate.New(calibrate.Thresholds{
		Acceptable: cfg.BandAcceptable,
		Good:       cfg.BandGood,
		Excellent:  cfg.BandExcellent,
	})
	if err != nil {
		logger.Fatal("invalid band thresholds", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := usecase.NewMetrics(registry)

	extractor := embedding.NewHTTPExtractor(cfg.ExtractorAddr, logger)
	enroller := usecase.NewEnrollmentCoordinator(identities, index, extractor, metrics, logger, cfg.EmbeddingDim)
	verifier := usecase.NewVerificationEngine(identities, index, extractor, calibrator, metrics, logger, cfg.EmbeddingDim, cfg.DefaultThreshold)
	auditor := usecase.NewAuditRecorder(verificationLogs, usecase.NewRedisCache(redisClient), logger)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadSize
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	authMiddleware := auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	handlers.RegisterRoutes(r, handlers.Dependencies{
		Enroller:   enroller,
		Verifier:   verifier,
		Auditor:    auditor,
		Identities: identities,
		Stats:      verificationLogs,
		Vectors:    index,
		Photos:     photos,
		Logger:     logger.Named("http"),
	}, authMiddleware)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	logger.Info("faceproof API listening",
		zap.String("addr", cfg.Addr),
		zap.String("vector_backend", cfg.VectorBackend),
		zap.Int("embedding_dim", cfg.EmbeddingDim))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg config.Config, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// initVectorIndex selects the vector index backend. The memory backend starts
// empty on boot; pgvector survives restarts alongside the records.
func initVectorIndex(cfg config.Config, db *gorm.DB, zapLogger *zap.Logger) vectorindex.Index {
	switch cfg.VectorBackend {
	case "memory":
		return vectorindex.NewMemoryIndex()
	case "pgvector":
		index, err := vectorindex.NewPgVectorIndex(db, cfg.EmbeddingDim)
		if err != nil {
			zapLogger.Fatal("failed to build pgvector index", zap.Error(err))
		}
		return index
	default:
		zapLogger.Fatal("unknown vector backend", zap.String("backend", cfg.VectorBackend))
		return nil
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithListener(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, listener, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
