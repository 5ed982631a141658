package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lexbrief/internal/api"
	"lexbrief/internal/config"
	"lexbrief/internal/extract"
	"lexbrief/internal/llm"
	"lexbrief/internal/logger"
	"lexbrief/internal/models"
	"lexbrief/internal/prompt"
	"lexbrief/internal/service/analyst"
	"lexbrief/internal/service/documents"
	"lexbrief/internal/session"
	"lexbrief/internal/tracer"
	"lexbrief/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("LEXBRIEF_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()
	zap.ReplaceGlobals(zlog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracer.Init(ctx, cfg.Tracing, zlog)
	if err != nil {
		zlog.Fatal("init tracing", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	if cfg.Model.APIKey == "" {
		zlog.Warn("API_KEY is not set; model requests will be rejected by the provider")
	}
	model, err := llm.New(ctx, cfg.Model, zlog)
	if err != nil {
		zlog.Fatal("init model", zap.Error(err))
	}

	extractor, err := extract.New(ctx, cfg.OCR, extract.WithLogger(zlog))
	if err != nil {
		zlog.Fatal("init extractor", zap.Error(err))
	}

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
		Logger:      zlog,
	})
	defer dispatcher.Stop()

	// the store's eviction hook needs the service, which needs the store
	var docs *documents.Service
	store, err := session.Open(ctx, cfg, zlog, func(s *models.DocumentSession) {
		if docs != nil {
			docs.RemoveUpload(s)
		}
	})
	if err != nil {
		zlog.Fatal("open session store", zap.String("store", cfg.SessionStore), zap.Error(err))
	}
	defer store.Close()

	docs = documents.NewService(documents.Options{
		BaseDir:         cfg.BasicConfig.FileBaseDir,
		SessionTTL:      time.Duration(cfg.BasicConfig.SessionTTL) * time.Minute,
		PipelineTimeout: time.Duration(cfg.BasicConfig.PipelineTimeout) * time.Second,
	}, documents.Deps{
		Extractor: extractor,
		Analyst:   analyst.NewService(model, prompt.NewCatalog(), zlog),
		Store:     store,
		Runner:    dispatcher,
		Logger:    zlog,
	})
	docs.StartCleaner(ctx, time.Duration(cfg.BasicConfig.CleanInterval)*time.Minute)

	if cfg.Log.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(zlog))
	api.NewHandler(docs, int64(cfg.BasicConfig.MaxUploadMB)<<20, zlog).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.BasicConfig.ServerAddress,
		Handler: router,
	}
	go func() {
		zlog.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("provider", cfg.Model.Provider),
			zap.String("session_store", cfg.SessionStore),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		zlog.Error("server shutdown", zap.Error(err))
	}
}
