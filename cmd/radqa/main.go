package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/pekka2000/radqa/internal/config"
	"github.com/pekka2000/radqa/internal/ingest"
	"github.com/pekka2000/radqa/internal/metric"
	"github.com/pekka2000/radqa/internal/mllp"
	"github.com/pekka2000/radqa/internal/review"
	"github.com/pekka2000/radqa/internal/stats"
	"github.com/pekka2000/radqa/internal/storage"
	"github.com/pekka2000/radqa/internal/study"
	"github.com/pekka2000/radqa/internal/web"
	"github.com/pekka2000/radqa/internal/ws"
)

func main() {
	log.Printf("[INFO] Starting radqa server...")

	cfg := config.Load()
	log.Printf("[INFO] Configuration loaded: mllp_port=%s http_port=%s timezone=%s",
		cfg.MLLPPort, cfg.HTTPPort, cfg.Timezone)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("[FATAL] Unknown timezone %q: %v", cfg.Timezone, err)
	}

	repo, err := storage.NewPostgresRepositoryFromDSN(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("[FATAL] Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("[FATAL] Failed to apply database schema: %v", err)
	}
	log.Printf("[INFO] Connected to PostgreSQL")

	// Кэш статистики опционален: без Redis отчёт считается на каждый запрос
	var statsCache *storage.RedisStatsCache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("[WARN] Redis unavailable, stats caching disabled: %v", err)
		redisClient.Close()
		redisClient = nil
	} else {
		statsCache = storage.NewRedisStatsCache(redisClient, time.Duration(cfg.StatsCacheTTLSeconds)*time.Second)
		log.Printf("[INFO] Connected to Redis at %s", cfg.RedisAddr)
	}
	cancel()

	hub := ws.NewHub()
	go hub.Run()

	metrics := metric.New()

	// nil-интерфейс не должен прятаться за non-nil обёрткой
	var reviewCache review.StatsCache
	var ingestCache ingest.StatsCache
	var statsSvcCache stats.Cache
	var cachePinger web.Pinger
	if statsCache != nil {
		reviewCache = statsCache
		ingestCache = statsCache
		statsSvcCache = statsCache
		cachePinger = statsCache
	}

	extractor := study.NewExtractor(loc)
	ingestSvc := ingest.NewService(extractor, repo, ingestCache, hub)
	reviewSvc := review.NewService(repo, reviewCache, hub)
	statsSvc := stats.NewService(repo, statsSvcCache)

	mllpServer := mllp.NewServer(cfg, ingestSvc.HandleFrame, metrics)

	router := mux.NewRouter()
	handler := web.NewHandler(reviewSvc, statsSvc, repo, cachePinger, hub.HandleWebSocket, metrics.Handler())
	handler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	serverErrChan := make(chan error, 2)
	go func() {
		if err := mllpServer.ListenAndServe(); err != nil {
			serverErrChan <- fmt.Errorf("MLLP server error: %w", err)
		}
	}()
	go func() {
		log.Printf("[INFO] HTTP server listening on :%s", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrChan:
		log.Printf("[ERROR] Server error: %v", err)

	case sig := <-shutdownChan:
		log.Printf("[INFO] Received signal %v, starting graceful shutdown...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		mllpServer.Stop()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] HTTP shutdown error: %v", err)
		}

		if redisClient != nil {
			redisClient.Close()
		}

		log.Printf("[INFO] Graceful shutdown completed")
	}

	log.Printf("[INFO] Server stopped")
}
