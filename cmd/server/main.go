package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/kevinmcaleer/page-count/pkg/adapters/handler"
	"github.com/kevinmcaleer/page-count/pkg/adapters/repository"
	"github.com/kevinmcaleer/page-count/pkg/config"
	"github.com/kevinmcaleer/page-count/pkg/core/ratelimit"
	"github.com/kevinmcaleer/page-count/pkg/core/services"
	"github.com/kevinmcaleer/page-count/pkg/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewDefault(cfg.AppEnv)

	// Initialize Repository (backend picked from the DSN)
	repo, err := repository.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer repo.Close()

	// Initialize Service
	visitLimiter := ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitVisit)
	bulkLimiter := ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitBulk)
	go visitLimiter.PurgeEvery(context.Background(), cfg.RateLimitWindow)
	go bulkLimiter.PurgeEvery(context.Background(), cfg.RateLimitWindow)
	service := services.NewVisitService(repo, visitLimiter, bulkLimiter, logger)

	// Initialize Router
	mux := handler.NewRouter(service, repo, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info(context.Background(), "server starting", "port", cfg.Port, "database", cfg.DatabaseURL)
	if err := server.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
