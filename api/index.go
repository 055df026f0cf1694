package handler

import (
	"context"
	"net/http"

	"github.com/kevinmcaleer/page-count/pkg/adapters/handler"
	"github.com/kevinmcaleer/page-count/pkg/adapters/repository"
	"github.com/kevinmcaleer/page-count/pkg/config"
	"github.com/kevinmcaleer/page-count/pkg/core/ratelimit"
	"github.com/kevinmcaleer/page-count/pkg/core/services"
	"github.com/kevinmcaleer/page-count/pkg/logging"
)

var mux http.Handler

func init() {
	cfg := config.Load()
	logger := logging.NewDefault(cfg.AppEnv)

	// Note: on Vercel the local file is ephemeral; point DATABASE_URL at a
	// remote libsql/Turso or Postgres instance for durable counts.
	repo, err := repository.Open(cfg.DatabaseURL)
	if err != nil {
		panic(err)
	}

	visitLimiter := ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitVisit)
	bulkLimiter := ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitBulk)
	go visitLimiter.PurgeEvery(context.Background(), cfg.RateLimitWindow)
	go bulkLimiter.PurgeEvery(context.Background(), cfg.RateLimitWindow)
	service := services.NewVisitService(repo, visitLimiter, bulkLimiter, logger)

	mux = handler.NewRouter(service, repo, logger)
}

// Handler is the entrypoint for Vercel
func Handler(w http.ResponseWriter, r *http.Request) {
	mux.ServeHTTP(w, r)
}
