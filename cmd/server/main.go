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

	"github.com/RobRipley/YSLfoliotracker-sub002/internal/bot"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/cache"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/config"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/db"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/handler"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/job"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/provider"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/repository"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/service"
	"github.com/RobRipley/YSLfoliotracker-sub002/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	_ "github.com/RobRipley/YSLfoliotracker-sub002/docs"
)

var (
	loadEnvFunc         = godotenv.Load
	loadConfigFunc      = config.Load
	initPostgresFunc    = db.InitPostgres
	initTracerFunc      = tracing.InitTracer
	newMarketClientFunc = func(tracer trace.Tracer, baseURL string, timeout time.Duration) service.Fetcher {
		return provider.NewMarketClient(tracer, baseURL, timeout)
	}
	newMarketServiceFunc   = service.NewMarketService
	newSnapshotRepoFunc    = repository.NewSnapshotRepository
	newRefresherFunc       = job.NewRefresher
	startRefresherFunc     = func(r *job.Refresher, ctx context.Context) { go r.Start(ctx) }
	startTelegramBotFunc   = bot.StartTelegramBot
	newHandlerFunc         = handler.New
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           YSLfolio Market Data API
// @version         1.0
// @description     Market-data caching and synchronization service for the portfolio dashboard.

// @host      localhost:8080
// @BasePath  /
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init the optional snapshot archive connection
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	initPostgresFunc(ctx)

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Build the market data core: remote client, memory cache, service
	client := newMarketClientFunc(tracer, cfg.MarketBaseURL, time.Duration(cfg.FetchTimeoutSecs)*time.Second)
	store := cache.NewStore()
	market := newMarketServiceFunc(tracer, client, store)
	market.Initialize(ctx)

	// History repository (read-only, optional)
	var history handler.HistoryReader
	if db.Pool != nil {
		history = newSnapshotRepoFunc(db.Pool, tracer)
	}

	// Background refresher for the tracked symbol set
	refresher := newRefresherFunc(tracer, market, cfg.TrackedSymbols, cfg.RefreshPollSecs)
	startRefresherFunc(refresher, ctx)

	// Telegram bot (optional)
	os.Setenv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	startTelegramBotFunc(market)

	// Routes
	h := newHandlerFunc(tracer, market, history)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("yslfolio-market-data"))

	h.RegisterRoutes(r, cfg.APIKey)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
