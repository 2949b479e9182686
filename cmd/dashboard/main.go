package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/RobRipley/YSLfoliotracker-sub002/internal/cache"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/config"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/job"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/provider"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/service"
	"github.com/RobRipley/YSLfoliotracker-sub002/internal/tui"
	"github.com/RobRipley/YSLfoliotracker-sub002/pkg/tracing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	gossh "golang.org/x/crypto/ssh"
)

var (
	loadEnvFunc    = godotenv.Load
	loadConfigFunc = config.Load
	initTracerFunc = tracing.InitTracer

	newMarketClientFunc = func(tracer trace.Tracer, baseURL string, timeout time.Duration) service.Fetcher {
		return provider.NewMarketClient(tracer, baseURL, timeout)
	}
	newMarketServiceFunc = service.NewMarketService
	newRefresherFunc     = job.NewRefresher
	startRefresherFunc   = func(r *job.Refresher, ctx context.Context) { go r.Start(ctx) }

	newWishServerFunc = wish.NewServer
	setupSignalNotify = ossignal.Notify
	waitForSignalFunc = func(quit <-chan os.Signal) { <-quit }
)

func main() {
	loadEnvFunc()
	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Market data core shared by every SSH session
	client := newMarketClientFunc(tracer, cfg.MarketBaseURL, time.Duration(cfg.FetchTimeoutSecs)*time.Second)
	store := cache.NewStore()
	market := newMarketServiceFunc(tracer, client, store)
	market.Initialize(ctx)

	refresher := newRefresherFunc(tracer, market, cfg.TrackedSymbols, cfg.RefreshPollSecs)
	startRefresherFunc(refresher, ctx)

	// Build Wish SSH server
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.SSHPort)

	srv, err := newWishServerFunc(
		wish.WithAddress(addr),
		wish.WithHostKeyPath(cfg.SSHHostKeyPath),
		wish.WithPublicKeyAuth(func(ctx ssh.Context, key ssh.PublicKey) bool {
			fingerprint := gossh.FingerprintSHA256(key)
			log.Printf("SSH session accepted: user=%s fingerprint=%s", ctx.User(), fingerprint)
			return true
		}),
		wish.WithMiddleware(
			bubbletea.Middleware(func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
				username := s.User()
				if username == "" {
					username = "guest"
				}

				svc := tui.Services{
					Market:   market,
					Symbols:  cfg.TrackedSymbols,
					Username: username,
				}

				model := tui.NewModel(svc)
				pty, _, _ := s.Pty()
				model.SetSize(pty.Window.Width, pty.Window.Height)

				return model, []tea.ProgramOption{tea.WithAltScreen()}
			}),
			logging.Middleware(),
		),
	)
	if err != nil {
		log.Fatalf("failed to create SSH server: %v", err)
	}

	if srv != nil {
		go func() {
			log.Printf("SSH dashboard listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil {
				log.Printf("SSH server stopped: %v", err)
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down SSH dashboard...")

	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("SSH server shutdown error: %v", err)
		}
	}

	log.Println("SSH dashboard exited")
}
