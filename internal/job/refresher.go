package job

import (
	"context"
	"log"
	"time"

	"github.com/RobRipley/YSLfoliotracker-sub002/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// MarketRefresher is the service surface the job drives.
type MarketRefresher interface {
	RefreshForSymbols(ctx context.Context, symbols []string) error
	Status(ctx context.Context) *domain.SyncStatus
}

// Refresher periodically re-drives the tracked symbol set through the
// service. TTL checks inside the service keep the ticks cheap: a tick within
// the TTL window is a no-op, a tick past it schedules one background fetch.
type Refresher struct {
	tracer       trace.Tracer
	market       MarketRefresher
	symbols      []string
	pollInterval time.Duration
}

func NewRefresher(tracer trace.Tracer, market MarketRefresher, symbols []string, pollIntervalSecs int) *Refresher {
	if len(symbols) == 0 {
		symbols = domain.DefaultSymbols
	}
	return &Refresher{
		tracer:       tracer,
		market:       market,
		symbols:      symbols,
		pollInterval: time.Duration(pollIntervalSecs) * time.Second,
	}
}

// Start launches the refresh loops. Blocks until ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	log.Println("Market refresher starting...")

	go r.pollLoop(ctx, "tracked-symbols", r.pollInterval, func(ctx context.Context) error {
		return r.market.RefreshForSymbols(ctx, r.symbols)
	})

	go r.pollStatus(ctx)

	<-ctx.Done()
	log.Println("Market refresher stopped")
}

func (r *Refresher) pollLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	// Run immediately on start
	if err := fn(ctx); err != nil {
		log.Printf("refresher %s initial run error: %v", name, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				log.Printf("refresher %s error: %v", name, err)
			}
		}
	}
}

// pollStatus probes the remote sync status on a slow cadence and logs
// degradation. Status failures are non-critical.
func (r *Refresher) pollStatus(ctx context.Context) {
	// Stagger behind the first refresh
	select {
	case <-ctx.Done():
		return
	case <-time.After(15 * time.Second):
	}

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := r.market.Status(ctx)
			if status == nil {
				log.Println("remote status unavailable")
				continue
			}
			if !status.Success {
				log.Printf("remote sync degraded: %s (trigger=%s)", status.Error, status.Trigger)
			}
		}
	}
}
