package repository

import (
	"context"
	"time"

	"github.com/RobRipley/YSLfoliotracker-sub002/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

// PgxPool is the slice of pgxpool.Pool the repository needs.
type PgxPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SnapshotRepository reads the historical price snapshot archive. The
// archive is written by an external archiver process; this service only
// reads it, so there are no migrations or write paths here.
type SnapshotRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewSnapshotRepository(pool PgxPool, tracer trace.Tracer) *SnapshotRepository {
	return &SnapshotRepository{pool: pool, tracer: tracer}
}

// History returns up to limit observations for symbol, newest first.
func (r *SnapshotRepository) History(ctx context.Context, symbol string, limit int) ([]domain.PricePoint, error) {
	_, span := r.tracer.Start(ctx, "snapshot-repo.history")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, price_usd, observed_at
		 FROM price_snapshots
		 WHERE symbol = $1
		 ORDER BY observed_at DESC
		 LIMIT $2`,
		domain.NormalizeSymbol(symbol), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// HistorySince returns observations for symbol observed at or after since,
// oldest first, ready for charting.
func (r *SnapshotRepository) HistorySince(ctx context.Context, symbol string, since time.Time) ([]domain.PricePoint, error) {
	_, span := r.tracer.Start(ctx, "snapshot-repo.history-since")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, price_usd, observed_at
		 FROM price_snapshots
		 WHERE symbol = $1 AND observed_at >= $2
		 ORDER BY observed_at ASC`,
		domain.NormalizeSymbol(symbol), since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

func scanPricePoints(rows pgx.Rows) ([]domain.PricePoint, error) {
	var points []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.Symbol, &p.PriceUSD, &p.ObservedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
