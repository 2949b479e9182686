package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestInitPostgresSkipsWithoutURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	Pool = nil

	InitPostgres(context.Background())

	if Pool != nil {
		t.Fatal("expected nil pool when DATABASE_URL is unset")
	}
}

func TestInitPostgresConnects(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/archive")
	Pool = nil

	origNewPool := newPool
	origPing := pingPool
	defer func() {
		newPool = origNewPool
		pingPool = origPing
		Pool = nil
	}()

	stub := &pgxpool.Pool{}
	newPool = func(ctx context.Context, url string) (*pgxpool.Pool, error) {
		return stub, nil
	}
	pingPool = func(ctx context.Context, pool *pgxpool.Pool) error { return nil }

	InitPostgres(context.Background())

	if Pool != stub {
		t.Fatal("expected pool to be assigned")
	}
}
