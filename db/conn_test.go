package db

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestNewPoolRejectsEmptyConnString(t *testing.T) {
	if _, err := NewPool(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}

func TestNewPoolRejectsMalformedConnString(t *testing.T) {
	if _, err := NewPool(context.Background(), "://not-a-dsn"); err == nil {
		t.Fatal("expected error for malformed connection string")
	}
}

func TestNewPoolPingsOnConstruction(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("expected reachable database, got %v", err)
	}
	pool.Close()
}
