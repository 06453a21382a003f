package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/repositories"
)

func TestStockOracleRequiresRepository(t *testing.T) {
	if _, err := NewStockOracle(StockOracleDeps{}); !errors.Is(err, ErrStockRepositoryMissing) {
		t.Fatalf("expected ErrStockRepositoryMissing, got %v", err)
	}
}

func TestStockOracleReturnsBackendLevels(t *testing.T) {
	repo := &stubStockRepository{
		getLevelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			if len(keys) != 1 || keys[0].ProductID != "prod-1" {
				t.Fatalf("unexpected keys: %+v", keys)
			}
			return map[string]domain.StockLevel{
				domain.LineKey("prod-1", "m", "red"): {ProductID: "prod-1", Available: 4, Active: true},
			}, nil
		},
	}
	oracle, err := NewStockOracle(StockOracleDeps{Stock: repo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	levels, err := oracle.Levels(context.Background(), []repositories.StockKey{{ProductID: "prod-1", Size: "m", Color: "red"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	level, ok := levels[domain.LineKey("prod-1", "m", "red")]
	if !ok || level.Available != 4 {
		t.Fatalf("expected level for prod-1, got %+v", levels)
	}
}

func TestStockOracleEmptyKeysSkipsBackend(t *testing.T) {
	repo := &stubStockRepository{
		getLevelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			t.Fatalf("backend must not be consulted for an empty key set")
			return nil, nil
		},
	}
	oracle, err := NewStockOracle(StockOracleDeps{Stock: repo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	levels, err := oracle.Levels(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 0 {
		t.Fatalf("expected empty map, got %+v", levels)
	}
}

func TestStockOracleBackendFailureIsNeverConfirmation(t *testing.T) {
	repo := &stubStockRepository{
		getLevelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return nil, errors.New("backend down")
		},
	}
	oracle, err := NewStockOracle(StockOracleDeps{Stock: repo})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	levels, err := oracle.Levels(context.Background(), []repositories.StockKey{{ProductID: "prod-1"}})
	if !errors.Is(err, ErrStockCheckFailed) {
		t.Fatalf("expected ErrStockCheckFailed, got %v", err)
	}
	if levels != nil {
		t.Fatalf("expected no partial data, got %+v", levels)
	}
}

func TestStockOracleLookupIsBounded(t *testing.T) {
	repo := &stubStockRepository{
		getLevelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			deadline, ok := ctx.Deadline()
			if !ok {
				t.Fatalf("expected a deadline on the lookup context")
			}
			if remaining := time.Until(deadline); remaining > 50*time.Millisecond {
				t.Fatalf("expected configured timeout, deadline %v away", remaining)
			}
			return map[string]domain.StockLevel{}, nil
		},
	}
	oracle, err := NewStockOracle(StockOracleDeps{Stock: repo, Timeout: 25 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := oracle.Levels(context.Background(), []repositories.StockKey{{ProductID: "prod-1"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
