package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/repositories"
)

// ErrStockCheckFailed indicates the stock backend timed out or failed, so
// availability could not be confirmed. Callers must treat this as a hard
// stop, never as confirmation.
var ErrStockCheckFailed = errors.New("stock: availability check failed")

// ErrStockRepositoryMissing indicates the stock repository dependency is absent.
var ErrStockRepositoryMissing = errors.New("stock: repository is not configured")

const defaultStockCheckTimeout = 3 * time.Second

// StockOracleDeps bundles dependencies for the stock checker.
type StockOracleDeps struct {
	Stock   repositories.StockRepository
	Timeout time.Duration
	Logger  func(context.Context, string, map[string]any)
}

type stockOracle struct {
	repo    repositories.StockRepository
	timeout time.Duration
	logger  func(context.Context, string, map[string]any)
}

// NewStockOracle wraps the stock repository with a bounded lookup window.
// Every read goes to the backend; levels are never cached between calls.
func NewStockOracle(deps StockOracleDeps) (StockChecker, error) {
	if deps.Stock == nil {
		return nil, ErrStockRepositoryMissing
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultStockCheckTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &stockOracle{repo: deps.Stock, timeout: timeout, logger: logger}, nil
}

// Levels resolves availability for the given variants. Variants unknown to
// the backend are simply absent from the result map; a timeout or backend
// failure returns ErrStockCheckFailed with no partial data.
func (s *stockOracle) Levels(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
	if s == nil || s.repo == nil {
		return nil, ErrStockRepositoryMissing
	}
	if len(keys) == 0 {
		return map[string]domain.StockLevel{}, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	levels, err := s.repo.GetLevels(lookupCtx, keys)
	if err != nil {
		s.logger(ctx, "stock.lookup_failed", map[string]any{
			"variants": len(keys),
			"error":    err.Error(),
		})
		return nil, ErrStockCheckFailed
	}
	if levels == nil {
		levels = map[string]domain.StockLevel{}
	}
	return levels, nil
}
