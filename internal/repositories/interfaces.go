package repositories

import (
	"context"
	"time"

	domain "github.com/bazaarhub/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Coupons() CouponRepository
	Stock() StockRepository
	Orders() OrderRepository
	Returns() ReturnRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart header + items persistence with optimistic locking guarantees.
// Carts are keyed by the owner key, never by a raw user id, so guest and
// authenticated carts share one code path.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error)
	GetCart(ctx context.Context, ownerKey string) (domain.Cart, error)
	ReplaceItems(ctx context.Context, ownerKey string, items []domain.CartItem) (domain.Cart, error)
	Delete(ctx context.Context, ownerKey string) error
}

// CouponRepository maintains coupon definitions and usage counters.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
	IncrementUsage(ctx context.Context, couponID string, userID string, now time.Time) error
}

// StockRepository exposes per-variant availability and transactional decrements.
// Reads are always fresh; callers never cache levels across requests.
type StockRepository interface {
	GetLevel(ctx context.Context, productID, size, color string) (domain.StockLevel, error)
	GetLevels(ctx context.Context, keys []StockKey) (map[string]domain.StockLevel, error)
	Decrement(ctx context.Context, lines []StockDecrementLine, now time.Time) error
	Restore(ctx context.Context, lines []StockDecrementLine, now time.Time) error
}

// StockKey identifies one product variant.
type StockKey struct {
	ProductID string
	Size      string
	Color     string
}

// StockDecrementLine carries a quantity adjustment for one variant.
type StockDecrementLine struct {
	Key      StockKey
	Quantity int
}

// OrderRepository persists order headers and provides query helpers for buyers and sellers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListBySeller(ctx context.Context, sellerID string) ([]domain.Order, error)
}

// ReturnRepository persists return requests against delivered orders.
type ReturnRepository interface {
	Insert(ctx context.Context, req domain.ReturnRequest) error
	Update(ctx context.Context, req domain.ReturnRequest) error
	FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
	ListBySeller(ctx context.Context, sellerID string) ([]domain.ReturnRequest, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type CouponListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type ReturnListFilter struct {
	UserID     string
	OrderID    string
	Status     []string
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
