package services

import (
	"context"
	"time"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	SortOrder            = domain.SortOrder
	Cart                 = domain.Cart
	CartOwner            = domain.CartOwner
	CartCoupon           = domain.CartCoupon
	CartItem             = domain.CartItem
	CartEstimate         = domain.CartEstimate
	CartNotice           = domain.CartNotice
	CartSnapshot         = domain.CartSnapshot
	Coupon               = domain.Coupon
	CouponType           = domain.CouponType
	FeeSchedule          = domain.FeeSchedule
	PricingBreakdown     = domain.PricingBreakdown
	ItemPricingBreakdown = domain.ItemPricingBreakdown
	Order                = domain.Order
	OrderTotals          = domain.OrderTotals
	OrderLineItem        = domain.OrderLineItem
	OrderStatus          = domain.OrderStatus
	OrderEvent           = domain.OrderEvent
	PaymentMethod        = domain.PaymentMethod
	ReturnRequest        = domain.ReturnRequest
	ReturnStatus         = domain.ReturnStatus
	StockLevel           = domain.StockLevel
	SellerRevenueSummary = domain.SellerRevenueSummary
	Address              = domain.Address
	SystemHealthReport   = domain.SystemHealthReport
)

// Coupon type constants re-exported for service-level callers.
const (
	CouponTypeFlat       = domain.CouponTypeFlat
	CouponTypePercentage = domain.CouponTypePercentage
)

// CartService manages mutable cart state while enforcing stock rules.
// Every read path revalidates lines against current price and stock.
type CartService interface {
	GetCart(ctx context.Context, owner CartOwner) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error)
	SetQuantity(ctx context.Context, cmd SetCartQuantityCommand) (CartView, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartView, error)
	MergeOnLogin(ctx context.Context, cmd MergeCartsCommand) (CartView, error)
	ApplyCoupon(ctx context.Context, cmd CartCouponCommand) (CartView, error)
	RemoveCoupon(ctx context.Context, owner CartOwner) (CartView, error)
	ClearCart(ctx context.Context, owner CartOwner) error
	Snapshot(ctx context.Context, owner CartOwner) (CartSnapshot, error)
	Restore(ctx context.Context, owner CartOwner, snapshot CartSnapshot) error
}

// CouponService validates coupon codes against a cart subtotal.
type CouponService interface {
	Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidationResult, error)
	Revalidate(ctx context.Context, cmd RevalidateCouponCommand) (CouponRevalidationResult, error)
	RecordUsage(ctx context.Context, code string, userID string) error
}

// StockChecker is the single authority on availability and current pricing.
// Implementations never serve cached levels; a slow or failed lookup is
// reported as an error, never as success.
type StockChecker interface {
	Levels(ctx context.Context, keys []repositories.StockKey) (map[string]StockLevel, error)
}

// CheckoutService turns a validated cart into an order, charging the
// payment provider for prepaid orders and restoring the cart when the
// shopper abandons the gateway.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
}

// OrderService encapsulates order reads and the status state machine.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// ReturnService manages the post-delivery return workflow.
type ReturnService interface {
	Create(ctx context.Context, cmd CreateReturnCommand) (ReturnRequest, error)
	Review(ctx context.Context, cmd ReviewReturnCommand) (ReturnRequest, error)
	Get(ctx context.Context, returnID string, actor Actor) (ReturnRequest, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[ReturnRequest], error)
}

// RevenueService computes recognized revenue per seller from the full
// order and return ledgers. Every view recomputes from scratch; Recheck
// runs the same derivation off the request path when the ledger changes.
type RevenueService interface {
	SellerSummary(ctx context.Context, sellerID string) (SellerRevenueSummary, error)
	Recheck(ctx context.Context, sellerIDs []string)
}

// OrderEventPublisher accepts ledger change notifications for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// PaymentProvider abstracts the payment gateway used for prepaid checkout.
type PaymentProvider interface {
	Charge(ctx context.Context, cmd ChargeCommand) (ChargeResult, error)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// Actor identifies the caller for authorization decisions inside services.
type Actor struct {
	UserID   string
	SellerID string
	Admin    bool
}

// Command and DTO definitions ------------------------------------------------

// CartView packages the authoritative cart with any adjustments made
// while loading it. Notices are per-request and never persisted.
type CartView struct {
	Cart    Cart
	Notices []CartNotice
}

type AddCartItemCommand struct {
	Owner     CartOwner
	ProductID string
	Size      string
	Color     string
	Quantity  int
}

type SetCartQuantityCommand struct {
	Owner    CartOwner
	LineKey  string
	Quantity int
}

type RemoveCartItemCommand struct {
	Owner   CartOwner
	LineKey string
}

type MergeCartsCommand struct {
	UserID    string
	SessionID string
}

type CartCouponCommand struct {
	Owner CartOwner
	Code  string
}

type ValidateCouponCommand struct {
	Code        string
	Subtotal    int64
	AppliedCode string
}

// CouponValidationResult reports a successful validation.
type CouponValidationResult struct {
	Code     string
	Discount int64
}

// CouponRevalidationResult reports the recomputed discount, or that the
// coupon no longer qualifies and was detached.
type CouponRevalidationResult struct {
	Code     string
	Discount int64
	Detached bool
	Reason   string
}

type RevalidateCouponCommand struct {
	Code     string
	Subtotal int64
}

type CheckoutCommand struct {
	Owner         CartOwner
	PaymentMethod PaymentMethod
	PaymentToken  string
	ShippingAddr  Address
	Metadata      map[string]any
}

type OrderListFilter = repositories.OrderListFilter

type ReturnListFilter = repositories.ReturnListFilter

type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	Actor        Actor
	Reason       string
}

type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

type CreateReturnCommand struct {
	OrderID    string
	LineItemID string
	Quantity   int
	Reason     string
	Actor      Actor
}

type ReviewReturnCommand struct {
	ReturnID string
	Approve  bool
	Actor    Actor
}

// ChargeCommand carries the amount and confirmation token for a prepaid charge.
type ChargeCommand struct {
	Amount         int64
	Currency       string
	PaymentToken   string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// ChargeResult reports the gateway outcome. UserCancelled distinguishes a
// shopper dismissing the gateway from a declined or failed charge.
type ChargeResult struct {
	ProviderRef   string
	Succeeded     bool
	UserCancelled bool
	FailureReason string
}

type CounterCommand struct {
	CounterID string
	Step      int64
}

// clock is the injected time source shared by service constructors.
type clock = func() time.Time
