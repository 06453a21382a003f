package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput signals the caller provided invalid data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates there is nothing to buy.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutStockConflict indicates stock moved between the cart view and order placement.
	ErrCheckoutStockConflict = errors.New("checkout: stock conflict")
	// ErrCheckoutPaymentFailed indicates the gateway declined or errored.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutCancelled indicates the shopper dismissed the payment gateway.
	ErrCheckoutCancelled = errors.New("checkout: cancelled by user")
	// ErrCheckoutPersistFailed indicates the order could not be recorded.
	ErrCheckoutPersistFailed = errors.New("checkout: order persistence failed")
	// ErrCheckoutUnavailable indicates a required dependency is missing or down.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// CheckoutServiceDeps bundles every collaborator the checkout flow touches.
type CheckoutServiceDeps struct {
	Carts       CartService
	Stock       StockChecker
	StockWriter repositories.StockRepository
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Coupons     CouponService
	Pricer      *PricingEngine
	Payments    PaymentProvider
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts       CartService
	stock       StockChecker
	stockWriter repositories.StockRepository
	orders      repositories.OrderRepository
	counters    repositories.CounterRepository
	coupons     CouponService
	pricer      *PricingEngine
	payments    PaymentProvider
	unitOfWork  repositories.UnitOfWork
	now         func() time.Time
	newID       func() string
	events      OrderEventPublisher
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("checkout service: stock checker is required")
	}
	if deps.StockWriter == nil {
		return nil, errors.New("checkout service: stock repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter repository is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("checkout service: pricing engine is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:       deps.Carts,
		stock:       deps.Stock,
		stockWriter: deps.StockWriter,
		orders:      deps.Orders,
		counters:    deps.Counters,
		coupons:     deps.Coupons,
		pricer:      deps.Pricer,
		payments:    deps.Payments,
		unitOfWork:  unit,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

// Checkout converts the owner's cart into an order. Stock is re-consulted
// against the authority immediately before placement, the gateway is charged
// for prepaid orders, and the order insert plus stock decrement run in one
// transaction. A dismissed gateway restores the cart to the exact state it
// had before checkout began.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	if cmd.PaymentMethod != domain.PaymentMethodCOD && cmd.PaymentMethod != domain.PaymentMethodPrepaid {
		return Order{}, fmt.Errorf("%w: unsupported payment method", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.Owner.UserID) == "" {
		return Order{}, fmt.Errorf("%w: checkout requires a signed-in user", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.ShippingAddr.Line1) == "" {
		return Order{}, fmt.Errorf("%w: shipping address is required", ErrCheckoutInvalidInput)
	}

	snapshot, err := s.carts.Snapshot(ctx, cmd.Owner)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return Order{}, ErrCheckoutEmptyCart
		}
		return Order{}, ErrCheckoutUnavailable
	}

	view, err := s.carts.GetCart(ctx, cmd.Owner)
	if err != nil {
		return Order{}, translateCheckoutCartError(err)
	}
	cart := view.Cart
	if len(cart.Items) == 0 {
		return Order{}, ErrCheckoutEmptyCart
	}

	// Final stock confirmation against the authority, never a cached read.
	levels, err := s.confirmStock(ctx, cart.Items)
	if err != nil {
		return Order{}, err
	}

	var discount int64
	couponCode := ""
	if cart.Coupon != nil && cart.Coupon.Applied {
		discount = cart.Coupon.DiscountAmount
		couponCode = cart.Coupon.Code
	}

	breakdown, err := s.pricer.ComputeTotal(cart.Items, discount, cmd.PaymentMethod)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	now := s.now()
	order, err := s.buildOrder(ctx, cart, cmd, breakdown, levels, now)
	if err != nil {
		return Order{}, err
	}

	if cmd.PaymentMethod == domain.PaymentMethodPrepaid {
		if s.payments == nil {
			return Order{}, ErrCheckoutUnavailable
		}
		result, err := s.payments.Charge(ctx, ChargeCommand{
			Amount:         breakdown.Total,
			Currency:       breakdown.Currency,
			PaymentToken:   cmd.PaymentToken,
			IdempotencyKey: checkoutIdempotencyKey(cart.OwnerKey, cart.UpdatedAt),
			Description:    fmt.Sprintf("order %s", order.OrderNumber),
			Metadata:       map[string]string{"orderNumber": order.OrderNumber},
		})
		if err != nil {
			s.logger(ctx, "checkout.charge_failed", map[string]any{
				"ownerKey": cart.OwnerKey,
				"error":    err.Error(),
			})
			return Order{}, ErrCheckoutPaymentFailed
		}
		if result.UserCancelled {
			// The one cancellation path: put the cart back exactly as it
			// was before checkout started.
			if restoreErr := s.carts.Restore(ctx, cmd.Owner, snapshot); restoreErr != nil {
				s.logger(ctx, "checkout.cart_restore_failed", map[string]any{
					"ownerKey": cart.OwnerKey,
					"error":    restoreErr.Error(),
				})
			}
			return Order{}, ErrCheckoutCancelled
		}
		if !result.Succeeded {
			s.logger(ctx, "checkout.payment_declined", map[string]any{
				"ownerKey": cart.OwnerKey,
				"reason":   result.FailureReason,
			})
			return Order{}, ErrCheckoutPaymentFailed
		}
		order.Metadata["paymentRef"] = result.ProviderRef
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.stockWriter.Decrement(txCtx, decrementLines(cart.Items), now); err != nil {
			return err
		}
		return s.orders.Insert(txCtx, order)
	})
	if err != nil {
		if isRepoConflict(err) {
			return Order{}, ErrCheckoutStockConflict
		}
		s.logger(ctx, "checkout.persist_failed", map[string]any{
			"ownerKey": cart.OwnerKey,
			"orderID":  order.ID,
			"error":    err.Error(),
		})
		return Order{}, ErrCheckoutPersistFailed
	}

	if couponCode != "" && s.coupons != nil {
		if err := s.coupons.RecordUsage(ctx, couponCode, order.UserID); err != nil {
			s.logger(ctx, "checkout.coupon_usage_failed", map[string]any{
				"code":  couponCode,
				"error": err.Error(),
			})
		}
	}

	if err := s.carts.ClearCart(ctx, cmd.Owner); err != nil {
		s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
			"ownerKey": cart.OwnerKey,
			"error":    err.Error(),
		})
	}

	s.publishEvent(ctx, domain.OrderEvent{
		Type:       domain.OrderEventPlaced,
		OrderID:    order.ID,
		UserID:     order.UserID,
		SellerIDs:  orderSellerIDs(order),
		Status:     string(order.Status),
		OccurredAt: now,
	})

	return order, nil
}

func (s *checkoutService) confirmStock(ctx context.Context, items []domain.CartItem) (map[string]domain.StockLevel, error) {
	keys := make([]repositories.StockKey, 0, len(items))
	for _, item := range items {
		keys = append(keys, repositories.StockKey{ProductID: item.ProductID, Size: item.Size, Color: item.Color})
	}
	levels, err := s.stock.Levels(ctx, keys)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		level, ok := levels[item.LineKey()]
		if !ok || !level.Active || level.Available < item.Quantity {
			return nil, ErrCheckoutStockConflict
		}
	}
	return levels, nil
}

func (s *checkoutService) buildOrder(ctx context.Context, cart Cart, cmd CheckoutCommand, breakdown domain.PricingBreakdown, levels map[string]domain.StockLevel, now time.Time) (Order, error) {
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		s.logger(ctx, "checkout.order_number_failed", map[string]any{"error": err.Error()})
		return Order{}, ErrCheckoutUnavailable
	}

	addr := cmd.ShippingAddr
	order := Order{
		ID:            orderIDPrefix + s.newID(),
		OrderNumber:   number,
		UserID:        strings.TrimSpace(cmd.Owner.UserID),
		Status:        domain.OrderStatusProcessing,
		PaymentMethod: cmd.PaymentMethod,
		Currency:      breakdown.Currency,
		Totals: domain.OrderTotals{
			Subtotal:       breakdown.Subtotal,
			CouponDiscount: breakdown.CouponDiscount,
			Tax:            breakdown.Tax,
			PlatformFee:    breakdown.PlatformFee,
			Shipping:       breakdown.Shipping,
			Total:          breakdown.Total,
		},
		Items:        buildOrderLineItems(cart.Items, levels, s.newID),
		ShippingAddr: &addr,
		Metadata:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
		PlacedAt:     now,
	}
	for k, v := range cmd.Metadata {
		order.Metadata[k] = v
	}
	if cart.Coupon != nil && cart.Coupon.Applied {
		coupon := *cart.Coupon
		order.Coupon = &coupon
	}
	return order, nil
}

// buildOrderLineItems snapshots cart lines at placement time, including the
// product's return window. Later product or price edits never touch these
// records.
func buildOrderLineItems(items []domain.CartItem, levels map[string]domain.StockLevel, newID func() string) []domain.OrderLineItem {
	lines := make([]domain.OrderLineItem, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		line := domain.OrderLineItem{
			ID:        lineIDPrefix + newID(),
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Name:      item.Name,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.UnitPrice * int64(item.Quantity),
		}
		if level, ok := levels[item.LineKey()]; ok {
			line.ReturnWindowDays = level.ReturnWindowDays
		}
		lines = append(lines, line)
	}
	return lines
}

func decrementLines(items []domain.CartItem) []repositories.StockDecrementLine {
	lines := make([]repositories.StockDecrementLine, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		lines = append(lines, repositories.StockDecrementLine{
			Key:      repositories.StockKey{ProductID: item.ProductID, Size: item.Size, Color: item.Color},
			Quantity: item.Quantity,
		})
	}
	return lines
}

func (s *checkoutService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("BH-%04d-%06d", now.Year(), seq), nil
}

func checkoutIdempotencyKey(ownerKey string, updatedAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", ownerKey, updatedAt.UnixNano())))
	return hex.EncodeToString(sum[:])
}

func (s *checkoutService) publishEvent(ctx context.Context, event domain.OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func translateCheckoutCartError(err error) error {
	switch {
	case errors.Is(err, ErrCartNotFound):
		return ErrCheckoutEmptyCart
	case errors.Is(err, ErrStockCheckFailed):
		return err
	case errors.Is(err, ErrCartInvalidInput):
		return ErrCheckoutInvalidInput
	default:
		return ErrCheckoutUnavailable
	}
}
