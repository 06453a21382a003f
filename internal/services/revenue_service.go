package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/repositories"
)

var (
	// ErrRevenueInvalidInput signals a missing or malformed seller id.
	ErrRevenueInvalidInput = errors.New("revenue: invalid input")
	// ErrRevenueUnavailable indicates the ledgers could not be read.
	ErrRevenueUnavailable = errors.New("revenue: unavailable")
)

// RevenueServiceDeps bundles the ledgers the revenue engine reads from.
type RevenueServiceDeps struct {
	Orders  repositories.OrderRepository
	Returns repositories.ReturnRepository
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type revenueService struct {
	orders  repositories.OrderRepository
	returns repositories.ReturnRepository
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewRevenueService builds the per-seller revenue recognition engine.
// Summaries are derived from the complete order and return ledgers on
// every view. Return approvals and status transitions can arrive out of
// order relative to when a seller last looked, so the service never holds
// a computed summary between calls.
func NewRevenueService(deps RevenueServiceDeps) (RevenueService, error) {
	if deps.Orders == nil {
		return nil, errors.New("revenue service: order repository is required")
	}
	if deps.Returns == nil {
		return nil, errors.New("revenue service: return repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &revenueService{
		orders:  deps.Orders,
		returns: deps.Returns,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// SellerSummary computes recognized revenue for one seller from scratch.
func (s *revenueService) SellerSummary(ctx context.Context, sellerID string) (SellerRevenueSummary, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return SellerRevenueSummary{}, fmt.Errorf("%w: seller id is required", ErrRevenueInvalidInput)
	}
	return s.summarize(ctx, sellerID)
}

// summarize reloads both ledgers and derives the summary. Reconciliation
// anomalies (negative net, returns pointing at missing orders) are logged
// here so they surface on views and on event-driven rechecks alike.
func (s *revenueService) summarize(ctx context.Context, sellerID string) (SellerRevenueSummary, error) {
	orders, err := s.orders.ListBySeller(ctx, sellerID)
	if err != nil {
		return SellerRevenueSummary{}, ErrRevenueUnavailable
	}
	returns, err := s.returns.ListBySeller(ctx, sellerID)
	if err != nil {
		return SellerRevenueSummary{}, ErrRevenueUnavailable
	}

	summary := ComputeSellerRevenue(sellerID, orders, returns, s.clock())

	if summary.NetRevenue < 0 {
		s.logger(ctx, "revenue.negative_net", map[string]any{
			"sellerID": sellerID,
			"net":      summary.NetRevenue,
		})
	}
	for _, ret := range returns {
		if ret.Status != domain.ReturnStatusApproved {
			continue
		}
		if !containsOrder(orders, ret.OrderID) {
			s.logger(ctx, "revenue.return_without_order", map[string]any{
				"sellerID": sellerID,
				"returnID": ret.ID,
				"orderID":  ret.OrderID,
			})
		}
	}

	return summary, nil
}

// Recheck re-runs recognition for the given sellers off the request path,
// typically on an order ledger event. The result is discarded; the point is
// surfacing anomalies as soon as the ledger changes instead of waiting for
// the seller's next dashboard view.
func (s *revenueService) Recheck(ctx context.Context, sellerIDs []string) {
	for _, id := range sellerIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, err := s.summarize(ctx, id); err != nil {
			s.logger(ctx, "revenue.recheck_failed", map[string]any{
				"sellerID": id,
				"error":    err.Error(),
			})
		}
	}
}

// ComputeSellerRevenue derives a seller's recognized revenue from the full
// order and return history. It is pure: given the same ledgers it always
// produces the same summary.
//
// An order counts when its payment is settled: cash-on-delivery orders only
// once delivered, prepaid orders unless cancelled. The seller's share of a
// coupon discount is proportional to their share of the order subtotal.
// Approved returns deduct their value net of the same proration, and only
// when the originating order itself counts. The net is reported as-is, so
// heavy returns can push it negative.
func ComputeSellerRevenue(sellerID string, orders []domain.Order, returns []domain.ReturnRequest, asOf time.Time) domain.SellerRevenueSummary {
	summary := domain.SellerRevenueSummary{
		SellerID:    sellerID,
		GeneratedAt: asOf,
	}

	recognized := make(map[string]domain.Order, len(orders))
	for _, order := range orders {
		if !orderRecognizable(order) {
			continue
		}
		sellerSubtotal := sellerSubtotalOf(order, sellerID)
		if sellerSubtotal == 0 {
			continue
		}
		recognized[order.ID] = order
		summary.GrossSales += sellerSubtotal
		summary.DiscountShare += prorateDiscount(order, sellerSubtotal)
		summary.OrderCount++
	}

	for _, ret := range returns {
		if ret.Status != domain.ReturnStatusApproved {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(ret.SellerID), sellerID) {
			continue
		}
		order, ok := recognized[ret.OrderID]
		if !ok {
			// The originating order never earned revenue, so there is
			// nothing to claw back.
			continue
		}
		returnedValue := ret.Value()
		returnedDiscount := prorateDiscount(order, returnedValue)
		summary.ReturnDeductions += returnedValue - returnedDiscount
		summary.ReturnCount++
	}

	summary.NetRevenue = summary.GrossSales - summary.DiscountShare - summary.ReturnDeductions
	return summary
}

// orderRecognizable reports whether the order's money is settled enough to
// count toward revenue.
func orderRecognizable(order domain.Order) bool {
	switch order.PaymentMethod {
	case domain.PaymentMethodCOD:
		return order.Status == domain.OrderStatusDelivered
	default:
		return order.Status != domain.OrderStatusCancelled
	}
}

func sellerSubtotalOf(order domain.Order, sellerID string) int64 {
	var subtotal int64
	for _, item := range order.Items {
		if strings.EqualFold(strings.TrimSpace(item.SellerID), sellerID) {
			subtotal += item.Total
		}
	}
	return subtotal
}

// prorateDiscount returns the coupon discount attributable to a slice of
// the order subtotal. A zero subtotal attributes nothing.
func prorateDiscount(order domain.Order, portion int64) int64 {
	discount := order.Totals.CouponDiscount
	if discount <= 0 || order.Totals.Subtotal <= 0 || portion <= 0 {
		return 0
	}
	return discount * portion / order.Totals.Subtotal
}

func containsOrder(orders []domain.Order, orderID string) bool {
	for _, order := range orders {
		if order.ID == orderID {
			return true
		}
	}
	return false
}
