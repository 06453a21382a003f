package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/repositories"
)

func TestComputeSellerRevenueProratesCouponDiscount(t *testing.T) {
	asOf := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// One prepaid order of 1000 split 600/400 between two sellers with a
	// 200 coupon. Seller A's share is 200*600/1000 = 120.
	orders := []domain.Order{
		{
			ID:            "ord-1",
			PaymentMethod: domain.PaymentMethodPrepaid,
			Status:        domain.OrderStatusProcessing,
			Totals:        domain.OrderTotals{Subtotal: 1000, CouponDiscount: 200},
			Items: []domain.OrderLineItem{
				{ID: "l1", SellerID: "seller-a", Quantity: 2, UnitPrice: 300, Total: 600},
				{ID: "l2", SellerID: "seller-b", Quantity: 1, UnitPrice: 400, Total: 400},
			},
		},
	}

	summary := ComputeSellerRevenue("seller-a", orders, nil, asOf)
	if summary.GrossSales != 600 {
		t.Fatalf("expected gross 600, got %d", summary.GrossSales)
	}
	if summary.DiscountShare != 120 {
		t.Fatalf("expected discount share 120, got %d", summary.DiscountShare)
	}
	if summary.NetRevenue != 480 {
		t.Fatalf("expected net 480, got %d", summary.NetRevenue)
	}
	if summary.OrderCount != 1 {
		t.Fatalf("expected order count 1, got %d", summary.OrderCount)
	}

	other := ComputeSellerRevenue("seller-b", orders, nil, asOf)
	if other.DiscountShare != 80 {
		t.Fatalf("expected seller-b discount share 80, got %d", other.DiscountShare)
	}
}

func TestComputeSellerRevenueCODRecognizedOnlyWhenDelivered(t *testing.T) {
	asOf := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	base := domain.Order{
		ID:            "ord-cod",
		PaymentMethod: domain.PaymentMethodCOD,
		Totals:        domain.OrderTotals{Subtotal: 500},
		Items: []domain.OrderLineItem{
			{ID: "l1", SellerID: "seller-a", Quantity: 1, UnitPrice: 500, Total: 500},
		},
	}

	for _, status := range []domain.OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCancelled} {
		order := base
		order.Status = status
		summary := ComputeSellerRevenue("seller-a", []domain.Order{order}, nil, asOf)
		if summary.GrossSales != 0 {
			t.Fatalf("status %s: expected COD order unrecognized, got gross %d", status, summary.GrossSales)
		}
	}

	delivered := base
	delivered.Status = domain.OrderStatusDelivered
	summary := ComputeSellerRevenue("seller-a", []domain.Order{delivered}, nil, asOf)
	if summary.GrossSales != 500 {
		t.Fatalf("expected delivered COD order recognized, got gross %d", summary.GrossSales)
	}
}

func TestComputeSellerRevenuePrepaidRecognizedUnlessCancelled(t *testing.T) {
	asOf := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	base := domain.Order{
		ID:            "ord-pre",
		PaymentMethod: domain.PaymentMethodPrepaid,
		Totals:        domain.OrderTotals{Subtotal: 500},
		Items: []domain.OrderLineItem{
			{ID: "l1", SellerID: "seller-a", Quantity: 1, UnitPrice: 500, Total: 500},
		},
	}

	processing := base
	processing.Status = domain.OrderStatusProcessing
	if s := ComputeSellerRevenue("seller-a", []domain.Order{processing}, nil, asOf); s.GrossSales != 500 {
		t.Fatalf("expected processing prepaid order recognized, got %d", s.GrossSales)
	}

	cancelled := base
	cancelled.Status = domain.OrderStatusCancelled
	if s := ComputeSellerRevenue("seller-a", []domain.Order{cancelled}, nil, asOf); s.GrossSales != 0 {
		t.Fatalf("expected cancelled prepaid order excluded, got %d", s.GrossSales)
	}
}

func TestComputeSellerRevenueReturnDeductionNetOfDiscount(t *testing.T) {
	asOf := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	orders := []domain.Order{
		{
			ID:            "ord-1",
			PaymentMethod: domain.PaymentMethodPrepaid,
			Status:        domain.OrderStatusDelivered,
			Totals:        domain.OrderTotals{Subtotal: 1000, CouponDiscount: 200},
			Items: []domain.OrderLineItem{
				{ID: "l1", SellerID: "seller-a", Quantity: 2, UnitPrice: 500, Total: 1000},
			},
		},
	}
	returns := []domain.ReturnRequest{
		{
			ID:        "ret-1",
			OrderID:   "ord-1",
			SellerID:  "seller-a",
			Quantity:  1,
			UnitPrice: 500,
			Status:    domain.ReturnStatusApproved,
		},
	}

	summary := ComputeSellerRevenue("seller-a", orders, returns, asOf)

	// Returned value 500 carries 200*500/1000 = 100 of the coupon, so the
	// deduction is 400.
	if summary.ReturnDeductions != 400 {
		t.Fatalf("expected return deduction 400, got %d", summary.ReturnDeductions)
	}
	// Gross 1000 - discount 200 - deduction 400.
	if summary.NetRevenue != 400 {
		t.Fatalf("expected net 400, got %d", summary.NetRevenue)
	}
	if summary.ReturnCount != 1 {
		t.Fatalf("expected return count 1, got %d", summary.ReturnCount)
	}
}

func TestComputeSellerRevenuePendingAndRejectedReturnsIgnored(t *testing.T) {
	asOf := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	orders := []domain.Order{
		{
			ID:            "ord-1",
			PaymentMethod: domain.PaymentMethodPrepaid,
			Status:        domain.OrderStatusDelivered,
			Totals:        domain.OrderTotals{Subtotal: 500},
			Items: []domain.OrderLineItem{
				{ID: "l1", SellerID: "seller-a", Quantity: 1, UnitPrice: 500, Total: 500},
			},
		},
	}
	returns := []domain.ReturnRequest{
		{ID: "ret-1", OrderID: "ord-1", SellerID: "seller-a", Quantity: 1, UnitPrice: 500, Status: domain.ReturnStatusPending},
		{ID: "ret-2", OrderID: "ord-1", SellerID: "seller-a", Quantity: 1, UnitPrice: 500, Status: domain.ReturnStatusRejected},
	}

	summary := ComputeSellerRevenue("seller-a", orders, returns, asOf)
	if summary.ReturnDeductions != 0 || summary.ReturnCount != 0 {
		t.Fatalf("expected unapproved returns ignored, got %+v", summary)
	}
}

func TestComputeSellerRevenueReturnAgainstUnrecognizedOrder(t *testing.T) {
	asOf := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// COD order still in transit: no revenue, so its approved return must
	// not claw anything back either.
	orders := []domain.Order{
		{
			ID:            "ord-1",
			PaymentMethod: domain.PaymentMethodCOD,
			Status:        domain.OrderStatusShipped,
			Totals:        domain.OrderTotals{Subtotal: 500},
			Items: []domain.OrderLineItem{
				{ID: "l1", SellerID: "seller-a", Quantity: 1, UnitPrice: 500, Total: 500},
			},
		},
	}
	returns := []domain.ReturnRequest{
		{ID: "ret-1", OrderID: "ord-1", SellerID: "seller-a", Quantity: 1, UnitPrice: 500, Status: domain.ReturnStatusApproved},
	}

	summary := ComputeSellerRevenue("seller-a", orders, returns, asOf)
	if summary.ReturnDeductions != 0 {
		t.Fatalf("expected no deduction for unrecognized order, got %d", summary.ReturnDeductions)
	}
	if summary.NetRevenue != 0 {
		t.Fatalf("expected zero net, got %d", summary.NetRevenue)
	}
}

func TestComputeSellerRevenueAggregatesAcrossOrders(t *testing.T) {
	asOf := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	orders := []domain.Order{
		{
			ID:            "ord-1",
			PaymentMethod: domain.PaymentMethodPrepaid,
			Status:        domain.OrderStatusDelivered,
			Totals:        domain.OrderTotals{Subtotal: 300},
			Items: []domain.OrderLineItem{
				{ID: "l1", SellerID: "seller-a", Quantity: 1, UnitPrice: 300, Total: 300},
			},
		},
		{
			ID:            "ord-2",
			PaymentMethod: domain.PaymentMethodPrepaid,
			Status:        domain.OrderStatusDelivered,
			Totals:        domain.OrderTotals{Subtotal: 1000, CouponDiscount: 900},
			Items: []domain.OrderLineItem{
				{ID: "l2", SellerID: "seller-a", Quantity: 1, UnitPrice: 1000, Total: 1000},
			},
		},
	}
	returns := []domain.ReturnRequest{
		{ID: "ret-1", OrderID: "ord-2", SellerID: "seller-a", Quantity: 1, UnitPrice: 1000, Status: domain.ReturnStatusApproved},
	}

	summary := ComputeSellerRevenue("seller-a", orders, returns, asOf)
	// Gross 1300, discount 900, deduction 1000-900=100.
	if summary.GrossSales != 1300 {
		t.Fatalf("expected gross 1300, got %d", summary.GrossSales)
	}
	if summary.DiscountShare != 900 {
		t.Fatalf("expected discount share 900, got %d", summary.DiscountShare)
	}
	if summary.ReturnDeductions != 100 {
		t.Fatalf("expected deduction 100, got %d", summary.ReturnDeductions)
	}
	if summary.NetRevenue != 300 {
		t.Fatalf("expected net 300, got %d", summary.NetRevenue)
	}
	if summary.OrderCount != 2 || summary.ReturnCount != 1 {
		t.Fatalf("expected 2 orders and 1 return, got %+v", summary)
	}
}

func TestComputeSellerRevenueNegativeNetReported(t *testing.T) {
	asOf := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// An order with a heavy coupon whose full value is returned: the
	// deduction exceeds what the seller ever grossed net of discount.
	orders := []domain.Order{
		{
			ID:            "ord-1",
			PaymentMethod: domain.PaymentMethodPrepaid,
			Status:        domain.OrderStatusDelivered,
			Totals:        domain.OrderTotals{Subtotal: 1000, CouponDiscount: 600},
			Items: []domain.OrderLineItem{
				{ID: "l1", SellerID: "seller-a", Quantity: 1, UnitPrice: 400, Total: 400},
				{ID: "l2", SellerID: "seller-b", Quantity: 1, UnitPrice: 600, Total: 600},
			},
		},
	}
	// seller-a grossed 400 with discount share 240. Returning the 400 line
	// deducts 400-240=160... still positive. Use two returns of the same
	// line quantity to simulate repeated clawbacks instead.
	returns := []domain.ReturnRequest{
		{ID: "ret-1", OrderID: "ord-1", SellerID: "seller-a", Quantity: 1, UnitPrice: 400, Status: domain.ReturnStatusApproved},
		{ID: "ret-2", OrderID: "ord-1", SellerID: "seller-a", Quantity: 1, UnitPrice: 400, Status: domain.ReturnStatusApproved},
	}

	summary := ComputeSellerRevenue("seller-a", orders, returns, asOf)
	// Gross 400, discount 240, deductions 2*(400-240)=320: net -160.
	if summary.NetRevenue != -160 {
		t.Fatalf("expected negative net -160, got %d", summary.NetRevenue)
	}
}

func TestRevenueServiceRecomputesOnEveryView(t *testing.T) {
	now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)

	// The ledger grows between two views with no notification in between.
	// The second view must still see the new order.
	ledger := []domain.Order{
		{
			ID:            "ord-1",
			PaymentMethod: domain.PaymentMethodPrepaid,
			Status:        domain.OrderStatusDelivered,
			Totals:        domain.OrderTotals{Subtotal: 500},
			Items: []domain.OrderLineItem{
				{ID: "l1", SellerID: "seller-a", Quantity: 1, UnitPrice: 500, Total: 500},
			},
		},
	}
	var orderReads int
	orders := &stubOrderRepository{
		listBySellerFunc: func(ctx context.Context, sellerID string) ([]domain.Order, error) {
			orderReads++
			return ledger, nil
		},
	}

	service, err := NewRevenueService(RevenueServiceDeps{
		Orders:  orders,
		Returns: &stubReturnRepository{},
		Clock:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	first, err := service.SellerSummary(ctx, "seller-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.NetRevenue != 500 {
		t.Fatalf("expected net 500 on first view, got %d", first.NetRevenue)
	}

	ledger = append(ledger, domain.Order{
		ID:            "ord-2",
		PaymentMethod: domain.PaymentMethodPrepaid,
		Status:        domain.OrderStatusDelivered,
		Totals:        domain.OrderTotals{Subtotal: 700},
		Items: []domain.OrderLineItem{
			{ID: "l2", SellerID: "seller-a", Quantity: 1, UnitPrice: 700, Total: 700},
		},
	})

	second, err := service.SellerSummary(ctx, "seller-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.NetRevenue != 1200 {
		t.Fatalf("expected net 1200 after ledger change, got %d", second.NetRevenue)
	}
	if orderReads != 2 {
		t.Fatalf("expected a ledger read per view, got %d", orderReads)
	}
}

func TestRevenueServiceRecheckLogsAnomalies(t *testing.T) {
	orders := &stubOrderRepository{
		listBySellerFunc: func(ctx context.Context, sellerID string) ([]domain.Order, error) {
			return nil, nil
		},
	}
	returns := &stubReturnRepository{
		listBySellerFunc: func(ctx context.Context, sellerID string) ([]domain.ReturnRequest, error) {
			return []domain.ReturnRequest{
				{ID: "ret-1", OrderID: "ord-gone", SellerID: sellerID, Quantity: 1, UnitPrice: 100, Status: domain.ReturnStatusApproved},
			}, nil
		},
	}

	var events []string
	service, err := NewRevenueService(RevenueServiceDeps{
		Orders:  orders,
		Returns: returns,
		Logger: func(ctx context.Context, event string, fields map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	service.Recheck(context.Background(), []string{"seller-a", "  "})

	found := false
	for _, event := range events {
		if event == "revenue.return_without_order" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected orphan return anomaly logged, got %v", events)
	}
}

func TestComputeSellerRevenueAdditiveAcrossSellers(t *testing.T) {
	asOf := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	// Single-seller orders only: summing every seller's net must reconcile
	// to the platform total for the dataset.
	orders := []domain.Order{
		{
			ID:            "ord-a1",
			PaymentMethod: domain.PaymentMethodPrepaid,
			Status:        domain.OrderStatusDelivered,
			Totals:        domain.OrderTotals{Subtotal: 1000, CouponDiscount: 200},
			Items: []domain.OrderLineItem{
				{ID: "a1", SellerID: "seller-a", Quantity: 2, UnitPrice: 500, Total: 1000},
			},
		},
		{
			ID:            "ord-b1",
			PaymentMethod: domain.PaymentMethodCOD,
			Status:        domain.OrderStatusDelivered,
			Totals:        domain.OrderTotals{Subtotal: 600},
			Items: []domain.OrderLineItem{
				{ID: "b1", SellerID: "seller-b", Quantity: 1, UnitPrice: 600, Total: 600},
			},
		},
		{
			ID:            "ord-b2",
			PaymentMethod: domain.PaymentMethodCOD,
			Status:        domain.OrderStatusProcessing,
			Totals:        domain.OrderTotals{Subtotal: 900},
			Items: []domain.OrderLineItem{
				{ID: "b2", SellerID: "seller-b", Quantity: 1, UnitPrice: 900, Total: 900},
			},
		},
		{
			ID:            "ord-c1",
			PaymentMethod: domain.PaymentMethodPrepaid,
			Status:        domain.OrderStatusCancelled,
			Totals:        domain.OrderTotals{Subtotal: 400},
			Items: []domain.OrderLineItem{
				{ID: "c1", SellerID: "seller-c", Quantity: 1, UnitPrice: 400, Total: 400},
			},
		},
		{
			ID:            "ord-c2",
			PaymentMethod: domain.PaymentMethodPrepaid,
			Status:        domain.OrderStatusProcessing,
			Totals:        domain.OrderTotals{Subtotal: 250},
			Items: []domain.OrderLineItem{
				{ID: "c2", SellerID: "seller-c", Quantity: 1, UnitPrice: 250, Total: 250},
			},
		},
	}
	returns := []domain.ReturnRequest{
		// Deduction: value 500 minus prorated coupon 100.
		{ID: "ret-a", OrderID: "ord-a1", SellerID: "seller-a", Quantity: 1, UnitPrice: 500, Status: domain.ReturnStatusApproved},
		// Against a cancelled order: no revenue was recognized, no clawback.
		{ID: "ret-c", OrderID: "ord-c1", SellerID: "seller-c", Quantity: 1, UnitPrice: 400, Status: domain.ReturnStatusApproved},
	}

	want := map[string]int64{
		"seller-a": 400, // 1000 - 200 - (500-100)
		"seller-b": 600, // delivered COD only
		"seller-c": 250, // cancelled order excluded
	}

	var platformTotal int64
	for seller, net := range want {
		summary := ComputeSellerRevenue(seller, orders, returns, asOf)
		if summary.NetRevenue != net {
			t.Fatalf("seller %s: expected net %d, got %d", seller, net, summary.NetRevenue)
		}
		platformTotal += summary.NetRevenue
	}
	if platformTotal != 1250 {
		t.Fatalf("expected platform total 1250, got %d", platformTotal)
	}
}

func TestRevenueServiceLedgerFailure(t *testing.T) {
	orders := &stubOrderRepository{
		listBySellerFunc: func(ctx context.Context, sellerID string) ([]domain.Order, error) {
			return nil, &repositoryErrorStub{unavailable: true}
		},
	}
	returns := &stubReturnRepository{}

	service, err := NewRevenueService(RevenueServiceDeps{Orders: orders, Returns: returns})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.SellerSummary(context.Background(), "seller-a"); !errors.Is(err, ErrRevenueUnavailable) {
		t.Fatalf("expected ErrRevenueUnavailable, got %v", err)
	}
}

func TestRevenueServiceRequiresSellerID(t *testing.T) {
	service, err := NewRevenueService(RevenueServiceDeps{
		Orders:  &stubOrderRepository{},
		Returns: &stubReturnRepository{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.SellerSummary(context.Background(), "  "); !errors.Is(err, ErrRevenueInvalidInput) {
		t.Fatalf("expected ErrRevenueInvalidInput, got %v", err)
	}
}

// Shared order/return repository stubs ---------------------------------------

type stubOrderRepository struct {
	insertFunc       func(ctx context.Context, order domain.Order) error
	updateFunc       func(ctx context.Context, order domain.Order) error
	findFunc         func(ctx context.Context, orderID string) (domain.Order, error)
	listFunc         func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	listBySellerFunc func(ctx context.Context, sellerID string) ([]domain.Order, error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFunc != nil {
		return s.insertFunc(ctx, order)
	}
	return nil
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, order)
	}
	return nil
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFunc != nil {
		return s.findFunc(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepository) ListBySeller(ctx context.Context, sellerID string) ([]domain.Order, error) {
	if s.listBySellerFunc != nil {
		return s.listBySellerFunc(ctx, sellerID)
	}
	return nil, nil
}

type stubReturnRepository struct {
	insertFunc       func(ctx context.Context, req domain.ReturnRequest) error
	updateFunc       func(ctx context.Context, req domain.ReturnRequest) error
	findFunc         func(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	listFunc         func(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
	listBySellerFunc func(ctx context.Context, sellerID string) ([]domain.ReturnRequest, error)
}

func (s *stubReturnRepository) Insert(ctx context.Context, req domain.ReturnRequest) error {
	if s.insertFunc != nil {
		return s.insertFunc(ctx, req)
	}
	return nil
}

func (s *stubReturnRepository) Update(ctx context.Context, req domain.ReturnRequest) error {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, req)
	}
	return nil
}

func (s *stubReturnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	if s.findFunc != nil {
		return s.findFunc(ctx, returnID)
	}
	return domain.ReturnRequest{}, errors.New("not implemented")
}

func (s *stubReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[domain.ReturnRequest]{}, nil
}

func (s *stubReturnRepository) ListBySeller(ctx context.Context, sellerID string) ([]domain.ReturnRequest, error) {
	if s.listBySellerFunc != nil {
		return s.listBySellerFunc(ctx, sellerID)
	}
	return nil, nil
}
