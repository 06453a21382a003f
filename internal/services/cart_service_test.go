package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/repositories"
)

func TestCartServiceAddItemCreatesLineFromStock(t *testing.T) {
	repo := newMemoryCartRepository()
	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return map[string]domain.StockLevel{
				domain.LineKey("prod-1", "M", "red"): {
					ProductID: "prod-1",
					Size:      "m",
					Color:     "red",
					Available: 10,
					UnitPrice: 450,
					SellerID:  "seller-1",
					Name:      "Cotton Tee",
					Active:    true,
				},
			}, nil
		},
	}

	service := newTestCartService(t, repo, stock, nil)

	view, err := service.AddItem(context.Background(), AddCartItemCommand{
		Owner:     CartOwner{SessionID: "sess-1"},
		ProductID: "prod-1",
		Size:      "M",
		Color:     "Red",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(view.Cart.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(view.Cart.Items))
	}
	item := view.Cart.Items[0]
	if item.Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", item.Quantity)
	}
	if item.UnitPrice != 450 {
		t.Fatalf("expected price from stock authority 450, got %d", item.UnitPrice)
	}
	if item.SellerID != "seller-1" {
		t.Fatalf("expected seller attribution, got %q", item.SellerID)
	}
	if item.Size != "m" || item.Color != "red" {
		t.Fatalf("expected normalized variant, got %q/%q", item.Size, item.Color)
	}
	if view.Cart.Estimate == nil || view.Cart.Estimate.Subtotal != 900 {
		t.Fatalf("expected estimate subtotal 900, got %+v", view.Cart.Estimate)
	}
}

func TestCartServiceAddItemClampsToAvailable(t *testing.T) {
	repo := newMemoryCartRepository()
	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return map[string]domain.StockLevel{
				domain.LineKey("prod-1", "", ""): {
					ProductID: "prod-1",
					Available: 3,
					UnitPrice: 100,
					Active:    true,
				},
			}, nil
		},
	}

	service := newTestCartService(t, repo, stock, nil)

	view, err := service.AddItem(context.Background(), AddCartItemCommand{
		Owner:     CartOwner{UserID: "user-1"},
		ProductID: "prod-1",
		Quantity:  5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Cart.Items[0].Quantity != 3 {
		t.Fatalf("expected quantity clamped to 3, got %d", view.Cart.Items[0].Quantity)
	}
	if !hasNotice(view.Notices, domain.CartNoticeClamped) {
		t.Fatalf("expected clamped notice, got %+v", view.Notices)
	}
}

func TestCartServiceAddItemMergesExistingLine(t *testing.T) {
	repo := newMemoryCartRepository()
	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return map[string]domain.StockLevel{
				domain.LineKey("prod-1", "", ""): {
					ProductID: "prod-1",
					Available: 10,
					UnitPrice: 100,
					Active:    true,
				},
			}, nil
		},
	}

	service := newTestCartService(t, repo, stock, nil)
	owner := CartOwner{UserID: "user-1"}

	if _, err := service.AddItem(context.Background(), AddCartItemCommand{Owner: owner, ProductID: "prod-1", Quantity: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	view, err := service.AddItem(context.Background(), AddCartItemCommand{Owner: owner, ProductID: "prod-1", Quantity: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(view.Cart.Items) != 1 {
		t.Fatalf("expected single merged line, got %d", len(view.Cart.Items))
	}
	if view.Cart.Items[0].Quantity != 5 {
		t.Fatalf("expected merged quantity 5, got %d", view.Cart.Items[0].Quantity)
	}
}

func TestCartServiceAddItemOutOfStock(t *testing.T) {
	repo := newMemoryCartRepository()
	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return map[string]domain.StockLevel{
				domain.LineKey("prod-1", "", ""): {ProductID: "prod-1", Available: 0, UnitPrice: 100, Active: true},
			}, nil
		},
	}

	service := newTestCartService(t, repo, stock, nil)
	_, err := service.AddItem(context.Background(), AddCartItemCommand{
		Owner:     CartOwner{UserID: "user-1"},
		ProductID: "prod-1",
		Quantity:  1,
	})
	if !errors.Is(err, ErrCartOutOfStock) {
		t.Fatalf("expected ErrCartOutOfStock, got %v", err)
	}
}

func TestCartServiceAddItemUnknownProduct(t *testing.T) {
	repo := newMemoryCartRepository()
	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return map[string]domain.StockLevel{}, nil
		},
	}

	service := newTestCartService(t, repo, stock, nil)
	_, err := service.AddItem(context.Background(), AddCartItemCommand{
		Owner:     CartOwner{UserID: "user-1"},
		ProductID: "ghost",
		Quantity:  1,
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceAddItemStockCheckFailureBlocks(t *testing.T) {
	repo := newMemoryCartRepository()
	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return nil, ErrStockCheckFailed
		},
	}

	service := newTestCartService(t, repo, stock, nil)
	_, err := service.AddItem(context.Background(), AddCartItemCommand{
		Owner:     CartOwner{UserID: "user-1"},
		ProductID: "prod-1",
		Quantity:  1,
	})
	if !errors.Is(err, ErrStockCheckFailed) {
		t.Fatalf("expected ErrStockCheckFailed, got %v", err)
	}
}

func TestCartServiceGetCartRefreshesPriceAndDropsRetiredLines(t *testing.T) {
	repo := newMemoryCartRepository()
	repo.carts["user:user-1"] = domain.Cart{
		ID:       "user:user-1",
		OwnerKey: "user:user-1",
		UserID:   "user-1",
		Currency: "INR",
		Items: []domain.CartItem{
			{ID: "l1", ProductID: "prod-1", Quantity: 2, UnitPrice: 100},
			{ID: "l2", ProductID: "prod-2", Quantity: 1, UnitPrice: 500},
		},
		UpdatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			// prod-2 was retired; prod-1 got a new price.
			return map[string]domain.StockLevel{
				domain.LineKey("prod-1", "", ""): {ProductID: "prod-1", Available: 10, UnitPrice: 120, Active: true},
			}, nil
		},
	}

	service := newTestCartService(t, repo, stock, nil)
	view, err := service.GetCart(context.Background(), CartOwner{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(view.Cart.Items) != 1 {
		t.Fatalf("expected retired line dropped, got %d items", len(view.Cart.Items))
	}
	if view.Cart.Items[0].UnitPrice != 120 {
		t.Fatalf("expected refreshed price 120, got %d", view.Cart.Items[0].UnitPrice)
	}
	if !hasNotice(view.Notices, domain.CartNoticeRemoved) {
		t.Fatalf("expected removed notice, got %+v", view.Notices)
	}
	if !hasNotice(view.Notices, domain.CartNoticePriceChanged) {
		t.Fatalf("expected price changed notice, got %+v", view.Notices)
	}

	// The corrected cart is persisted, not just returned.
	stored := repo.carts["user:user-1"]
	if len(stored.Items) != 1 || stored.Items[0].UnitPrice != 120 {
		t.Fatalf("expected corrected cart persisted, got %+v", stored.Items)
	}
}

func TestCartServiceSetQuantityZeroRemovesLine(t *testing.T) {
	repo := newMemoryCartRepository()
	repo.carts["user:user-1"] = domain.Cart{
		ID:       "user:user-1",
		OwnerKey: "user:user-1",
		Currency: "INR",
		Items: []domain.CartItem{
			{ID: "l1", ProductID: "prod-1", Quantity: 2, UnitPrice: 100},
		},
		UpdatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return map[string]domain.StockLevel{
				domain.LineKey("prod-1", "", ""): {ProductID: "prod-1", Available: 10, UnitPrice: 100, Active: true},
			}, nil
		},
	}

	service := newTestCartService(t, repo, stock, nil)
	view, err := service.SetQuantity(context.Background(), SetCartQuantityCommand{
		Owner:    CartOwner{UserID: "user-1"},
		LineKey:  domain.LineKey("prod-1", "", ""),
		Quantity: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Cart.Items) != 0 {
		t.Fatalf("expected line removed, got %d items", len(view.Cart.Items))
	}
}

func TestCartServiceRemoveItemUnknownLine(t *testing.T) {
	repo := newMemoryCartRepository()
	repo.carts["user:user-1"] = domain.Cart{
		ID:        "user:user-1",
		OwnerKey:  "user:user-1",
		Currency:  "INR",
		Items:     []domain.CartItem{},
		UpdatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return map[string]domain.StockLevel{}, nil
		},
	}

	service := newTestCartService(t, repo, stock, nil)
	_, err := service.RemoveItem(context.Background(), RemoveCartItemCommand{
		Owner:   CartOwner{UserID: "user-1"},
		LineKey: domain.LineKey("ghost", "", ""),
	})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCartServiceMergeOnLoginUnionsByMaxQuantity(t *testing.T) {
	repo := newMemoryCartRepository()
	repo.carts["user:user-1"] = domain.Cart{
		ID:       "user:user-1",
		OwnerKey: "user:user-1",
		UserID:   "user-1",
		Currency: "INR",
		Items: []domain.CartItem{
			{ID: "u1", ProductID: "prod-1", Quantity: 1, UnitPrice: 100},
			{ID: "u2", ProductID: "prod-2", Quantity: 2, UnitPrice: 200},
		},
		UpdatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	repo.carts["session:sess-9"] = domain.Cart{
		ID:       "session:sess-9",
		OwnerKey: "session:sess-9",
		Currency: "INR",
		Items: []domain.CartItem{
			{ID: "a1", ProductID: "prod-1", Quantity: 4, UnitPrice: 100},
			{ID: "a2", ProductID: "prod-3", Quantity: 1, UnitPrice: 300},
		},
		UpdatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}

	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return map[string]domain.StockLevel{
				domain.LineKey("prod-1", "", ""): {ProductID: "prod-1", Available: 10, UnitPrice: 100, Active: true},
				domain.LineKey("prod-2", "", ""): {ProductID: "prod-2", Available: 10, UnitPrice: 200, Active: true},
				domain.LineKey("prod-3", "", ""): {ProductID: "prod-3", Available: 10, UnitPrice: 300, Active: true},
			}, nil
		},
	}

	service := newTestCartService(t, repo, stock, nil)
	view, err := service.MergeOnLogin(context.Background(), MergeCartsCommand{UserID: "user-1", SessionID: "sess-9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(view.Cart.Items) != 3 {
		t.Fatalf("expected 3 merged lines, got %d", len(view.Cart.Items))
	}
	if qty := quantityOf(view.Cart.Items, "prod-1"); qty != 4 {
		t.Fatalf("expected max quantity 4 for prod-1, got %d", qty)
	}
	if qty := quantityOf(view.Cart.Items, "prod-2"); qty != 2 {
		t.Fatalf("expected quantity 2 for prod-2, got %d", qty)
	}
	if qty := quantityOf(view.Cart.Items, "prod-3"); qty != 1 {
		t.Fatalf("expected quantity 1 for prod-3, got %d", qty)
	}

	if _, ok := repo.carts["session:sess-9"]; ok {
		t.Fatalf("expected anonymous cart deleted after merge")
	}

	// Running the merge again is a no-op.
	again, err := service.MergeOnLogin(context.Background(), MergeCartsCommand{UserID: "user-1", SessionID: "sess-9"})
	if err != nil {
		t.Fatalf("unexpected error on second merge: %v", err)
	}
	if len(again.Cart.Items) != 3 || quantityOf(again.Cart.Items, "prod-1") != 4 {
		t.Fatalf("expected idempotent merge, got %+v", again.Cart.Items)
	}
}

func TestCartServiceApplyCouponAttachesValidatedDiscount(t *testing.T) {
	repo := newMemoryCartRepository()
	repo.carts["user:user-1"] = domain.Cart{
		ID:       "user:user-1",
		OwnerKey: "user:user-1",
		UserID:   "user-1",
		Currency: "INR",
		Items: []domain.CartItem{
			{ID: "l1", ProductID: "prod-1", Quantity: 2, UnitPrice: 500},
		},
		UpdatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return map[string]domain.StockLevel{
				domain.LineKey("prod-1", "", ""): {ProductID: "prod-1", Available: 10, UnitPrice: 500, Active: true},
			}, nil
		},
	}
	coupons := &stubCouponService{
		validateFunc: func(ctx context.Context, cmd ValidateCouponCommand) (CouponValidationResult, error) {
			if cmd.Subtotal != 1000 {
				t.Fatalf("expected validation against refreshed subtotal 1000, got %d", cmd.Subtotal)
			}
			return CouponValidationResult{Code: "SAVE200", Discount: 200}, nil
		},
		revalidateFunc: func(ctx context.Context, cmd RevalidateCouponCommand) (CouponRevalidationResult, error) {
			return CouponRevalidationResult{Code: cmd.Code, Discount: 200}, nil
		},
	}

	service := newTestCartService(t, repo, stock, coupons)
	view, err := service.ApplyCoupon(context.Background(), CartCouponCommand{
		Owner: CartOwner{UserID: "user-1"},
		Code:  "save200",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Cart.Coupon == nil || view.Cart.Coupon.Code != "SAVE200" {
		t.Fatalf("expected coupon attached, got %+v", view.Cart.Coupon)
	}
	if view.Cart.Coupon.DiscountAmount != 200 {
		t.Fatalf("expected discount 200, got %d", view.Cart.Coupon.DiscountAmount)
	}
}

func TestCartServiceGetCartDetachesStaleCoupon(t *testing.T) {
	repo := newMemoryCartRepository()
	repo.carts["user:user-1"] = domain.Cart{
		ID:       "user:user-1",
		OwnerKey: "user:user-1",
		UserID:   "user-1",
		Currency: "INR",
		Coupon:   &domain.CartCoupon{Code: "MIN1000", DiscountAmount: 100, Applied: true},
		Items: []domain.CartItem{
			{ID: "l1", ProductID: "prod-1", Quantity: 1, UnitPrice: 400},
		},
		UpdatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return map[string]domain.StockLevel{
				domain.LineKey("prod-1", "", ""): {ProductID: "prod-1", Available: 10, UnitPrice: 400, Active: true},
			}, nil
		},
	}
	coupons := &stubCouponService{
		revalidateFunc: func(ctx context.Context, cmd RevalidateCouponCommand) (CouponRevalidationResult, error) {
			return CouponRevalidationResult{Code: cmd.Code, Detached: true, Reason: CouponDetachBelowMinimum}, nil
		},
	}

	service := newTestCartService(t, repo, stock, coupons)
	view, err := service.GetCart(context.Background(), CartOwner{UserID: "user-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Cart.Coupon != nil {
		t.Fatalf("expected coupon detached, got %+v", view.Cart.Coupon)
	}
	if !hasNotice(view.Notices, domain.CartNoticeCouponDetached) {
		t.Fatalf("expected coupon detached notice, got %+v", view.Notices)
	}
}

func TestCartServiceSnapshotRestoreRoundTrip(t *testing.T) {
	repo := newMemoryCartRepository()
	repo.carts["user:user-1"] = domain.Cart{
		ID:       "user:user-1",
		OwnerKey: "user:user-1",
		UserID:   "user-1",
		Currency: "INR",
		Coupon:   &domain.CartCoupon{Code: "KEEP", DiscountAmount: 50, Applied: true},
		Items: []domain.CartItem{
			{ID: "l1", ProductID: "prod-1", Quantity: 2, UnitPrice: 100},
		},
		UpdatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return map[string]domain.StockLevel{
				domain.LineKey("prod-1", "", ""): {ProductID: "prod-1", Available: 10, UnitPrice: 100, Active: true},
			}, nil
		},
	}

	service := newTestCartService(t, repo, stock, nil)
	owner := CartOwner{UserID: "user-1"}

	snapshot, err := service.Snapshot(context.Background(), owner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := service.ClearCart(context.Background(), owner); err != nil {
		t.Fatalf("unexpected error clearing: %v", err)
	}
	if _, ok := repo.carts["user:user-1"]; ok {
		t.Fatalf("expected cart deleted")
	}

	if err := service.Restore(context.Background(), owner, snapshot); err != nil {
		t.Fatalf("unexpected error restoring: %v", err)
	}

	restored := repo.carts["user:user-1"]
	if len(restored.Items) != 1 || restored.Items[0].ProductID != "prod-1" || restored.Items[0].Quantity != 2 {
		t.Fatalf("expected items restored exactly, got %+v", restored.Items)
	}
	if restored.Coupon == nil || restored.Coupon.Code != "KEEP" {
		t.Fatalf("expected coupon restored, got %+v", restored.Coupon)
	}
}

func TestCartServiceRequiresOwner(t *testing.T) {
	repo := newMemoryCartRepository()
	stock := &stubStockChecker{
		levelsFunc: func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
			return map[string]domain.StockLevel{}, nil
		},
	}

	service := newTestCartService(t, repo, stock, nil)
	if _, err := service.GetCart(context.Background(), CartOwner{}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

// Helpers and stubs ----------------------------------------------------------

func newTestCartService(t *testing.T, repo repositories.CartRepository, stock StockChecker, coupons CouponService) CartService {
	t.Helper()
	clock := func() time.Time { return time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC) }
	counter := 0
	service, err := NewCartService(CartServiceDeps{
		Repository: repo,
		Stock:      stock,
		Coupons:    coupons,
		Clock:      clock,
		IDGenerator: func() string {
			counter++
			return fmt.Sprintf("line-%d", counter)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error constructing cart service: %v", err)
	}
	return service
}

func hasNotice(notices []CartNotice, code string) bool {
	for _, notice := range notices {
		if notice.Code == code {
			return true
		}
	}
	return false
}

func quantityOf(items []domain.CartItem, productID string) int {
	for _, item := range items {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return -1
}

// memoryCartRepository is a map-backed cart store for service tests.
type memoryCartRepository struct {
	carts map[string]domain.Cart
}

func newMemoryCartRepository() *memoryCartRepository {
	return &memoryCartRepository{carts: make(map[string]domain.Cart)}
}

func (m *memoryCartRepository) GetCart(ctx context.Context, ownerKey string) (domain.Cart, error) {
	cart, ok := m.carts[ownerKey]
	if !ok {
		return domain.Cart{}, &repositoryErrorStub{notFound: true}
	}
	return cart, nil
}

func (m *memoryCartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
	if expected != nil {
		current, ok := m.carts[cart.OwnerKey]
		if ok && !current.UpdatedAt.Equal(*expected) {
			return domain.Cart{}, &repositoryErrorStub{conflict: true}
		}
	}
	m.carts[cart.OwnerKey] = cart
	return cart, nil
}

func (m *memoryCartRepository) ReplaceItems(ctx context.Context, ownerKey string, items []domain.CartItem) (domain.Cart, error) {
	cart, ok := m.carts[ownerKey]
	if !ok {
		cart = domain.Cart{ID: ownerKey, OwnerKey: ownerKey}
	}
	cart.Items = items
	m.carts[ownerKey] = cart
	return cart, nil
}

func (m *memoryCartRepository) Delete(ctx context.Context, ownerKey string) error {
	if _, ok := m.carts[ownerKey]; !ok {
		return &repositoryErrorStub{notFound: true}
	}
	delete(m.carts, ownerKey)
	return nil
}

type stubStockChecker struct {
	levelsFunc func(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error)
}

func (s *stubStockChecker) Levels(ctx context.Context, keys []repositories.StockKey) (map[string]domain.StockLevel, error) {
	if s.levelsFunc != nil {
		return s.levelsFunc(ctx, keys)
	}
	return map[string]domain.StockLevel{}, nil
}

type stubCouponService struct {
	validateFunc   func(ctx context.Context, cmd ValidateCouponCommand) (CouponValidationResult, error)
	revalidateFunc func(ctx context.Context, cmd RevalidateCouponCommand) (CouponRevalidationResult, error)
	recordFunc     func(ctx context.Context, code, userID string) error
}

func (s *stubCouponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidationResult, error) {
	if s.validateFunc != nil {
		return s.validateFunc(ctx, cmd)
	}
	return CouponValidationResult{}, errors.New("not implemented")
}

func (s *stubCouponService) Revalidate(ctx context.Context, cmd RevalidateCouponCommand) (CouponRevalidationResult, error) {
	if s.revalidateFunc != nil {
		return s.revalidateFunc(ctx, cmd)
	}
	return CouponRevalidationResult{Code: cmd.Code}, nil
}

func (s *stubCouponService) RecordUsage(ctx context.Context, code, userID string) error {
	if s.recordFunc != nil {
		return s.recordFunc(ctx, code, userID)
	}
	return nil
}

type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryErrorStub) Error() string {
	return "repository error"
}

func (e *repositoryErrorStub) IsNotFound() bool {
	return e.notFound
}

func (e *repositoryErrorStub) IsConflict() bool {
	return e.conflict
}

func (e *repositoryErrorStub) IsUnavailable() bool {
	return e.unavailable
}
