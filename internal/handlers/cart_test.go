package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/services"
)

type stubCartService struct {
	getFunc          func(ctx context.Context, owner domain.CartOwner) (services.CartView, error)
	addFunc          func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error)
	setQuantityFunc  func(ctx context.Context, cmd services.SetCartQuantityCommand) (services.CartView, error)
	removeFunc       func(ctx context.Context, cmd services.RemoveCartItemCommand) (services.CartView, error)
	mergeFunc        func(ctx context.Context, cmd services.MergeCartsCommand) (services.CartView, error)
	applyCouponFunc  func(ctx context.Context, cmd services.CartCouponCommand) (services.CartView, error)
	removeCouponFunc func(ctx context.Context, owner domain.CartOwner) (services.CartView, error)
	clearFunc        func(ctx context.Context, owner domain.CartOwner) error
}

func (s *stubCartService) GetCart(ctx context.Context, owner domain.CartOwner) (services.CartView, error) {
	return s.getFunc(ctx, owner)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
	return s.addFunc(ctx, cmd)
}

func (s *stubCartService) SetQuantity(ctx context.Context, cmd services.SetCartQuantityCommand) (services.CartView, error) {
	return s.setQuantityFunc(ctx, cmd)
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd services.RemoveCartItemCommand) (services.CartView, error) {
	return s.removeFunc(ctx, cmd)
}

func (s *stubCartService) MergeOnLogin(ctx context.Context, cmd services.MergeCartsCommand) (services.CartView, error) {
	return s.mergeFunc(ctx, cmd)
}

func (s *stubCartService) ApplyCoupon(ctx context.Context, cmd services.CartCouponCommand) (services.CartView, error) {
	return s.applyCouponFunc(ctx, cmd)
}

func (s *stubCartService) RemoveCoupon(ctx context.Context, owner domain.CartOwner) (services.CartView, error) {
	return s.removeCouponFunc(ctx, owner)
}

func (s *stubCartService) ClearCart(ctx context.Context, owner domain.CartOwner) error {
	return s.clearFunc(ctx, owner)
}

func (s *stubCartService) Snapshot(ctx context.Context, owner domain.CartOwner) (domain.CartSnapshot, error) {
	return domain.CartSnapshot{}, nil
}

func (s *stubCartService) Restore(ctx context.Context, owner domain.CartOwner, snapshot domain.CartSnapshot) error {
	return nil
}

func newCartRouter(svc *stubCartService) chi.Router {
	h := NewCartHandlers(newTestAuthenticator(), svc)
	r := chi.NewRouter()
	r.Route("/cart", h.Routes)
	return r
}

func sampleCartView() services.CartView {
	updated := time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)
	return services.CartView{
		Cart: domain.Cart{
			ID:       "cart-1",
			OwnerKey: "session:sess-1",
			Currency: "INR",
			Items: []domain.CartItem{{
				ID:        "line-1",
				ProductID: "prod-1",
				SellerID:  "seller-1",
				Name:      "Block Print Kurta",
				Size:      "M",
				Color:     "Indigo",
				Quantity:  2,
				UnitPrice: 129900,
				Currency:  "INR",
				AddedAt:   updated,
			}},
			Estimate: &domain.CartEstimate{
				Subtotal: 259800,
				Tax:      46764,
				Shipping: 0,
				Total:    306564,
			},
			UpdatedAt: updated,
		},
	}
}

func TestCartGetAsGuest(t *testing.T) {
	var gotOwner domain.CartOwner
	svc := &stubCartService{
		getFunc: func(ctx context.Context, owner domain.CartOwner) (services.CartView, error) {
			gotOwner = owner
			return sampleCartView(), nil
		},
	}
	router := newCartRouter(svc)

	req := withSession(newRequest(t, http.MethodGet, "/cart", ""), "sess-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if gotOwner.SessionID != "sess-1" || gotOwner.UserID != "" {
		t.Fatalf("unexpected owner: %+v", gotOwner)
	}
	if etag := rec.Header().Get("ETag"); etag == "" {
		t.Fatalf("expected ETag header")
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("unexpected Cache-Control: %q", cc)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["id"] != "cart-1" {
		t.Fatalf("unexpected cart id: %v", body["id"])
	}
	items, ok := body["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected one item, got %v", body["items"])
	}
	line := items[0].(map[string]any)
	if line["line_key"] != "prod-1|m|indigo" {
		t.Fatalf("unexpected line key: %v", line["line_key"])
	}
}

func TestCartGetPrefersSignedInUser(t *testing.T) {
	var gotOwner domain.CartOwner
	svc := &stubCartService{
		getFunc: func(ctx context.Context, owner domain.CartOwner) (services.CartView, error) {
			gotOwner = owner
			return sampleCartView(), nil
		},
	}
	router := newCartRouter(svc)

	req := withSession(withBearer(newRequest(t, http.MethodGet, "/cart", ""), "buyer-token"), "sess-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if gotOwner.UserID != "user-1" {
		t.Fatalf("expected user owner, got %+v", gotOwner)
	}
}

func TestCartGetWithoutOwnerRejected(t *testing.T) {
	router := newCartRouter(&stubCartService{})

	req := newRequest(t, http.MethodGet, "/cart", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestCartAddItem(t *testing.T) {
	var gotCmd services.AddCartItemCommand
	svc := &stubCartService{
		addFunc: func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
			gotCmd = cmd
			return sampleCartView(), nil
		},
	}
	router := newCartRouter(svc)

	body := `{"product_id":"prod-1","size":"M","color":"Indigo","quantity":2}`
	req := withSession(newRequest(t, http.MethodPost, "/cart/items", body), "sess-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if gotCmd.ProductID != "prod-1" || gotCmd.Size != "M" || gotCmd.Color != "Indigo" || gotCmd.Quantity != 2 {
		t.Fatalf("unexpected command: %+v", gotCmd)
	}
	if gotCmd.Owner.SessionID != "sess-1" {
		t.Fatalf("unexpected owner: %+v", gotCmd.Owner)
	}
}

func TestCartAddItemOutOfStock(t *testing.T) {
	svc := &stubCartService{
		addFunc: func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
			return services.CartView{}, services.ErrCartOutOfStock
		},
	}
	router := newCartRouter(svc)

	body := `{"product_id":"prod-1","quantity":99}`
	req := withSession(newRequest(t, http.MethodPost, "/cart/items", body), "sess-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] != "out_of_stock" {
		t.Fatalf("unexpected error code: %v", payload)
	}
}

func TestCartSetQuantityRejectsUnknownField(t *testing.T) {
	router := newCartRouter(&stubCartService{})

	body := `{"quantity":3,"unit_price":100}`
	req := withSession(newRequest(t, http.MethodPatch, "/cart/items/prod-1|m|indigo", body), "sess-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCartSetQuantity(t *testing.T) {
	var gotCmd services.SetCartQuantityCommand
	svc := &stubCartService{
		setQuantityFunc: func(ctx context.Context, cmd services.SetCartQuantityCommand) (services.CartView, error) {
			gotCmd = cmd
			return sampleCartView(), nil
		},
	}
	router := newCartRouter(svc)

	req := withSession(newRequest(t, http.MethodPatch, "/cart/items/prod-1|m|indigo", `{"quantity":3}`), "sess-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if gotCmd.LineKey != "prod-1|m|indigo" || gotCmd.Quantity != 3 {
		t.Fatalf("unexpected command: %+v", gotCmd)
	}
}

func TestCartApplyCouponNotices(t *testing.T) {
	view := sampleCartView()
	view.Cart.Coupon = &domain.CartCoupon{Code: "SAVE200", DiscountAmount: 20000, Applied: true}
	view.Notices = []domain.CartNotice{{
		Code:    domain.CartNoticePriceChanged,
		LineKey: "prod-1|m|indigo",
		Message: "price updated",
	}}
	svc := &stubCartService{
		applyCouponFunc: func(ctx context.Context, cmd services.CartCouponCommand) (services.CartView, error) {
			if cmd.Code != "SAVE200" {
				t.Fatalf("unexpected code: %q", cmd.Code)
			}
			return view, nil
		},
	}
	router := newCartRouter(svc)

	req := withSession(newRequest(t, http.MethodPost, "/cart/coupon", `{"code":"SAVE200"}`), "sess-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	coupon, _ := body["coupon"].(map[string]any)
	if coupon["code"] != "SAVE200" {
		t.Fatalf("unexpected coupon: %v", body["coupon"])
	}
	notices, _ := body["notices"].([]any)
	if len(notices) != 1 {
		t.Fatalf("expected one notice, got %v", body["notices"])
	}
}

func TestCartMergeRequiresAuth(t *testing.T) {
	router := newCartRouter(&stubCartService{})

	req := withSession(newRequest(t, http.MethodPost, "/cart/merge", ""), "sess-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestCartMerge(t *testing.T) {
	var gotCmd services.MergeCartsCommand
	svc := &stubCartService{
		mergeFunc: func(ctx context.Context, cmd services.MergeCartsCommand) (services.CartView, error) {
			gotCmd = cmd
			return sampleCartView(), nil
		},
	}
	router := newCartRouter(svc)

	req := withSession(withBearer(newRequest(t, http.MethodPost, "/cart/merge", ""), "buyer-token"), "sess-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if gotCmd.UserID != "user-1" || gotCmd.SessionID != "sess-1" {
		t.Fatalf("unexpected command: %+v", gotCmd)
	}
}

func TestCartClear(t *testing.T) {
	cleared := false
	svc := &stubCartService{
		clearFunc: func(ctx context.Context, owner domain.CartOwner) error {
			cleared = true
			return nil
		},
	}
	router := newCartRouter(svc)

	req := withSession(newRequest(t, http.MethodDelete, "/cart", ""), "sess-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !cleared {
		t.Fatalf("expected ClearCart to be called")
	}
}
