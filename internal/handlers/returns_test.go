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

type stubReturnService struct {
	createFunc func(ctx context.Context, cmd services.CreateReturnCommand) (domain.ReturnRequest, error)
	reviewFunc func(ctx context.Context, cmd services.ReviewReturnCommand) (domain.ReturnRequest, error)
	getFunc    func(ctx context.Context, returnID string, actor services.Actor) (domain.ReturnRequest, error)
	listFunc   func(ctx context.Context, filter services.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
}

func (s *stubReturnService) Create(ctx context.Context, cmd services.CreateReturnCommand) (domain.ReturnRequest, error) {
	return s.createFunc(ctx, cmd)
}

func (s *stubReturnService) Review(ctx context.Context, cmd services.ReviewReturnCommand) (domain.ReturnRequest, error) {
	return s.reviewFunc(ctx, cmd)
}

func (s *stubReturnService) Get(ctx context.Context, returnID string, actor services.Actor) (domain.ReturnRequest, error) {
	return s.getFunc(ctx, returnID, actor)
}

func (s *stubReturnService) List(ctx context.Context, filter services.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	return s.listFunc(ctx, filter)
}

func newReturnRouter(svc *stubReturnService) chi.Router {
	h := NewReturnHandlers(newTestAuthenticator(), svc)
	r := chi.NewRouter()
	r.Route("/returns", h.Routes)
	return r
}

func sampleReturn() domain.ReturnRequest {
	created := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	return domain.ReturnRequest{
		ID:         "ret-1",
		OrderID:    "order-1",
		UserID:     "user-1",
		SellerID:   "seller-1",
		LineItemID: "line-1",
		ProductID:  "prod-1",
		Quantity:   1,
		UnitPrice:  129900,
		Reason:     "wrong size",
		Status:     domain.ReturnStatusPending,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestCreateReturn(t *testing.T) {
	var gotCmd services.CreateReturnCommand
	svc := &stubReturnService{
		createFunc: func(ctx context.Context, cmd services.CreateReturnCommand) (domain.ReturnRequest, error) {
			gotCmd = cmd
			return sampleReturn(), nil
		},
	}
	router := newReturnRouter(svc)

	body := `{"order_id":"order-1","line_item_id":"line-1","quantity":1,"reason":"wrong size"}`
	req := withBearer(newRequest(t, http.MethodPost, "/returns", body), "buyer-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if gotCmd.OrderID != "order-1" || gotCmd.LineItemID != "line-1" || gotCmd.Quantity != 1 {
		t.Fatalf("unexpected command: %+v", gotCmd)
	}
	if gotCmd.Actor.UserID != "user-1" {
		t.Fatalf("unexpected actor: %+v", gotCmd.Actor)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["value"] != float64(129900) {
		t.Fatalf("unexpected value: %v", payload["value"])
	}
}

func TestCreateReturnWindowClosed(t *testing.T) {
	svc := &stubReturnService{
		createFunc: func(ctx context.Context, cmd services.CreateReturnCommand) (domain.ReturnRequest, error) {
			return domain.ReturnRequest{}, services.ErrReturnWindowClosed
		},
	}
	router := newReturnRouter(svc)

	body := `{"order_id":"order-1","line_item_id":"line-1","quantity":1}`
	req := withBearer(newRequest(t, http.MethodPost, "/returns", body), "buyer-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] != "window_closed" {
		t.Fatalf("unexpected error code: %v", payload["error"])
	}
}

func TestListReturnsScopesToCaller(t *testing.T) {
	var gotFilter services.ReturnListFilter
	svc := &stubReturnService{
		listFunc: func(ctx context.Context, filter services.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
			gotFilter = filter
			return domain.CursorPage[domain.ReturnRequest]{Items: []domain.ReturnRequest{sampleReturn()}}, nil
		},
	}
	router := newReturnRouter(svc)

	req := withBearer(newRequest(t, http.MethodGet, "/returns?orderId=order-1&status=pending", ""), "buyer-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if gotFilter.UserID != "user-1" || gotFilter.OrderID != "order-1" {
		t.Fatalf("unexpected filter: %+v", gotFilter)
	}
	if len(gotFilter.Status) != 1 || gotFilter.Status[0] != "pending" {
		t.Fatalf("unexpected status filter: %v", gotFilter.Status)
	}
}

func TestReviewReturnRequiresStaff(t *testing.T) {
	router := newReturnRouter(&stubReturnService{})

	req := withBearer(newRequest(t, http.MethodPost, "/returns/ret-1/review", `{"approve":true}`), "buyer-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestReviewReturn(t *testing.T) {
	var gotCmd services.ReviewReturnCommand
	svc := &stubReturnService{
		reviewFunc: func(ctx context.Context, cmd services.ReviewReturnCommand) (domain.ReturnRequest, error) {
			gotCmd = cmd
			approved := sampleReturn()
			approved.Status = domain.ReturnStatusApproved
			return approved, nil
		},
	}
	router := newReturnRouter(svc)

	req := withBearer(newRequest(t, http.MethodPost, "/returns/ret-1/review", `{"approve":true}`), "admin-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if gotCmd.ReturnID != "ret-1" || !gotCmd.Approve {
		t.Fatalf("unexpected command: %+v", gotCmd)
	}
}

func TestReviewReturnRequiresDecision(t *testing.T) {
	router := newReturnRouter(&stubReturnService{})

	req := withBearer(newRequest(t, http.MethodPost, "/returns/ret-1/review", `{}`), "admin-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
