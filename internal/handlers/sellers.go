package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/platform/auth"
	"github.com/bazaarhub/api/internal/platform/httpx"
	"github.com/bazaarhub/api/internal/services"
)

// SellerHandlers exposes per-seller revenue summaries. A seller may only
// read their own numbers; staff and admins may read any seller's.
type SellerHandlers struct {
	authn   *auth.Authenticator
	revenue services.RevenueService
}

func NewSellerHandlers(authn *auth.Authenticator, revenue services.RevenueService) *SellerHandlers {
	return &SellerHandlers{authn: authn, revenue: revenue}
}

func (h *SellerHandlers) Routes(r chi.Router) {
	r.Use(h.authn.RequireFirebaseAuth(auth.RoleSeller, auth.RoleStaff, auth.RoleAdmin))
	r.Get("/{sellerID}/revenue", h.sellerRevenue)
}

func (h *SellerHandlers) sellerRevenue(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	actor := actorFromIdentity(identity)
	sellerID := chi.URLParam(r, "sellerID")

	if !actor.Admin && actor.SellerID != sellerID {
		httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "not allowed to view this seller's revenue", http.StatusForbidden))
		return
	}

	summary, err := h.revenue.SellerSummary(r.Context(), sellerID)
	if err != nil {
		writeRevenueError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRevenueResponse(summary))
}

type revenueResponse struct {
	SellerID         string `json:"seller_id"`
	GrossSales       int64  `json:"gross_sales"`
	DiscountShare    int64  `json:"discount_share"`
	ReturnDeductions int64  `json:"return_deductions"`
	NetRevenue       int64  `json:"net_revenue"`
	OrderCount       int    `json:"order_count"`
	ReturnCount      int    `json:"return_count"`
	GeneratedAt      string `json:"generated_at"`
}

func buildRevenueResponse(summary domain.SellerRevenueSummary) revenueResponse {
	return revenueResponse{
		SellerID:         summary.SellerID,
		GrossSales:       summary.GrossSales,
		DiscountShare:    summary.DiscountShare,
		ReturnDeductions: summary.ReturnDeductions,
		NetRevenue:       summary.NetRevenue,
		OrderCount:       summary.OrderCount,
		ReturnCount:      summary.ReturnCount,
		GeneratedAt:      formatTime(summary.GeneratedAt),
	}
}

func writeRevenueError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrRevenueInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid revenue request", http.StatusBadRequest))
	case errors.Is(err, services.ErrRevenueUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "revenue reporting is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal", "unexpected error", http.StatusInternalServerError))
	}
}
