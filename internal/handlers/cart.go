package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bazaarhub/api/internal/platform/auth"
	"github.com/bazaarhub/api/internal/platform/httpx"
	"github.com/bazaarhub/api/internal/services"
)

// CartHandlers exposes the shopping cart surface. Guests are allowed
// through with a session header; signed-in users are resolved from the
// bearer token.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes mounts the cart endpoints. Merge requires a signed-in caller;
// everything else accepts a guest session.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Use(h.authn.OptionalFirebaseAuth())
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{lineKey}", h.setQuantity)
	r.Delete("/items/{lineKey}", h.removeItem)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
	r.With(h.authn.RequireFirebaseAuth()).Post("/merge", h.mergeCart)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeOwnerError(w, r)
		return
	}
	view, err := h.carts.GetCart(r.Context(), owner)
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeCartView(w, view)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeOwnerError(w, r)
		return
	}
	if err := h.carts.ClearCart(r.Context(), owner); err != nil {
		writeCartError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addCartItemPayload struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeOwnerError(w, r)
		return
	}
	var payload addCartItemPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeBodyError(w, r, err)
		return
	}
	view, err := h.carts.AddItem(r.Context(), services.AddCartItemCommand{
		Owner:     owner,
		ProductID: strings.TrimSpace(payload.ProductID),
		Size:      strings.TrimSpace(payload.Size),
		Color:     strings.TrimSpace(payload.Color),
		Quantity:  payload.Quantity,
	})
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeCartView(w, view)
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeOwnerError(w, r)
		return
	}
	body, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	var quantity int
	var hasQuantity bool
	for key, raw := range fields {
		switch key {
		case "quantity":
			if err := json.Unmarshal(raw, &quantity); err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "quantity must be an integer", http.StatusBadRequest))
				return
			}
			hasQuantity = true
		default:
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", fmt.Sprintf("field %q is not editable", key), http.StatusBadRequest))
			return
		}
	}
	if !hasQuantity {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	view, err := h.carts.SetQuantity(r.Context(), services.SetCartQuantityCommand{
		Owner:    owner,
		LineKey:  chi.URLParam(r, "lineKey"),
		Quantity: quantity,
	})
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeCartView(w, view)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeOwnerError(w, r)
		return
	}
	view, err := h.carts.RemoveItem(r.Context(), services.RemoveCartItemCommand{
		Owner:   owner,
		LineKey: chi.URLParam(r, "lineKey"),
	})
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeCartView(w, view)
}

type cartCouponPayload struct {
	Code string `json:"code"`
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeOwnerError(w, r)
		return
	}
	var payload cartCouponPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeBodyError(w, r, err)
		return
	}
	view, err := h.carts.ApplyCoupon(r.Context(), services.CartCouponCommand{
		Owner: owner,
		Code:  strings.TrimSpace(payload.Code),
	})
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeCartView(w, view)
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerFromRequest(r)
	if err != nil {
		writeOwnerError(w, r)
		return
	}
	view, err := h.carts.RemoveCoupon(r.Context(), owner)
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeCartView(w, view)
}

func (h *CartHandlers) mergeCart(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	session := strings.TrimSpace(r.Header.Get(SessionHeader))
	if session == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "session id header is required", http.StatusBadRequest))
		return
	}
	view, err := h.carts.MergeOnLogin(r.Context(), services.MergeCartsCommand{
		UserID:    strings.TrimSpace(identity.UID),
		SessionID: session,
	})
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeCartView(w, view)
}

// Response shaping -----------------------------------------------------------

type cartItemPayload struct {
	ID        string `json:"id"`
	LineKey   string `json:"line_key"`
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id"`
	Name      string `json:"name"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Currency  string `json:"currency"`
	AddedAt   string `json:"added_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type cartCouponView struct {
	Code           string `json:"code"`
	DiscountAmount int64  `json:"discount_amount"`
	Applied        bool   `json:"applied"`
}

type cartEstimatePayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Tax      int64 `json:"tax"`
	Shipping int64 `json:"shipping"`
	Fees     int64 `json:"fees"`
	Total    int64 `json:"total"`
}

type cartNoticePayload struct {
	LineKey   string `json:"line_key,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type cartResponse struct {
	ID        string               `json:"id"`
	Currency  string               `json:"currency"`
	Coupon    *cartCouponView      `json:"coupon,omitempty"`
	Items     []cartItemPayload    `json:"items"`
	Estimate  *cartEstimatePayload `json:"estimate,omitempty"`
	Notices   []cartNoticePayload  `json:"notices,omitempty"`
	UpdatedAt string               `json:"updated_at,omitempty"`
}

func buildCartResponse(view services.CartView) cartResponse {
	cart := view.Cart
	resp := cartResponse{
		ID:        cart.ID,
		Currency:  cart.Currency,
		Items:     make([]cartItemPayload, 0, len(cart.Items)),
		UpdatedAt: formatTime(cart.UpdatedAt),
	}
	if cart.Coupon != nil {
		resp.Coupon = &cartCouponView{
			Code:           cart.Coupon.Code,
			DiscountAmount: cart.Coupon.DiscountAmount,
			Applied:        cart.Coupon.Applied,
		}
	}
	for _, item := range cart.Items {
		resp.Items = append(resp.Items, cartItemPayload{
			ID:        item.ID,
			LineKey:   item.LineKey(),
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Name:      item.Name,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Currency:  item.Currency,
			AddedAt:   formatTime(item.AddedAt),
			UpdatedAt: formatTimePtr(item.UpdatedAt),
		})
	}
	if cart.Estimate != nil {
		resp.Estimate = &cartEstimatePayload{
			Subtotal: cart.Estimate.Subtotal,
			Discount: cart.Estimate.Discount,
			Tax:      cart.Estimate.Tax,
			Shipping: cart.Estimate.Shipping,
			Fees:     cart.Estimate.Fees,
			Total:    cart.Estimate.Total,
		}
	}
	for _, notice := range view.Notices {
		resp.Notices = append(resp.Notices, cartNoticePayload{
			LineKey:   notice.LineKey,
			ProductID: notice.ProductID,
			Code:      notice.Code,
			Message:   notice.Message,
		})
	}
	return resp
}

// writeCartView writes the cart with a weak validator so clients can cheaply
// detect changes, while Cache-Control keeps shared caches away from cart state.
func writeCartView(w http.ResponseWriter, view services.CartView) {
	resp := buildCartResponse(view)
	body, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256(body)
	w.Header().Set("ETag", fmt.Sprintf("W/%q", "sha256-"+hex.EncodeToString(sum[:8])))
	if !view.Cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", view.Cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n"))
}

func writeOwnerError(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "sign in or supply a session id", http.StatusUnauthorized))
}

func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
	}
}

func writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid cart request", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "requested quantity is not available", http.StatusConflict))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "cart was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrCouponInvalidCode), errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", "coupon code is not valid", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponInactive):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_inactive", "coupon is not active", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon has expired", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponBelowMinimum):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_below_minimum", "cart subtotal is below the coupon minimum", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponAlreadyApplied):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_already_applied", "a coupon is already applied", http.StatusConflict))
	case errors.Is(err, services.ErrStockCheckFailed):
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", "stock service is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrCouponUnavailable), errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "cart is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal", "unexpected error", http.StatusInternalServerError))
	}
}
