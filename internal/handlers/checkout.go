package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/platform/auth"
	"github.com/bazaarhub/api/internal/platform/httpx"
	"github.com/bazaarhub/api/internal/services"
)

// CheckoutHandlers turns a cart into an order. Checkout always requires a
// signed-in caller; guest carts merge on login before they can check out.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{authn: authn, checkout: checkout}
}

func (h *CheckoutHandlers) Routes(r chi.Router) {
	r.Use(h.authn.RequireFirebaseAuth())
	r.Post("/", h.placeOrder)
}

type checkoutPayload struct {
	PaymentMethod   string          `json:"payment_method"`
	PaymentToken    string          `json:"payment_token"`
	ShippingAddress *addressPayload `json:"shipping_address"`
	Metadata        map[string]any  `json:"metadata"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	var payload checkoutPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeBodyError(w, r, err)
		return
	}
	if payload.ShippingAddress == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "shipping_address is required", http.StatusBadRequest))
		return
	}
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(payload.PaymentMethod)))
	order, err := h.checkout.Checkout(r.Context(), services.CheckoutCommand{
		Owner:         domain.CartOwner{UserID: strings.TrimSpace(identity.UID)},
		PaymentMethod: method,
		PaymentToken:  strings.TrimSpace(payload.PaymentToken),
		ShippingAddr:  payload.ShippingAddress.toDomain(),
		Metadata:      cloneMap(payload.Metadata),
	})
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOrderResponse(order))
}

func writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid checkout request", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart has no items to check out", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutStockConflict):
		httpx.WriteError(ctx, w, httpx.NewError("stock_conflict", "one or more items are no longer available", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment was declined", http.StatusPaymentRequired))
	case errors.Is(err, services.ErrCheckoutCancelled):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_cancelled", "payment was cancelled; the cart has been restored", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPersistFailed):
		httpx.WriteError(ctx, w, httpx.NewError("order_persist_failed", "payment captured but the order could not be recorded; contact support", http.StatusInternalServerError))
	case errors.Is(err, services.ErrStockCheckFailed), errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "checkout is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal", "unexpected error", http.StatusInternalServerError))
	}
}
