package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/platform/auth"
	"github.com/bazaarhub/api/internal/platform/httpx"
	"github.com/bazaarhub/api/internal/repositories"
	"github.com/bazaarhub/api/internal/services"
)

// OrderHandlers exposes order reads and lifecycle transitions. Buyers see
// their own orders; staff and admins see everything and drive fulfilment
// status changes.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders}
}

func (h *OrderHandlers) Routes(r chi.Router) {
	r.Use(h.authn.RequireFirebaseAuth())
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.With(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin)).
		Post("/{orderID}/status", h.transitionStatus)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	actor := actorFromIdentity(identity)

	filter := repositories.OrderListFilter{
		UserID:     actor.UserID,
		Status:     statusFilterFromQuery(r),
		Pagination: paginationFromQuery(r),
	}
	if actor.Admin {
		filter.UserID = strings.TrimSpace(r.URL.Query().Get("userId"))
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		from, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "from must be RFC 3339", http.StatusBadRequest))
			return
		}
		filter.DateRange.From = &from
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		to, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "to must be RFC 3339", http.StatusBadRequest))
			return
		}
		filter.DateRange.To = &to
	}

	page, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	items := make([]orderResponse, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderResponse(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"), actorFromIdentity(identity))
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderResponse(order))
}

type cancelOrderPayload struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	var payload cancelOrderPayload
	if err := decodeJSONBody(r, &payload); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(w, r, err)
		return
	}
	order, err := h.orders.Cancel(r.Context(), services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actorFromIdentity(identity),
		Reason:  strings.TrimSpace(payload.Reason),
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderResponse(order))
}

type statusTransitionPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	var payload statusTransitionPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeBodyError(w, r, err)
		return
	}
	order, err := h.orders.TransitionStatus(r.Context(), services.OrderStatusTransitionCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: domain.OrderStatus(strings.ToLower(strings.TrimSpace(payload.Status))),
		Actor:        actorFromIdentity(identity),
		Reason:       strings.TrimSpace(payload.Reason),
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderResponse(order))
}

// Response shaping -----------------------------------------------------------

type orderTotalsPayload struct {
	Subtotal       int64 `json:"subtotal"`
	CouponDiscount int64 `json:"coupon_discount"`
	Tax            int64 `json:"tax"`
	PlatformFee    int64 `json:"platform_fee"`
	Shipping       int64 `json:"shipping"`
	Total          int64 `json:"total"`
}

type orderItemPayload struct {
	ID               string `json:"id"`
	ProductID        string `json:"product_id"`
	SellerID         string `json:"seller_id"`
	Name             string `json:"name"`
	Size             string `json:"size,omitempty"`
	Color            string `json:"color,omitempty"`
	Quantity         int    `json:"quantity"`
	UnitPrice        int64  `json:"unit_price"`
	Total            int64  `json:"total"`
	ReturnWindowDays int    `json:"return_window_days,omitempty"`
}

type orderResponse struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"order_number"`
	UserID          string             `json:"user_id"`
	Status          string             `json:"status"`
	PaymentMethod   string             `json:"payment_method"`
	Currency        string             `json:"currency"`
	Totals          orderTotalsPayload `json:"totals"`
	Coupon          *cartCouponView    `json:"coupon,omitempty"`
	Items           []orderItemPayload `json:"items"`
	ShippingAddress *addressPayload    `json:"shipping_address,omitempty"`
	PlacedAt        string             `json:"placed_at"`
	ShippedAt       string             `json:"shipped_at,omitempty"`
	DeliveredAt     string             `json:"delivered_at,omitempty"`
	CancelledAt     string             `json:"cancelled_at,omitempty"`
	CancelReason    string             `json:"cancel_reason,omitempty"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at"`
}

type orderListResponse struct {
	Items         []orderResponse `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

func buildOrderResponse(order domain.Order) orderResponse {
	resp := orderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		Currency:      order.Currency,
		Totals: orderTotalsPayload{
			Subtotal:       order.Totals.Subtotal,
			CouponDiscount: order.Totals.CouponDiscount,
			Tax:            order.Totals.Tax,
			PlatformFee:    order.Totals.PlatformFee,
			Shipping:       order.Totals.Shipping,
			Total:          order.Totals.Total,
		},
		Items:        make([]orderItemPayload, 0, len(order.Items)),
		PlacedAt:     formatTime(order.PlacedAt),
		ShippedAt:    formatTimePtr(order.ShippedAt),
		DeliveredAt:  formatTimePtr(order.DeliveredAt),
		CancelledAt:  formatTimePtr(order.CancelledAt),
		CancelReason: valueOrEmpty(order.CancelReason),
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
	}
	if order.Coupon != nil {
		resp.Coupon = &cartCouponView{
			Code:           order.Coupon.Code,
			DiscountAmount: order.Coupon.DiscountAmount,
			Applied:        order.Coupon.Applied,
		}
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemPayload{
			ID:               item.ID,
			ProductID:        item.ProductID,
			SellerID:         item.SellerID,
			Name:             item.Name,
			Size:             item.Size,
			Color:            item.Color,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			Total:            item.Total,
			ReturnWindowDays: item.ReturnWindowDays,
		})
	}
	if order.ShippingAddr != nil {
		addr := buildAddressPayload(*order.ShippingAddr)
		resp.ShippingAddress = &addr
	}
	return resp
}

func writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid order request", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", "order status does not allow this transition", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "order was modified concurrently", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal", "unexpected error", http.StatusInternalServerError))
	}
}
