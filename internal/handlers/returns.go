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

// ReturnHandlers exposes the post-delivery return workflow. Buyers open
// requests against their own delivered orders; staff and admins review them.
type ReturnHandlers struct {
	authn   *auth.Authenticator
	returns services.ReturnService
}

func NewReturnHandlers(authn *auth.Authenticator, returns services.ReturnService) *ReturnHandlers {
	return &ReturnHandlers{authn: authn, returns: returns}
}

func (h *ReturnHandlers) Routes(r chi.Router) {
	r.Use(h.authn.RequireFirebaseAuth())
	r.Post("/", h.createReturn)
	r.Get("/", h.listReturns)
	r.Get("/{returnID}", h.getReturn)
	r.With(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin)).
		Post("/{returnID}/review", h.reviewReturn)
}

type createReturnPayload struct {
	OrderID    string `json:"order_id"`
	LineItemID string `json:"line_item_id"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason"`
}

func (h *ReturnHandlers) createReturn(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	var payload createReturnPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeBodyError(w, r, err)
		return
	}
	request, err := h.returns.Create(r.Context(), services.CreateReturnCommand{
		OrderID:    strings.TrimSpace(payload.OrderID),
		LineItemID: strings.TrimSpace(payload.LineItemID),
		Quantity:   payload.Quantity,
		Reason:     strings.TrimSpace(payload.Reason),
		Actor:      actorFromIdentity(identity),
	})
	if err != nil {
		writeReturnError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildReturnResponse(request))
}

func (h *ReturnHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	actor := actorFromIdentity(identity)

	filter := repositories.ReturnListFilter{
		UserID:     actor.UserID,
		OrderID:    strings.TrimSpace(r.URL.Query().Get("orderId")),
		Status:     statusFilterFromQuery(r),
		Pagination: paginationFromQuery(r),
	}
	if actor.Admin {
		filter.UserID = strings.TrimSpace(r.URL.Query().Get("userId"))
	}

	page, err := h.returns.List(r.Context(), filter)
	if err != nil {
		writeReturnError(w, r, err)
		return
	}
	items := make([]returnResponse, 0, len(page.Items))
	for _, request := range page.Items {
		items = append(items, buildReturnResponse(request))
	}
	writeJSONResponse(w, http.StatusOK, returnListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *ReturnHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	request, err := h.returns.Get(r.Context(), chi.URLParam(r, "returnID"), actorFromIdentity(identity))
	if err != nil {
		writeReturnError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildReturnResponse(request))
}

type reviewReturnPayload struct {
	Approve *bool `json:"approve"`
}

func (h *ReturnHandlers) reviewReturn(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	var payload reviewReturnPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeBodyError(w, r, err)
		return
	}
	if payload.Approve == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "approve is required", http.StatusBadRequest))
		return
	}
	request, err := h.returns.Review(r.Context(), services.ReviewReturnCommand{
		ReturnID: chi.URLParam(r, "returnID"),
		Approve:  *payload.Approve,
		Actor:    actorFromIdentity(identity),
	})
	if err != nil {
		writeReturnError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildReturnResponse(request))
}

// Response shaping -----------------------------------------------------------

type returnResponse struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	SellerID   string `json:"seller_id"`
	LineItemID string `json:"line_item_id"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	Value      int64  `json:"value"`
	Reason     string `json:"reason"`
	Status     string `json:"status"`
	ReviewedBy string `json:"reviewed_by,omitempty"`
	ReviewedAt string `json:"reviewed_at,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type returnListResponse struct {
	Items         []returnResponse `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

func buildReturnResponse(request domain.ReturnRequest) returnResponse {
	return returnResponse{
		ID:         request.ID,
		OrderID:    request.OrderID,
		UserID:     request.UserID,
		SellerID:   request.SellerID,
		LineItemID: request.LineItemID,
		ProductID:  request.ProductID,
		Quantity:   request.Quantity,
		UnitPrice:  request.UnitPrice,
		Value:      request.Value(),
		Reason:     request.Reason,
		Status:     string(request.Status),
		ReviewedBy: valueOrEmpty(request.ReviewedBy),
		ReviewedAt: formatTimePtr(request.ReviewedAt),
		CreatedAt:  formatTime(request.CreatedAt),
		UpdatedAt:  formatTime(request.UpdatedAt),
	}
}

func writeReturnError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrReturnInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid return request", http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "return request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to access this return request", http.StatusForbidden))
	case errors.Is(err, services.ErrReturnInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", "return request state does not allow this action", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrReturnWindowClosed):
		httpx.WriteError(ctx, w, httpx.NewError("window_closed", "the return window for this order has closed", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrReturnUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "returns are temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal", "unexpected error", http.StatusInternalServerError))
	}
}
