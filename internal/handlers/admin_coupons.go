package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazaarhub/api/internal/domain"
	"github.com/bazaarhub/api/internal/platform/auth"
	"github.com/bazaarhub/api/internal/platform/httpx"
	"github.com/bazaarhub/api/internal/repositories"
	"github.com/bazaarhub/api/internal/services"
)

// AdminCouponHandlers exposes coupon management to administrators.
type AdminCouponHandlers struct {
	authn   *auth.Authenticator
	coupons services.CouponAdminService
}

func NewAdminCouponHandlers(authn *auth.Authenticator, coupons services.CouponAdminService) *AdminCouponHandlers {
	return &AdminCouponHandlers{authn: authn, coupons: coupons}
}

func (h *AdminCouponHandlers) Routes(r chi.Router) {
	r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	r.Post("/", h.createCoupon)
	r.Get("/", h.listCoupons)
	r.Get("/{code}", h.getCoupon)
	r.Patch("/{code}", h.updateCoupon)
}

type createCouponPayload struct {
	Code        string         `json:"code"`
	Type        string         `json:"type"`
	Value       int64          `json:"value"`
	MinPurchase *int64         `json:"min_purchase"`
	ExpiresAt   *string        `json:"expires_at"`
	Active      *bool          `json:"active"`
	Metadata    map[string]any `json:"metadata"`
}

func (h *AdminCouponHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	var payload createCouponPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		writeBodyError(w, r, err)
		return
	}
	cmd, err := payload.toCommand()
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	coupon, err := h.coupons.Create(r.Context(), cmd)
	if err != nil {
		writeAdminCouponError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildCouponResponse(coupon))
}

func (h *AdminCouponHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	filter := repositories.CouponListFilter{
		ActiveOnly: strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("active")), "true"),
		Pagination: paginationFromQuery(r),
	}
	page, err := h.coupons.List(r.Context(), filter)
	if err != nil {
		writeAdminCouponError(w, r, err)
		return
	}
	items := make([]couponResponse, 0, len(page.Items))
	for _, coupon := range page.Items {
		items = append(items, buildCouponResponse(coupon))
	}
	writeJSONResponse(w, http.StatusOK, couponListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *AdminCouponHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	coupon, err := h.coupons.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeAdminCouponError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCouponResponse(coupon))
}

// updateCoupon accepts a partial document. Unknown fields are rejected so a
// typo never silently no-ops.
func (h *AdminCouponHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
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
	cmd := services.UpsertCouponCommand{Code: chi.URLParam(r, "code")}
	for key, raw := range fields {
		switch key {
		case "type":
			var value string
			if err := json.Unmarshal(raw, &value); err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "type must be a string", http.StatusBadRequest))
				return
			}
			cmd.Type = domain.CouponType(strings.ToLower(strings.TrimSpace(value)))
		case "value":
			if err := json.Unmarshal(raw, &cmd.Value); err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "value must be an integer", http.StatusBadRequest))
				return
			}
		case "min_purchase":
			var value int64
			if err := json.Unmarshal(raw, &value); err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "min_purchase must be an integer", http.StatusBadRequest))
				return
			}
			cmd.MinPurchase = &value
		case "expires_at":
			if isJSONNull(raw) {
				break
			}
			var value string
			if err := json.Unmarshal(raw, &value); err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "expires_at must be an RFC 3339 string", http.StatusBadRequest))
				return
			}
			parsed, err := parseRFC3339(value)
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "expires_at must be an RFC 3339 string", http.StatusBadRequest))
				return
			}
			cmd.ExpiresAt = &parsed
		case "active":
			var value bool
			if err := json.Unmarshal(raw, &value); err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "active must be a boolean", http.StatusBadRequest))
				return
			}
			cmd.Active = &value
		case "metadata":
			var value map[string]any
			if err := json.Unmarshal(raw, &value); err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "metadata must be an object", http.StatusBadRequest))
				return
			}
			cmd.Metadata = value
		default:
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", fmt.Sprintf("field %q is not editable", key), http.StatusBadRequest))
			return
		}
	}
	coupon, err := h.coupons.Update(r.Context(), cmd)
	if err != nil {
		writeAdminCouponError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCouponResponse(coupon))
}

func (p createCouponPayload) toCommand() (services.UpsertCouponCommand, error) {
	cmd := services.UpsertCouponCommand{
		Code:        strings.TrimSpace(p.Code),
		Type:        domain.CouponType(strings.ToLower(strings.TrimSpace(p.Type))),
		Value:       p.Value,
		MinPurchase: p.MinPurchase,
		Active:      p.Active,
		Metadata:    p.Metadata,
	}
	if p.ExpiresAt != nil && strings.TrimSpace(*p.ExpiresAt) != "" {
		parsed, err := parseRFC3339(*p.ExpiresAt)
		if err != nil {
			return services.UpsertCouponCommand{}, errors.New("expires_at must be an RFC 3339 string")
		}
		cmd.ExpiresAt = &parsed
	}
	return cmd, nil
}

// Response shaping -----------------------------------------------------------

type couponResponse struct {
	ID          string         `json:"id"`
	Code        string         `json:"code"`
	Type        string         `json:"type"`
	Value       int64          `json:"value"`
	MinPurchase int64          `json:"min_purchase"`
	ExpiresAt   string         `json:"expires_at,omitempty"`
	Active      bool           `json:"active"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

type couponListResponse struct {
	Items         []couponResponse `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

func buildCouponResponse(coupon domain.Coupon) couponResponse {
	resp := couponResponse{
		ID:          coupon.ID,
		Code:        coupon.Code,
		Type:        string(coupon.Type),
		Value:       coupon.Value,
		MinPurchase: coupon.MinPurchase,
		Active:      coupon.Active,
		Metadata:    cloneMap(coupon.Metadata),
		CreatedAt:   formatTime(coupon.CreatedAt),
		UpdatedAt:   formatTime(coupon.UpdatedAt),
	}
	if coupon.ExpiresAt != nil {
		resp.ExpiresAt = formatTime(*coupon.ExpiresAt)
	}
	return resp
}

func writeAdminCouponError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrCouponInvalidCode):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid coupon definition", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponCodeTaken):
		httpx.WriteError(ctx, w, httpx.NewError("code_taken", "a coupon with this code already exists", http.StatusConflict))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "coupon store is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal", "unexpected error", http.StatusInternalServerError))
	}
}
