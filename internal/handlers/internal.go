package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bazaarhub/api/internal/platform/auth"
	"github.com/bazaarhub/api/internal/platform/httpx"
	"github.com/bazaarhub/api/internal/services"
)

// InternalHandlers exposes operational utilities for trusted callers,
// currently the monotonic counter used for order numbering.
type InternalHandlers struct {
	authn  *auth.Authenticator
	system services.SystemService
}

func NewInternalHandlers(authn *auth.Authenticator, system services.SystemService) *InternalHandlers {
	return &InternalHandlers{authn: authn, system: system}
}

func (h *InternalHandlers) Routes(r chi.Router) {
	r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	r.Post("/counters/{counterID}/next", h.nextCounterValue)
}

type counterStepPayload struct {
	Step int64 `json:"step"`
}

type counterValueResponse struct {
	CounterID string `json:"counter_id"`
	Value     int64  `json:"value"`
}

func (h *InternalHandlers) nextCounterValue(w http.ResponseWriter, r *http.Request) {
	counterID := strings.TrimSpace(chi.URLParam(r, "counterID"))
	payload := counterStepPayload{Step: 1}
	if body, err := readLimitedBody(r, maxBodySize); err == nil {
		if err := json.Unmarshal(body, &payload); err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "step must be a positive integer", http.StatusBadRequest))
			return
		}
	}
	if payload.Step <= 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "step must be a positive integer", http.StatusBadRequest))
		return
	}
	value, err := h.system.NextCounterValue(r.Context(), services.CounterCommand{
		CounterID: counterID,
		Step:      payload.Step,
	})
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("unavailable", "counter is temporarily unavailable", http.StatusServiceUnavailable))
		return
	}
	writeJSONResponse(w, http.StatusOK, counterValueResponse{CounterID: counterID, Value: value})
}
