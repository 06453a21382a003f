package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bazaarhub/api/internal/platform/httpx"
	"github.com/bazaarhub/api/internal/platform/jobs"
	"github.com/bazaarhub/api/internal/services"
)

// OrderEventPushHandlers accepts Pub/Sub push deliveries of order events
// when the deployment uses a push subscription instead of the pull
// listener. Callers are expected to be verified upstream with the
// Google-signed OIDC token Pub/Sub attaches to push requests.
type OrderEventPushHandlers struct {
	revenue services.RevenueService
}

func NewOrderEventPushHandlers(revenue services.RevenueService) *OrderEventPushHandlers {
	return &OrderEventPushHandlers{revenue: revenue}
}

func (h *OrderEventPushHandlers) Routes(r chi.Router) {
	r.Post("/pubsub/order-events", h.receiveOrderEvent)
}

// receiveOrderEvent acknowledges malformed envelopes with 200 so Pub/Sub
// does not redeliver a poison message forever. Only transport-level
// failures should surface as errors to the push subscription.
func (h *OrderEventPushHandlers) receiveOrderEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "push body is required", http.StatusBadRequest))
		return
	}
	event, err := jobs.ParsePushEnvelope(body)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if h.revenue != nil && len(event.SellerIDs) > 0 {
		h.revenue.Recheck(r.Context(), event.SellerIDs)
	}
	w.WriteHeader(http.StatusNoContent)
}
