package jobs

import (
	"context"
	"encoding/json"
	"errors"

	"cloud.google.com/go/pubsub"
)

// RevenueAuditor re-runs revenue recognition for the given sellers.
type RevenueAuditor interface {
	Recheck(ctx context.Context, sellerIDs []string)
}

// OrderEventListenerDeps wires the listener to its subscription and auditor.
type OrderEventListenerDeps struct {
	Subscription *pubsub.Subscription
	Revenue      RevenueAuditor
	Logger       func(ctx context.Context, msg string, fields map[string]any)
}

// OrderEventListener consumes order ledger events and re-runs recognition
// for the affected sellers, so reconciliation anomalies are logged when the
// ledger changes rather than on the seller's next dashboard view.
type OrderEventListener struct {
	sub     *pubsub.Subscription
	revenue RevenueAuditor
	logger  func(ctx context.Context, msg string, fields map[string]any)
}

// NewOrderEventListener validates dependencies and builds a listener.
func NewOrderEventListener(deps OrderEventListenerDeps) (*OrderEventListener, error) {
	if deps.Subscription == nil {
		return nil, errors.New("order event listener: subscription is required")
	}
	if deps.Revenue == nil {
		return nil, errors.New("order event listener: revenue auditor is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OrderEventListener{
		sub:     deps.Subscription,
		revenue: deps.Revenue,
		logger:  logger,
	}, nil
}

// Run blocks receiving messages until the context is cancelled. Malformed
// messages are acknowledged and dropped so they do not poison the stream.
func (l *OrderEventListener) Run(ctx context.Context) error {
	return l.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var event orderEventMessage
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			l.logger(ctx, "orderevents.decode_failed", map[string]any{
				"messageId": msg.ID,
				"error":     err.Error(),
			})
			msg.Ack()
			return
		}

		l.revenue.Recheck(ctx, event.SellerIDs)
		l.logger(ctx, "orderevents.processed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"sellers": len(event.SellerIDs),
		})
		msg.Ack()
	})
}
