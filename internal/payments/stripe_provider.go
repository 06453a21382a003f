package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/bazaarhub/api/internal/platform/textutil"
	"github.com/bazaarhub/api/internal/services"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the StripeGateway. Intents overrides the
// live client for tests.
type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Intents  stripeIntentAPI
}

// StripeGateway charges prepaid checkouts through Stripe payment intents.
type StripeGateway struct {
	intents stripeIntentAPI
	logger  StripeLogger
}

var _ services.PaymentProvider = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe backed payment provider.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		intents: intents,
		logger:  logger,
	}, nil
}

// Charge creates and confirms a payment intent for the full order amount.
// A card decline or a shopper cancellation is reported through the result
// rather than an error so callers can distinguish it from gateway outages.
func (g *StripeGateway) Charge(ctx context.Context, cmd services.ChargeCommand) (services.ChargeResult, error) {
	if g == nil || g.intents == nil {
		return services.ChargeResult{}, errors.New("stripe: gateway not initialised")
	}
	if cmd.Amount <= 0 {
		return services.ChargeResult{}, errors.New("stripe: charge amount must be positive")
	}
	token := strings.TrimSpace(cmd.PaymentToken)
	if token == "" {
		return services.ChargeResult{}, errors.New("stripe: payment token is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(cmd.Amount),
		Currency:      stripe.String(strings.ToLower(cmd.Currency)),
		PaymentMethod: stripe.String(token),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(cmd.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if desc := strings.TrimSpace(cmd.Description); desc != "" {
		params.Description = stripe.String(desc)
	}
	if metadata := textutil.NormalizeStringMap(cmd.Metadata); len(metadata) > 0 {
		params.Metadata = metadata
	}

	intent, err := g.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			reason := string(stripeErr.DeclineCode)
			if reason == "" {
				reason = string(stripeErr.Code)
			}
			ref := ""
			if stripeErr.PaymentIntent != nil {
				ref = stripeErr.PaymentIntent.ID
			}
			g.logger(ctx, "payments.stripe.declined", map[string]any{
				"paymentIntent": ref,
				"reason":        reason,
			})
			return services.ChargeResult{
				ProviderRef:   ref,
				FailureReason: reason,
			}, nil
		}
		return services.ChargeResult{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	result := chargeResult(intent)
	g.logger(ctx, "payments.stripe.charged", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
		"succeeded":     result.Succeeded,
	})
	return result, nil
}

func chargeResult(intent *stripe.PaymentIntent) services.ChargeResult {
	if intent == nil {
		return services.ChargeResult{FailureReason: "missing payment intent"}
	}

	result := services.ChargeResult{ProviderRef: intent.ID}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture:
		result.Succeeded = true
	case stripe.PaymentIntentStatusCanceled:
		result.FailureReason = "canceled"
		switch intent.CancellationReason {
		case stripe.PaymentIntentCancellationReasonRequestedByCustomer, stripe.PaymentIntentCancellationReasonAbandoned:
			result.UserCancelled = true
		}
	default:
		result.FailureReason = string(intent.Status)
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			result.FailureReason = intent.LastPaymentError.Msg
		}
	}
	return result
}
