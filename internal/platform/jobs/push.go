package jobs

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bazaarhub/api/internal/domain"
)

// ErrInvalidPushEnvelope reports a push delivery body that does not carry a
// decodable order event.
var ErrInvalidPushEnvelope = errors.New("jobs: invalid push envelope")

// pushEnvelope mirrors the JSON body Pub/Sub sends to push endpoints.
type pushEnvelope struct {
	Message struct {
		Data       string            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// ParsePushEnvelope decodes a Pub/Sub push delivery into the order event it
// wraps. The message data is the base64 encoding of the published payload.
func ParsePushEnvelope(body []byte) (domain.OrderEvent, error) {
	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.OrderEvent{}, fmt.Errorf("%w: %v", ErrInvalidPushEnvelope, err)
	}
	if strings.TrimSpace(envelope.Message.Data) == "" {
		return domain.OrderEvent{}, fmt.Errorf("%w: empty message data", ErrInvalidPushEnvelope)
	}
	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return domain.OrderEvent{}, fmt.Errorf("%w: %v", ErrInvalidPushEnvelope, err)
	}
	var message orderEventMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return domain.OrderEvent{}, fmt.Errorf("%w: %v", ErrInvalidPushEnvelope, err)
	}
	if strings.TrimSpace(message.Type) == "" {
		return domain.OrderEvent{}, fmt.Errorf("%w: missing event type", ErrInvalidPushEnvelope)
	}
	return domain.OrderEvent{
		Type:       message.Type,
		OrderID:    message.OrderID,
		ReturnID:   message.ReturnID,
		UserID:     message.UserID,
		SellerIDs:  message.SellerIDs,
		Status:     message.Status,
		OccurredAt: message.OccurredAt,
	}, nil
}
