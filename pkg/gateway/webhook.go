package gateway

import (
	"errors"
	"net/http"
)

// ErrInvalidSignature is returned when a webhook delivery was not signed by the gateway.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookEvent is the part of a gateway notification reconciliation needs.
// Reference is empty for event types that do not settle a payment.
type WebhookEvent struct {
	Type      string
	Reference string
}

// Webhooks authenticates and decodes the gateway's own notification format.
// VerifyWebhook runs on the raw body before anything is decoded.
type Webhooks interface {
	VerifyWebhook(header http.Header, body []byte) error
	ParseWebhook(body []byte) (*WebhookEvent, error)
}
