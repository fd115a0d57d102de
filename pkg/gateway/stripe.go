package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"medislot/pkg/logger"
	"net/http"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	stripeReferenceKey = "reference"

	StripeSignatureHeader = "Stripe-Signature"
)

// errNotIndexed means Search has not caught up with a fresh PaymentIntent yet.
// Checkout creates the intent only when the payer confirms, so a reference we
// issued that Search cannot see is treated as lag and retried.
var errNotIndexed = errors.New("no payment intent indexed for reference")

// Stripe opens Checkout Sessions whose PaymentIntent carries our reference in
// metadata, so verification and refunds can find it again by reference alone.
type Stripe struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	log           *logger.Logger
}

// NewStripe builds the adapter. backends is nil in production and points at a
// test server in tests.
func NewStripe(secretKey, webhookSecret, successURL, cancelURL string, backends *stripe.Backends, log *logger.Logger) *Stripe {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Stripe{
		api:           api,
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		log:           log,
	}
}

// Initialize sends the payer back to the callback with our reference in the
// query, the same shape Paystack uses, so one callback handler serves both.
func (s *Stripe) Initialize(ctx context.Context, req InitializeRequest) (*Checkout, error) {
	returnURL := s.successURL
	if req.CallbackURL != "" {
		returnURL = req.CallbackURL
	}
	successURL, err := withReference(returnURL, req.Reference)
	if err != nil {
		return nil, fmt.Errorf("stripe initialize: %w", err)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Consultation"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{stripeReferenceKey: req.Reference},
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata(stripeReferenceKey, req.Reference)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey("checkout-" + req.Reference)

	session, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyStripe("stripe initialize", err)
	}
	return &Checkout{Reference: req.Reference, AuthorizationURL: session.URL}, nil
}

func (s *Stripe) Verify(ctx context.Context, reference string) (*Verification, error) {
	intent, err := s.findIntent(ctx, reference)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, unavailable("stripe verify", fmt.Errorf("%w %s", errNotIndexed, reference))
	}

	return &Verification{
		Reference:   reference,
		Success:     intent.Status == stripe.PaymentIntentStatusSucceeded,
		Status:      string(intent.Status),
		AmountMinor: intent.AmountReceived,
		Currency:    strings.ToUpper(string(intent.Currency)),
		GatewayID:   intent.ID,
	}, nil
}

func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	intent, err := s.findIntent(ctx, req.Reference)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, unavailable("stripe refund", fmt.Errorf("%w %s", errNotIndexed, req.Reference))
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intent.ID),
		Amount:        stripe.Int64(req.AmountMinor),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	refund, err := s.api.Refunds.New(params)
	if err != nil {
		return nil, classifyStripe("stripe refund", err)
	}
	return &Refund{ID: refund.ID, Status: string(refund.Status)}, nil
}

func (s *Stripe) findIntent(ctx context.Context, reference string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", stripeReferenceKey, strings.ReplaceAll(reference, "'", ""))
	params.Context = ctx

	iter := s.api.PaymentIntents.Search(params)
	var found *stripe.PaymentIntent
	seen := 0
	for iter.Next() {
		seen++
		pi := iter.PaymentIntent()
		// Prefer a succeeded intent if a patient retried checkout.
		if found == nil || pi.Status == stripe.PaymentIntentStatusSucceeded {
			found = pi
		}
	}
	if err := iter.Err(); err != nil {
		return nil, classifyStripe("stripe search", err)
	}
	if seen > 1 {
		s.log.Warn("Multiple payment intents share one reference", "reference", reference, "count", seen)
	}
	return found, nil
}

func (s *Stripe) VerifyWebhook(header http.Header, body []byte) error {
	if s.webhookSecret == "" {
		return fmt.Errorf("%w: webhook secret is not configured", ErrInvalidSignature)
	}
	if err := webhook.ValidatePayload(body, header.Get(StripeSignatureHeader), s.webhookSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

type stripeEventObject struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// ParseWebhook takes the reference from completed checkouts and succeeded
// intents. Both carry it in metadata; sessions also carry client_reference_id.
func (s *Stripe) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("stripe webhook: %w", err)
	}
	out := &WebhookEvent{Type: string(event.Type)}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypePaymentIntentSucceeded:
	default:
		return out, nil
	}
	if event.Data == nil {
		return nil, fmt.Errorf("stripe webhook: %s has no data", event.Type)
	}

	var object stripeEventObject
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return nil, fmt.Errorf("stripe webhook: decode %s: %w", event.Type, err)
	}
	out.Reference = object.Metadata[stripeReferenceKey]
	if out.Reference == "" {
		out.Reference = object.ClientReferenceID
	}
	return out, nil
}

func withReference(rawURL, reference string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid return url %q: %w", rawURL, err)
	}
	query := u.Query()
	query.Set(stripeReferenceKey, reference)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func classifyStripe(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 0 {
			return unavailable(op, err)
		}
		return fmt.Errorf("%s rejected: %s", op, stripeErr.Msg)
	}
	return unavailable(op, err)
}
