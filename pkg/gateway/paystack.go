package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"medislot/pkg/client"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PaystackSignatureHeader carries the hex HMAC-SHA512 of the webhook body,
// keyed by the account's secret key.
const PaystackSignatureHeader = "X-Paystack-Signature"

type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type paystackInitData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackVerifyData struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type paystackRefundData struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

type Paystack struct {
	http      *client.HttpClient
	secretKey string
}

func NewPaystack(baseURL, secretKey string, timeout time.Duration) *Paystack {
	return &Paystack{
		http:      client.NewHttpClient(baseURL, timeout).WithBearer(secretKey),
		secretKey: secretKey,
	}
}

func (p *Paystack) Initialize(ctx context.Context, req InitializeRequest) (*Checkout, error) {
	body := map[string]any{
		"reference": req.Reference,
		"amount":    req.AmountMinor,
		"currency":  req.Currency,
		"email":     req.Email,
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	resp, err := p.http.POST(ctx, "/transaction/initialize", body)
	if err != nil {
		return nil, unavailable("paystack initialize", err)
	}

	var out paystackEnvelope[paystackInitData]
	if err := decode(resp, "initialize", &out); err != nil {
		return nil, err
	}
	if out.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("paystack initialize: missing authorization url")
	}

	reference := out.Data.Reference
	if reference == "" {
		reference = req.Reference
	}
	return &Checkout{Reference: reference, AuthorizationURL: out.Data.AuthorizationURL}, nil
}

func (p *Paystack) Verify(ctx context.Context, reference string) (*Verification, error) {
	resp, err := p.http.GET(ctx, "/transaction/verify/"+url.PathEscape(reference))
	if err != nil {
		return nil, unavailable("paystack verify", err)
	}

	var out paystackEnvelope[paystackVerifyData]
	if err := decode(resp, "verify", &out); err != nil {
		return nil, err
	}

	return &Verification{
		Reference:   out.Data.Reference,
		Success:     out.Data.Status == "success",
		Status:      out.Data.Status,
		AmountMinor: out.Data.Amount,
		Currency:    out.Data.Currency,
		GatewayID:   fmt.Sprintf("%d", out.Data.ID),
	}, nil
}

func (p *Paystack) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	body := map[string]any{
		"transaction": req.Reference,
		"amount":      req.AmountMinor,
	}
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}

	resp, err := p.http.POSTWithHeaders(ctx, "/refund", body, headers)
	if err != nil {
		return nil, unavailable("paystack refund", err)
	}

	var out paystackEnvelope[paystackRefundData]
	if err := decode(resp, "refund", &out); err != nil {
		return nil, err
	}
	return &Refund{ID: fmt.Sprintf("%d", out.Data.ID), Status: out.Data.Status}, nil
}

func (p *Paystack) VerifyWebhook(header http.Header, body []byte) error {
	if p.secretKey == "" {
		return fmt.Errorf("%w: secret key is not configured", ErrInvalidSignature)
	}
	signature := strings.ToLower(strings.TrimSpace(header.Get(PaystackSignatureHeader)))
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, PaystackSignatureHeader)
	}
	if !hmac.Equal([]byte(SignPaystack(body, p.secretKey)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseWebhook only takes a reference from charge.success; other events are
// acknowledged without reconciliation.
func (p *Paystack) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event paystackEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("paystack webhook: %w", err)
	}
	if event.Event != "charge.success" {
		return &WebhookEvent{Type: event.Event}, nil
	}
	return &WebhookEvent{Type: event.Event, Reference: event.Data.Reference}, nil
}

// SignPaystack returns the signature Paystack sends for body.
func SignPaystack(body []byte, secretKey string) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func decode[T any](resp *client.Response, op string, out *paystackEnvelope[T]) error {
	if resp.StatusCode >= http.StatusInternalServerError {
		return unavailable("paystack "+op, fmt.Errorf("status %d", resp.StatusCode))
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("paystack %s rejected: %s", op, client.GetErrorMessage(resp))
	}
	if err := resp.DecodeJSON(out); err != nil {
		return fmt.Errorf("paystack %s: decode response: %w", op, err)
	}
	if !out.Status {
		return fmt.Errorf("paystack %s rejected: %s", op, out.Message)
	}
	return nil
}
