package handler

import (
	"io"
	"medislot/internal/payments/service"
	"medislot/pkg/config"
	apperrors "medislot/pkg/errors"
	"medislot/pkg/gateway"
	httputil "medislot/pkg/http"
	"medislot/pkg/logger"
	"medislot/pkg/middleware"
	"net/http"
	"net/url"

	"github.com/julienschmidt/httprouter"
)

const PublicPathPrefix = "/payments"

// outcomeIgnored acknowledges webhook events that carry no payment to settle.
const outcomeIgnored service.Outcome = "ignored"

type PaymentHandler struct {
	service  service.PaymentService
	webhooks gateway.Webhooks
	cfg      *config.Config
	log      *logger.Logger
}

// NewPaymentHandler takes the configured gateway's webhook format, so the
// webhook route accepts exactly what that provider signs and sends.
func NewPaymentHandler(service service.PaymentService, webhooks gateway.Webhooks, cfg *config.Config) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		webhooks: webhooks,
		cfg:      cfg,
		log:      cfg.Log,
	}
}

func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		h.writeError(w, "Initiate", apperrors.Unauthorized("Authentication required"))
		return
	}

	initiation, err := h.service.Initiate(r.Context(), actor, ps.ByName("id"))
	if err != nil {
		h.writeError(w, "Initiate", err)
		return
	}

	if err := httputil.WriteCreated(w, initiation); err != nil {
		h.log.Error("failed to write created response", "handler", "Initiate", "operation", "WriteCreated", "error", err)
	}
}

// Callback is where the gateway sends the payer back. The reference in the
// query is only a hint; Reconcile verifies it server to server.
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()
	reference := query.Get("reference")
	if reference == "" {
		reference = query.Get("trxref")
	}

	result := h.service.Reconcile(r.Context(), reference)
	h.log.Info("Payment callback reconciled",
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"reference", result.Reference,
		"outcome", result.Outcome,
	)

	http.Redirect(w, r, h.redirectURL(result), http.StatusFound)
}

type webhookAck struct {
	Outcome service.Outcome `json:"outcome"`
}

// Webhook handles signed server-to-server notifications. Events that do not
// settle a payment are acknowledged untouched. It answers 503 only when
// another delivery could succeed, so the gateway retries.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, "Webhook", apperrors.InvalidInput("Failed to read webhook payload"))
		return
	}
	event, err := h.webhooks.ParseWebhook(body)
	if err != nil {
		h.log.Warn("Unreadable payment webhook", "request_id", middleware.RequestIDFromContext(r.Context()), "error", err)
		h.writeError(w, "Webhook", apperrors.InvalidInput("Invalid webhook payload"))
		return
	}

	if event.Reference == "" {
		h.log.Debug("Payment webhook ignored", "request_id", middleware.RequestIDFromContext(r.Context()), "event", event.Type)
		if err := httputil.WriteJSON(w, http.StatusOK, webhookAck{Outcome: outcomeIgnored}); err != nil {
			h.log.Error("failed to write JSON response", "handler", "Webhook", "operation", "WriteJSON", "error", err)
		}
		return
	}

	result := h.service.Reconcile(r.Context(), event.Reference)
	h.log.Info("Payment webhook reconciled",
		"request_id", middleware.RequestIDFromContext(r.Context()),
		"event", event.Type,
		"reference", result.Reference,
		"outcome", result.Outcome,
	)

	status := http.StatusOK
	if result.Retryable() {
		status = http.StatusServiceUnavailable
	}
	if err := httputil.WriteJSON(w, status, webhookAck{Outcome: result.Outcome}); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Webhook", "operation", "WriteJSON", "error", err)
	}
}

func (h *PaymentHandler) redirectURL(result service.Result) string {
	target := h.cfg.PaymentFailureURL
	params := url.Values{}
	if result.Succeeded() {
		target = h.cfg.PaymentSuccessURL
	} else {
		params.Set("code", string(result.Outcome))
	}
	if result.AppointmentID != "" {
		params.Set("appointment_id", result.AppointmentID)
	}

	u, err := url.Parse(target)
	if err != nil {
		h.log.Error("Invalid payment redirect URL", "url", target, "error", err)
		return "/"
	}
	query := u.Query()
	for k, v := range params {
		query[k] = v
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func (h *PaymentHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

// RegisterRoutes mounts the payment routes. The callback and webhook live
// under PublicPathPrefix and skip bearer authentication; the webhook is
// guarded by the gateway's own signature instead.
func (h *PaymentHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/appointments/:id/payments", h.Initiate)
	router.GET(PublicPathPrefix+"/callback", h.Callback)
	router.Handler(http.MethodPost, PublicPathPrefix+"/webhook",
		middleware.WebhookSignatureVerification(h.webhooks.VerifyWebhook, h.log)(http.HandlerFunc(h.Webhook)))
}
