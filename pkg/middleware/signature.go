package middleware

import (
	"bytes"
	"io"
	"medislot/pkg/logger"
	"net/http"
)

// maxWebhookBody bounds what is buffered before the signature is checked.
const maxWebhookBody = 1 << 20

// WebhookVerifier authenticates a raw webhook delivery. Each payment gateway
// signs in its own header with its own key.
type WebhookVerifier func(header http.Header, body []byte) error

// WebhookSignatureVerification buffers the body, hands it to verify and only
// calls next when the delivery is authentic. next sees the body unchanged.
func WebhookSignatureVerification(verify WebhookVerifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := readAndRestoreBody(w, r)
			if err != nil {
				logAndReject(w, log, r, "Failed to read request body", err)
				return
			}

			if err := verify(r.Header, body); err != nil {
				logAndReject(w, log, r, "Invalid webhook signature", err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func readAndRestoreBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		return nil, err
	}

	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	return body, nil
}

func logAndReject(w http.ResponseWriter, log *logger.Logger, r *http.Request, reason string, err error) {
	log.Warn("Payment webhook rejected",
		"request_id", requestIDFrom(r),
		"reason", reason,
		"error", err,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Unauthorized","code":"UNAUTHORIZED"}`))
}
