// Package gateway talks to the external payment processor. Amounts cross this
// boundary in minor units; callers convert with ToMinor.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"medislot/pkg/config"
	"medislot/pkg/logger"
)

// ErrUnavailable marks transport failures and 5xx answers. Only these are worth a retry.
var ErrUnavailable = errors.New("payment gateway unavailable")

type InitializeRequest struct {
	Reference   string
	AmountMinor int64
	Currency    string
	Email       string
	CallbackURL string
	Metadata    map[string]string
}

type Checkout struct {
	Reference        string
	AuthorizationURL string
}

type Verification struct {
	Reference   string
	Success     bool
	Status      string
	AmountMinor int64
	Currency    string
	GatewayID   string
}

type RefundRequest struct {
	Reference      string
	AmountMinor    int64
	IdempotencyKey string
}

type Refund struct {
	ID     string
	Status string
}

type Gateway interface {
	Initialize(ctx context.Context, req InitializeRequest) (*Checkout, error)
	Verify(ctx context.Context, reference string) (*Verification, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
	Webhooks
}

// New returns the gateway selected by PAYMENT_PROVIDER.
func New(cfg *config.Config, log *logger.Logger) (Gateway, error) {
	switch cfg.PaymentProvider {
	case config.PaymentProviderPaystack:
		return NewPaystack(cfg.PaymentBaseURL, cfg.PaymentSecretKey, cfg.GatewayTimeout), nil
	case config.PaymentProviderStripe:
		if cfg.PaymentWebhookSecret == "" {
			log.Warn("PAYMENT_WEBHOOK_SECRET is not set, Stripe webhooks will be rejected")
		}
		return NewStripe(cfg.PaymentSecretKey, cfg.PaymentWebhookSecret, cfg.PaymentSuccessURL, cfg.PaymentFailureURL, nil, log), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider %q", cfg.PaymentProvider)
	}
}

// ToMinor converts a major-unit amount to the gateway's integer minor units.
func ToMinor(amount float64, factor int) int64 {
	return int64(math.Round(amount * float64(factor)))
}

func Transient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
