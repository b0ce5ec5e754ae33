// Package stripe is a Checkout Sessions client built on stripe-go.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/payment"
)

type Config struct {
	APIKey string
	// BaseURL overrides the API host; empty uses api.stripe.com.
	BaseURL    string
	SuccessURL string
	CancelURL  string
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
	api *client.API
}

func New(cfg Config) *Client {
	backend := &stripeapi.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		LeveledLogger:     slogLogger{},
		MaxNetworkRetries: stripeapi.Int64(0),
		EnableTelemetry:   stripeapi.Bool(false),
	}
	if cfg.BaseURL != "" {
		backend.URL = stripeapi.String(cfg.BaseURL)
	}
	api := client.New(cfg.APIKey, &stripeapi.Backends{
		API:     stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backend),
		Connect: stripeapi.GetBackend(stripeapi.ConnectBackend),
		Uploads: stripeapi.GetBackend(stripeapi.UploadsBackend),
	})
	return &Client{cfg: cfg, api: api}
}

func (c *Client) Provider() entity.Provider {
	return entity.ProviderStripe
}

// CreateCharge opens a one-line-item Checkout Session for the amount.
func (c *Client) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	params := &stripeapi.CheckoutSessionParams{
		Mode: stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{{
			Quantity: stripeapi.Int64(1),
			PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripeapi.String(strings.ToLower(req.Currency)),
				UnitAmount: stripeapi.Int64(int64(req.Amount)),
				ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripeapi.String(req.Description),
				},
			},
		}},
		ClientReferenceID: stripeapi.String(req.ParticipantRef),
	}
	params.Context = ctx
	if req.Email != "" {
		params.CustomerEmail = stripeapi.String(req.Email)
	}
	if c.cfg.SuccessURL != "" {
		params.SuccessURL = stripeapi.String(c.cfg.SuccessURL)
	}
	if c.cfg.CancelURL != "" {
		params.CancelURL = stripeapi.String(c.cfg.CancelURL)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, statusError(err, "create checkout session")
	}
	return &payment.Charge{Reference: s.ID, PayLink: s.URL}, nil
}

// GetPaymentStatus fetches the session; only payment_status "paid" counts as approved.
func (c *Client) GetPaymentStatus(ctx context.Context, externalPaymentID string) (*payment.PaymentStatus, error) {
	params := &stripeapi.CheckoutSessionParams{}
	params.Context = ctx

	s, err := c.api.CheckoutSessions.Get(externalPaymentID, params)
	if err != nil {
		return nil, statusError(err, "get checkout session")
	}

	status := entity.StatusPending
	switch {
	case s.PaymentStatus == stripeapi.CheckoutSessionPaymentStatusPaid:
		status = entity.StatusApproved
	case s.Status == stripeapi.CheckoutSessionStatusExpired:
		status = entity.StatusRejected
	}

	ps := &payment.PaymentStatus{
		ID:       s.ID,
		Status:   status,
		Amount:   money.Cents(s.AmountTotal),
		Metadata: s.Metadata,
	}
	if items := s.Metadata["items"]; items != "" {
		ps.RawItems = json.RawMessage(items)
	}
	return ps, nil
}

// statusError maps API errors onto payment.StatusError so retries and
// not-found handling see the HTTP status.
func statusError(err error, op string) error {
	var se *stripeapi.Error
	if errors.As(err, &se) && se.HTTPStatusCode != 0 {
		return &payment.StatusError{Provider: entity.ProviderStripe, Code: se.HTTPStatusCode, Body: se.Msg}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

type slogLogger struct{}

func (slogLogger) Debugf(format string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(format, v...), "provider", entity.ProviderStripe)
}

func (slogLogger) Infof(format string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(format, v...), "provider", entity.ProviderStripe)
}

func (slogLogger) Warnf(format string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(format, v...), "provider", entity.ProviderStripe)
}

func (slogLogger) Errorf(format string, v ...interface{}) {
	slog.Error(fmt.Sprintf(format, v...), "provider", entity.ProviderStripe)
}
