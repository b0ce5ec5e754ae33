// Package mercadopago is a Checkout Pro client built on the MercadoPago Go SDK.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mercadopago/sdk-go/pkg/config"
	mppayment "github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/payment"
)

type Config struct {
	AccessToken string
	// BaseURL overrides the API host; empty uses api.mercadopago.com.
	BaseURL         string
	NotificationURL string
	BackURL         string
	HTTPClient      *http.Client
}

type Client struct {
	cfg         Config
	preferences preference.Client
	payments    mppayment.Client
}

func New(cfg Config) (*Client, error) {
	rt := &requester{http: cfg.HTTPClient}
	if rt.http == nil {
		rt.http = http.DefaultClient
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid mercadopago base url %q", cfg.BaseURL)
		}
		rt.base = u
	}

	sdk, err := config.New(cfg.AccessToken, config.WithHTTPClient(rt))
	if err != nil {
		return nil, fmt.Errorf("failed to configure mercadopago sdk: %w", err)
	}
	return &Client{
		cfg:         cfg,
		preferences: preference.NewClient(sdk),
		payments:    mppayment.NewClient(sdk),
	}, nil
}

func (c *Client) Provider() entity.Provider {
	return entity.ProviderMercadoPago
}

// CreateCharge creates a checkout preference; the init point is the pay link.
func (c *Client) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	body := preference.Request{
		Items: []preference.ItemRequest{{
			Title:      req.Description,
			Quantity:   1,
			UnitPrice:  req.Amount.Float64(),
			CurrencyID: strings.ToUpper(req.Currency),
		}},
		ExternalReference: req.ParticipantRef,
		NotificationURL:   c.cfg.NotificationURL,
	}
	if len(req.Metadata) > 0 {
		body.Metadata = make(map[string]any, len(req.Metadata))
		for k, v := range req.Metadata {
			body.Metadata[k] = v
		}
	}
	if req.Email != "" {
		body.Payer = &preference.PayerRequest{Email: req.Email}
	}
	if c.cfg.BackURL != "" {
		body.BackURLs = &preference.BackURLsRequest{Success: c.cfg.BackURL, Failure: c.cfg.BackURL, Pending: c.cfg.BackURL}
	}

	ctx, call := withCall(ctx, req.IdempotencyKey)
	p, err := c.preferences.Create(ctx, body)
	if err != nil {
		return nil, call.err("create preference", err)
	}
	return &payment.Charge{Reference: p.ID, PayLink: p.InitPoint}, nil
}

func (c *Client) GetPaymentStatus(ctx context.Context, externalPaymentID string) (*payment.PaymentStatus, error) {
	id, err := strconv.Atoi(externalPaymentID)
	if err != nil {
		return nil, &payment.StatusError{Provider: entity.ProviderMercadoPago, Code: http.StatusNotFound, Body: "invalid payment id " + externalPaymentID}
	}

	ctx, call := withCall(ctx, "")
	p, err := c.payments.Get(ctx, id)
	if err != nil {
		return nil, call.err("get payment", err)
	}

	ps := &payment.PaymentStatus{
		ID:       strconv.Itoa(p.ID),
		Status:   canonicalStatus(p.Status),
		Amount:   money.FromFloat(p.TransactionAmount),
		Metadata: make(map[string]string, len(p.Metadata)),
	}
	for k, v := range p.Metadata {
		if k == "items" {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode payment items: %w", err)
			}
			ps.RawItems = raw
			continue
		}
		switch v := v.(type) {
		case string:
			ps.Metadata[k] = v
		case nil:
		default:
			raw, _ := json.Marshal(v)
			ps.Metadata[k] = string(raw)
		}
	}
	if _, ok := ps.Metadata["order_id"]; !ok && p.ExternalReference != "" {
		ps.Metadata["order_id"] = p.ExternalReference
	}
	return ps, nil
}

func canonicalStatus(s string) string {
	switch s {
	case "approved":
		return entity.StatusApproved
	case "pending", "in_process", "authorized", "in_mediation":
		return entity.StatusPending
	case "rejected", "cancelled", "refunded", "charged_back":
		return entity.StatusRejected
	default:
		return s
	}
}

type callKey struct{}

// call carries per-request state between the client and the requester the
// SDK sends through.
type call struct {
	idempotencyKey string
	failure        *payment.StatusError
}

func withCall(ctx context.Context, idempotencyKey string) (context.Context, *call) {
	c := &call{idempotencyKey: idempotencyKey}
	return context.WithValue(ctx, callKey{}, c), c
}

// err prefers the HTTP status seen on the wire over the SDK's error.
func (c *call) err(op string, err error) error {
	if c.failure != nil {
		return c.failure
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// requester is handed to the SDK as its HTTP client.
type requester struct {
	http *http.Client
	base *url.URL
}

func (r *requester) Do(req *http.Request) (*http.Response, error) {
	c, _ := req.Context().Value(callKey{}).(*call)
	if c != nil && c.idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", c.idempotencyKey)
	}
	if r.base != nil {
		req.URL.Scheme = r.base.Scheme
		req.URL.Host = r.base.Host
		req.URL.Path = r.base.Path + req.URL.Path
		req.Host = ""
	}

	resp, err := r.http.Do(req)
	if err != nil || c == nil || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return resp, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read mercadopago response: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	c.failure = &payment.StatusError{Provider: entity.ProviderMercadoPago, Code: resp.StatusCode, Body: string(body)}
	return resp, nil
}
