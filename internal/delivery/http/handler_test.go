package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/audit"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/delivery/command"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/payment"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/ratelimit"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository/memory"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/service"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/webhook"
)

type fakeInvoices struct {
	setCost func(ctx context.Context, id string, cost money.Cents, actor string) error
	preview func(ctx context.Context, id string) ([]entity.ShippingShare, error)
	issue   func(ctx context.Context, id, actor string) (*service.IssueResult, error)
}

func (f fakeInvoices) SetActualShippingCost(ctx context.Context, id string, cost money.Cents, actor string) error {
	return f.setCost(ctx, id, cost, actor)
}

func (f fakeInvoices) PreviewShares(ctx context.Context, id string) ([]entity.ShippingShare, error) {
	return f.preview(ctx, id)
}

func (f fakeInvoices) IssueShippingInvoices(ctx context.Context, id, actor string) (*service.IssueResult, error) {
	return f.issue(ctx, id, actor)
}

type reconcilerFunc func(ctx context.Context, provider entity.Provider, req *webhook.Request) (*entity.Reconciliation, error)

func (f reconcilerFunc) HandleWebhook(ctx context.Context, provider entity.Provider, req *webhook.Request) (*entity.Reconciliation, error) {
	return f(ctx, provider, req)
}

type senderFunc func(ctx context.Context, cmd any) error

func (f senderFunc) Send(ctx context.Context, cmd any) error { return f(ctx, cmd) }

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	EnableCORS(mux).ServeHTTP(rec, req)
	return rec
}

func TestSetShippingCost(t *testing.T) {
	var gotCost money.Cents
	var gotActor string
	h := NewHandler(fakeInvoices{setCost: func(ctx context.Context, id string, cost money.Cents, actor string) error {
		assert.Equal(t, "g1", id)
		gotCost, gotActor = cost, actor
		return nil
	}}, nil, nil, nil)

	rec := serve(h, httptest.NewRequest(http.MethodPut, "/api/group-orders/g1/shipping-cost", strings.NewReader(`{"amount":"1000.00","actor_id":"organizer"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, money.Cents(100000), gotCost)
	assert.Equal(t, "organizer", gotActor)
	assert.JSONEq(t, `{"group_order_id":"g1","actual_shipping_cost":"1000.00"}`, rec.Body.String())

	rec = serve(h, httptest.NewRequest(http.MethodPut, "/api/group-orders/g1/shipping-cost", strings.NewReader(`{"amount":"ten"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", entity.ErrInvalidState), http.StatusConflict},
		{fmt.Errorf("wrap: %w", entity.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("wrap: %w", entity.ErrUpstreamUnavailable), http.StatusServiceUnavailable},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := NewHandler(fakeInvoices{issue: func(ctx context.Context, id, actor string) (*service.IssueResult, error) {
			return nil, tt.err
		}}, nil, nil, nil)
		rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/group-orders/g1/shipping-invoices", nil))
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}

func TestIssueInvoicesReturnsResult(t *testing.T) {
	h := NewHandler(fakeInvoices{issue: func(ctx context.Context, id, actor string) (*service.IssueResult, error) {
		assert.Equal(t, "organizer", actor)
		return &service.IssueResult{Success: false, Generated: 1, Errors: map[string]string{"p2": "card declined"}}, nil
	}}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/group-orders/g1/shipping-invoices", nil)
	req.Header.Set("X-Actor-ID", "organizer")
	rec := serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false,"generated":1,"errors":{"p2":"card declined"}}`, rec.Body.String())
}

func TestIssueInvoicesAsync(t *testing.T) {
	var sent *command.IssueShippingInvoices
	h := NewHandler(fakeInvoices{}, nil, senderFunc(func(ctx context.Context, cmd any) error {
		sent = cmd.(*command.IssueShippingInvoices)
		return nil
	}), nil)

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/group-orders/g1/shipping-invoices?async=true", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, sent)
	assert.Equal(t, "g1", sent.GroupOrderID)

	rec = serve(NewHandler(fakeInvoices{}, nil, nil, nil), httptest.NewRequest(http.MethodPost, "/api/group-orders/g1/shipping-invoices?async=true", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPreviewShares(t *testing.T) {
	h := NewHandler(fakeInvoices{preview: func(ctx context.Context, id string) ([]entity.ShippingShare, error) {
		return []entity.ShippingShare{{ParticipantID: "p1", Proportion: 1, ShippingCost: 5000, ItemsCount: 2}}, nil
	}}, nil, nil, nil)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/group-orders/g1/shipping-shares", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var shares []entity.ShippingShare
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shares))
	assert.Equal(t, money.Cents(5000), shares[0].ShippingCost)
}

func TestWebhookStatusCodes(t *testing.T) {
	ignored := entity.NewReconciliation(entity.ProviderStripe)
	ignored.ID = "stripe:cs_1"
	ignored.State = entity.StateIgnored

	tests := []struct {
		name string
		rec  *entity.Reconciliation
		err  error
		want int
	}{
		{"forged", ignored, fmt.Errorf("bad: %w", entity.ErrUnauthorized), http.StatusUnauthorized},
		{"upstream down", ignored, fmt.Errorf("bad: %w", entity.ErrUpstreamUnavailable), http.StatusServiceUnavailable},
		{"integrity gap acknowledged", ignored, fmt.Errorf("bad: %w", entity.ErrDataIntegrityGap), http.StatusOK},
		{"malformed", nil, fmt.Errorf("bad: %w", webhook.ErrMalformed), http.StatusBadRequest},
		{"unknown provider", nil, fmt.Errorf("bad: %w", entity.ErrNotFound), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(nil, reconcilerFunc(func(ctx context.Context, p entity.Provider, req *webhook.Request) (*entity.Reconciliation, error) {
				return tt.rec, tt.err
			}), nil, nil)
			rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{}`)))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestWebhookEndToEnd(t *testing.T) {
	store := memory.NewStore()
	store.PutProduct(entity.Product{ID: "P1", Stock: 10})
	gw := payment.Gateways{entity.ProviderMercadoPago: statusGateway{}}
	reconciler := service.NewReconciler(
		webhook.Adapters{entity.ProviderMercadoPago: webhook.NewMercadoPago("", webhook.PolicySkipIfUnset)},
		gw, store.Orders(), store.Inventory(), store.Participants(),
		audit.NewRecorder(audit.NewRepositorySink(store.Audit())),
	)
	limit := ratelimit.Middleware(ratelimit.NewMemoryStore(), "webhook", 100, time.Minute)
	h := NewHandler(nil, reconciler, nil, limit)

	for i := 0; i < 2; i++ {
		rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/webhooks/mercadopago?data.id=991&type=payment", strings.NewReader(`{"type":"payment","data":{"id":"991"}}`)))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"id":"mercadopago:991","state":"APPLIED"}`, rec.Body.String())
	}
	assert.Equal(t, 8, store.Stock("P1"))
}

type statusGateway struct{}

func (statusGateway) Provider() entity.Provider { return entity.ProviderMercadoPago }

func (statusGateway) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	return nil, errors.New("not used")
}

func (statusGateway) GetPaymentStatus(ctx context.Context, id string) (*payment.PaymentStatus, error) {
	return &payment.PaymentStatus{
		ID:       id,
		Status:   entity.StatusApproved,
		Amount:   3000,
		Metadata: map[string]string{"order_id": "o1"},
		RawItems: json.RawMessage(`[{"productId":"P1","quantity":2}]`),
	}, nil
}

func TestCORSPreflight(t *testing.T) {
	rec := serve(NewHandler(nil, nil, nil, nil), httptest.NewRequest(http.MethodOptions, "/api/group-orders/g1/shipping-cost", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")
}

func TestHealthz(t *testing.T) {
	rec := serve(NewHandler(nil, nil, nil, nil), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
