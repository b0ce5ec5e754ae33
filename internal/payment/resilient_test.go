package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
)

type fakeGateway struct {
	calls    int
	statusFn func(call int) (*PaymentStatus, error)
}

func (f *fakeGateway) Provider() entity.Provider { return entity.ProviderStripe }

func (f *fakeGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	f.calls++
	return &Charge{Reference: "cs_" + req.IdempotencyKey}, nil
}

func (f *fakeGateway) GetPaymentStatus(ctx context.Context, id string) (*PaymentStatus, error) {
	f.calls++
	return f.statusFn(f.calls)
}

func fastConfig() ResilienceConfig {
	return ResilienceConfig{Timeout: time.Second, MaxTries: 3, InitialInterval: time.Millisecond, BreakerFailures: 10}
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	gw := &fakeGateway{statusFn: func(call int) (*PaymentStatus, error) {
		if call < 3 {
			return nil, &StatusError{Provider: entity.ProviderStripe, Code: http.StatusServiceUnavailable}
		}
		return &PaymentStatus{ID: "cs_1", Status: entity.StatusApproved}, nil
	}}

	ps, err := NewResilient(gw, fastConfig()).GetPaymentStatus(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusApproved, ps.Status)
	assert.Equal(t, 3, gw.calls)
}

func TestResilientDoesNotRetryNotFound(t *testing.T) {
	gw := &fakeGateway{statusFn: func(int) (*PaymentStatus, error) {
		return nil, &StatusError{Provider: entity.ProviderStripe, Code: http.StatusNotFound}
	}}

	_, err := NewResilient(gw, fastConfig()).GetPaymentStatus(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrNotFound)
	assert.False(t, errors.Is(err, entity.ErrUpstreamUnavailable))
	assert.Equal(t, 1, gw.calls)
}

func TestResilientExhaustedRetriesAreUpstreamUnavailable(t *testing.T) {
	gw := &fakeGateway{statusFn: func(int) (*PaymentStatus, error) {
		return nil, errors.New("connection refused")
	}}

	_, err := NewResilient(gw, fastConfig()).GetPaymentStatus(context.Background(), "cs_1")
	assert.ErrorIs(t, err, entity.ErrUpstreamUnavailable)
	assert.Equal(t, 3, gw.calls)
}

func TestResilientOpenCircuitShortCircuits(t *testing.T) {
	gw := &fakeGateway{statusFn: func(int) (*PaymentStatus, error) {
		return nil, &StatusError{Provider: entity.ProviderStripe, Code: http.StatusBadGateway}
	}}
	cfg := fastConfig()
	cfg.MaxTries = 1
	cfg.BreakerFailures = 2
	r := NewResilient(gw, cfg)

	for i := 0; i < 2; i++ {
		_, err := r.GetPaymentStatus(context.Background(), "cs_1")
		assert.ErrorIs(t, err, entity.ErrUpstreamUnavailable)
	}
	_, err := r.GetPaymentStatus(context.Background(), "cs_1")
	assert.ErrorIs(t, err, entity.ErrUpstreamUnavailable)
	assert.Equal(t, 2, gw.calls)
}

func TestGatewaysGetUnknownProvider(t *testing.T) {
	gws := Gateways{entity.ProviderStripe: &fakeGateway{}}
	_, err := gws.Get(entity.ProviderMercadoPago)
	assert.ErrorIs(t, err, entity.ErrInvalidState)
}

func TestDecodeItems(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []entity.OrderItem
	}{
		{"array", `[{"productId":"P1","quantity":2}]`, []entity.OrderItem{{ProductID: "P1", Quantity: 2}}},
		{"string holding array", `"[{\"product_id\":\"P2\",\"quantity\":1}]"`, []entity.OrderItem{{ProductID: "P2", Quantity: 1}}},
		{"drops invalid entries", `[{"id":"P3","quantity":0},{"id":"P4","quantity":3}]`, []entity.OrderItem{{ProductID: "P4", Quantity: 3}}},
		{"merges repeated products", `[{"productId":"P1","quantity":1},{"productId":"P2","quantity":4},{"product_id":"P1","quantity":2}]`,
			[]entity.OrderItem{{ProductID: "P1", Quantity: 3}, {ProductID: "P2", Quantity: 4}}},
		{"empty", ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeItems([]byte(tt.raw))
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
