package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/payment"
)

func TestCreateChargeSendsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "3334", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "usd", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "p1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "group_shipping", r.PostForm.Get("metadata[kind]"))
		w.Write([]byte(`{"id":"cs_123","object":"checkout.session","url":"https://checkout.stripe.com/pay/cs_123"}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "sk_test", BaseURL: srv.URL})
	charge, err := c.CreateCharge(context.Background(), payment.ChargeRequest{
		IdempotencyKey: "key-1",
		ParticipantRef: "p1",
		Description:    "Shipping",
		Amount:         3334,
		Currency:       "USD",
		Metadata:       map[string]string{"kind": entity.KindGroupShipping},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_123", charge.Reference)
	assert.Equal(t, "https://checkout.stripe.com/pay/cs_123", charge.PayLink)
}

func TestGetPaymentStatus(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"paid", `{"id":"cs_1","status":"complete","payment_status":"paid","amount_total":1500}`, entity.StatusApproved},
		{"unpaid", `{"id":"cs_1","status":"open","payment_status":"unpaid","amount_total":1500}`, entity.StatusPending},
		{"expired", `{"id":"cs_1","status":"expired","payment_status":"unpaid","amount_total":1500}`, entity.StatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/checkout/sessions/cs_1", r.URL.Path)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ps, err := New(Config{APIKey: "sk_test", BaseURL: srv.URL}).GetPaymentStatus(context.Background(), "cs_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ps.Status)
			assert.EqualValues(t, 1500, ps.Amount)
		})
	}
}

func TestGetPaymentStatusCarriesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"cs_1","payment_status":"paid","metadata":{"order_id":"o1","items":"[{\"productId\":\"P1\",\"quantity\":2}]"}}`))
	}))
	defer srv.Close()

	ps, err := New(Config{APIKey: "sk_test", BaseURL: srv.URL}).GetPaymentStatus(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "o1", ps.Metadata["order_id"])
	items, err := payment.DecodeItems(ps.RawItems)
	require.NoError(t, err)
	assert.Equal(t, []entity.OrderItem{{ProductID: "P1", Quantity: 2}}, items)
}

func TestErrorResponseIsStatusError(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		temporary bool
		notFound  bool
	}{
		{"missing session", http.StatusNotFound, false, true},
		{"rate limited", http.StatusTooManyRequests, true, false},
		{"outage", http.StatusServiceUnavailable, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.code)
				w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such checkout.session"}}`))
			}))
			defer srv.Close()

			_, err := New(Config{APIKey: "sk_test", BaseURL: srv.URL}).GetPaymentStatus(context.Background(), "cs_missing")
			var se *payment.StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, tt.temporary, se.Temporary())
			assert.Equal(t, tt.notFound, errors.Is(err, entity.ErrNotFound))
		})
	}
}

func TestCancelledContextAbortsCall(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{APIKey: "sk_test", BaseURL: srv.URL}).GetPaymentStatus(ctx, "cs_1")
	assert.ErrorIs(t, err, context.Canceled)
}
