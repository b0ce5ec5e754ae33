package webhook

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
)

const secret = "whsec_test"

func stripeRequest(body string, header string) *Request {
	h := http.Header{}
	if header != "" {
		h.Set("Stripe-Signature", header)
	}
	return &Request{Header: h, Query: url.Values{}, Body: []byte(body)}
}

func stripeHeader(body, key string, ts time.Time) string {
	return stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    key,
		Timestamp: ts,
	}).Header
}

func TestStripeVerify(t *testing.T) {
	now := time.Now()
	body := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`
	good := stripeHeader(body, secret, now)

	tests := []struct {
		name    string
		req     *Request
		wantErr error
	}{
		{"valid", stripeRequest(body, good), nil},
		{"forged", stripeRequest(body, stripeHeader(body, "other", now)), entity.ErrUnauthorized},
		{"tampered body", stripeRequest(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_2"}}}`, good), entity.ErrUnauthorized},
		{"missing header", stripeRequest(body, ""), entity.ErrUnauthorized},
		{"garbled header", stripeRequest(body, "t=now,v1"), entity.ErrUnauthorized},
		{"stale", stripeRequest(body, stripeHeader(body, secret, now.Add(-10*time.Minute))), entity.ErrUnauthorized},
		{"api version mismatch", stripeRequest(`{"id":"evt_1","api_version":"2019-01-01","data":{"object":{"id":"cs_1"}}}`,
			stripeHeader(`{"id":"evt_1","api_version":"2019-01-01","data":{"object":{"id":"cs_1"}}}`, secret, now)), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStripe(secret, PolicyRequire, 0)

			n, err := s.Parse(tt.req)
			require.NoError(t, err)
			skipped, err := s.Verify(tt.req, n)
			assert.False(t, skipped)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStripeVerifyHonoursTolerance(t *testing.T) {
	body := `{"id":"evt_1","data":{"object":{"id":"cs_1"}}}`
	req := stripeRequest(body, stripeHeader(body, secret, time.Now().Add(-2*time.Minute)))

	s := NewStripe(secret, PolicyRequire, time.Minute)
	n, err := s.Parse(req)
	require.NoError(t, err)
	_, err = s.Verify(req, n)
	assert.ErrorIs(t, err, entity.ErrUnauthorized)

	s = NewStripe(secret, PolicyRequire, 5*time.Minute)
	_, err = s.Verify(req, n)
	assert.NoError(t, err)
}

func TestStripeParse(t *testing.T) {
	s := NewStripe(secret, PolicyRequire, 0)

	n, err := s.Parse(&Request{Body: []byte(`{"type":"checkout.session.completed","data":{"id":"cs_flat"}}`)})
	require.NoError(t, err)
	assert.Equal(t, "cs_flat", n.PaymentID)
	assert.True(t, n.Relevant)

	n, err = s.Parse(&Request{Body: []byte(`{"type":"customer.created","data":{"object":{"id":"cus_1"}}}`)})
	require.NoError(t, err)
	assert.False(t, n.Relevant)

	_, err = s.Parse(&Request{Body: []byte(`{"type":"checkout.session.completed"}`)})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSecretPolicy(t *testing.T) {
	req := stripeRequest(`{"data":{"id":"cs_1"}}`, "")

	s := NewStripe("", PolicyRequire, 0)
	n, err := s.Parse(req)
	require.NoError(t, err)
	_, err = s.Verify(req, n)
	assert.ErrorIs(t, err, entity.ErrUnauthorized)

	s = NewStripe("", PolicySkipIfUnset, 0)
	skipped, err := s.Verify(req, n)
	require.NoError(t, err)
	assert.True(t, skipped)

	m := NewMercadoPago("", PolicyRequire)
	_, err = m.Verify(&Request{Header: http.Header{}}, &Notification{PaymentID: "1"})
	assert.ErrorIs(t, err, entity.ErrUnauthorized)
}

func TestMercadoPagoVerify(t *testing.T) {
	m := NewMercadoPago(secret, PolicyRequire)
	query := url.Values{"data.id": {"991"}, "type": {"payment"}}
	sig := sign(secret, "id:991;request-id:req-1;ts:1704908010;")

	newReq := func(signature string) *Request {
		h := http.Header{}
		h.Set("x-request-id", "req-1")
		if signature != "" {
			h.Set("x-signature", "ts=1704908010,v1="+signature)
		}
		return &Request{Header: h, Query: query, Body: []byte(`{"type":"payment","data":{"id":"991"}}`)}
	}

	req := newReq(sig)
	n, err := m.Parse(req)
	require.NoError(t, err)
	assert.Equal(t, "991", n.PaymentID)
	assert.Equal(t, "req-1", n.RequestID)
	assert.True(t, n.Relevant)
	_, err = m.Verify(req, n)
	assert.NoError(t, err)

	req = newReq(sign("wrong", "id:991;request-id:req-1;ts:1704908010;"))
	n, err = m.Parse(req)
	require.NoError(t, err)
	_, err = m.Verify(req, n)
	assert.ErrorIs(t, err, entity.ErrUnauthorized)

	req = newReq("")
	n, err = m.Parse(req)
	require.NoError(t, err)
	_, err = m.Verify(req, n)
	assert.ErrorIs(t, err, entity.ErrUnauthorized)
}

func TestMercadoPagoParseShapes(t *testing.T) {
	m := NewMercadoPago(secret, PolicyRequire)

	tests := []struct {
		name     string
		query    url.Values
		body     string
		want     string
		relevant bool
	}{
		{"json numeric id", url.Values{}, `{"type":"payment","data":{"id":12345}}`, "12345", true},
		{"legacy query", url.Values{"topic": {"payment"}, "id": {"777"}}, ``, "777", true},
		{"form body", url.Values{}, `type=payment&data.id=555`, "555", true},
		{"merchant order", url.Values{"topic": {"merchant_order"}, "id": {"42"}}, ``, "42", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := m.Parse(&Request{Header: http.Header{}, Query: tt.query, Body: []byte(tt.body)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.PaymentID)
			assert.Equal(t, tt.relevant, n.Relevant)
		})
	}

	_, err := m.Parse(&Request{Header: http.Header{}, Query: url.Values{}, Body: []byte(`{"type":"payment"}`)})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyRequire, p)

	_, err = ParsePolicy("yolo")
	assert.Error(t, err)
}
