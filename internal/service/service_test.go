package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/audit"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/payment"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository/memory"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/webhook"
)

const testSecret = "whsec_test"

// fakeGateway records calls; behaviour is overridden through the Func fields.
type fakeGateway struct {
	provider entity.Provider

	CreateChargeFunc     func(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error)
	GetPaymentStatusFunc func(ctx context.Context, id string) (*payment.PaymentStatus, error)

	mu          sync.Mutex
	charges     []payment.ChargeRequest
	statusCalls int
}

func (f *fakeGateway) Provider() entity.Provider { return f.provider }

func (f *fakeGateway) CreateCharge(ctx context.Context, req payment.ChargeRequest) (*payment.Charge, error) {
	f.mu.Lock()
	f.charges = append(f.charges, req)
	f.mu.Unlock()
	if f.CreateChargeFunc != nil {
		return f.CreateChargeFunc(ctx, req)
	}
	return &payment.Charge{Reference: "ref-" + req.IdempotencyKey, PayLink: "https://pay/" + req.ParticipantRef}, nil
}

func (f *fakeGateway) GetPaymentStatus(ctx context.Context, id string) (*payment.PaymentStatus, error) {
	f.mu.Lock()
	f.statusCalls++
	f.mu.Unlock()
	return f.GetPaymentStatusFunc(ctx, id)
}

func (f *fakeGateway) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

func (f *fakeGateway) statusCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func auditTypes(t *testing.T, store *memory.Store) map[string]int {
	t.Helper()
	records, err := store.Audit().List(context.Background(), 0)
	require.NoError(t, err)
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.EventType]++
	}
	return counts
}

func newRecorder(store *memory.Store) *audit.Recorder {
	return audit.NewRecorder(audit.NewRepositorySink(store.Audit()))
}

func signedStripeRequest(body string) *webhook.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(ts + "." + body))

	h := http.Header{}
	h.Set("Stripe-Signature", "t="+ts+",v1="+hex.EncodeToString(mac.Sum(nil)))
	return &webhook.Request{Header: h, Query: url.Values{}, Body: []byte(body), ReceivedAt: time.Now()}
}

func signedMercadoPagoRequest(paymentID, requestID string) *webhook.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte("id:" + paymentID + ";request-id:" + requestID + ";ts:" + ts + ";"))

	h := http.Header{}
	h.Set("x-request-id", requestID)
	h.Set("x-signature", "ts="+ts+",v1="+hex.EncodeToString(mac.Sum(nil)))
	return &webhook.Request{
		Header:     h,
		Query:      url.Values{"data.id": {paymentID}, "type": {"payment"}},
		Body:       []byte(`{"type":"payment","data":{"id":"` + paymentID + `"}}`),
		ReceivedAt: time.Now(),
	}
}
