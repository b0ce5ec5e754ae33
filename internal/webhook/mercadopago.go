package webhook

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
)

// MercadoPago verifies x-signature headers over the
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;" manifest.
type MercadoPago struct {
	secret string
	policy Policy
}

func NewMercadoPago(secret string, policy Policy) *MercadoPago {
	return &MercadoPago{secret: secret, policy: policy}
}

func (m *MercadoPago) Provider() entity.Provider {
	return entity.ProviderMercadoPago
}

type mpNotification struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

func (m *MercadoPago) Parse(req *Request) (*Notification, error) {
	var (
		paymentID string
		kind      = firstNonEmpty(req.Query.Get("type"), req.Query.Get("topic"))
	)

	if body := strings.TrimSpace(string(req.Body)); strings.HasPrefix(body, "{") {
		var n mpNotification
		if err := json.Unmarshal(req.Body, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		paymentID = rawID(n.Data.ID)
		if kind == "" {
			kind = firstNonEmpty(n.Type, n.Topic)
		}
	} else if body != "" {
		form, err := url.ParseQuery(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		paymentID = firstNonEmpty(form.Get("data.id"), form.Get("id"))
		if kind == "" {
			kind = firstNonEmpty(form.Get("type"), form.Get("topic"))
		}
	}

	// The signed manifest uses the query data.id, so it wins over the body.
	paymentID = firstNonEmpty(req.Query.Get("data.id"), paymentID, req.Query.Get("id"))
	if paymentID == "" {
		return nil, fmt.Errorf("%w: missing payment id", ErrMalformed)
	}
	return &Notification{
		Provider:  entity.ProviderMercadoPago,
		PaymentID: paymentID,
		RequestID: req.Header.Get("x-request-id"),
		EventType: kind,
		Relevant:  kind == "" || kind == "payment",
	}, nil
}

func (m *MercadoPago) Verify(req *Request, n *Notification) (bool, error) {
	if m.secret == "" {
		if m.policy == PolicySkipIfUnset {
			slog.Warn("MercadoPago webhook secret not set, skipping signature verification", "payment_id", n.PaymentID)
			return true, nil
		}
		return false, unauthorized("mercadopago webhook secret not configured")
	}

	header := req.Header.Get("x-signature")
	if header == "" {
		return false, unauthorized("missing x-signature header")
	}
	parts := signatureParts(header)
	if len(parts["ts"]) == 0 || len(parts["v1"]) == 0 {
		return false, unauthorized("malformed x-signature header")
	}
	if !validSignature(m.secret, manifest(n.PaymentID, n.RequestID, parts["ts"][0]), parts["v1"][0]) {
		return false, unauthorized("mercadopago signature mismatch")
	}
	return false, nil
}

// manifest builds the signed template, leaving out absent values.
func manifest(paymentID, requestID, ts string) string {
	var b strings.Builder
	if paymentID != "" {
		b.WriteString("id:" + strings.ToLower(paymentID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	if ts != "" {
		b.WriteString("ts:" + ts + ";")
	}
	return b.String()
}

// rawID accepts both numeric and string ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
