// Package webhook authenticates provider notifications and extracts the payment they
// refer to. It never trusts the payment status carried in a notification body.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
)

const maxBodyBytes = 1 << 20

// ErrMalformed means the notification could not be parsed.
var ErrMalformed = errors.New("malformed webhook")

// Policy decides what happens when no webhook secret is configured.
type Policy string

const (
	// PolicyRequire rejects every notification while the secret is unset.
	PolicyRequire Policy = "require"
	// PolicySkipIfUnset accepts unsigned notifications while the secret is unset. Development only.
	PolicySkipIfUnset Policy = "skip-if-unset"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyRequire:
		return PolicyRequire, nil
	case PolicySkipIfUnset:
		return PolicySkipIfUnset, nil
	default:
		return "", fmt.Errorf("unknown signature policy %q", s)
	}
}

// Request is the raw notification as received over HTTP.
type Request struct {
	Header     http.Header
	Query      url.Values
	Body       []byte
	ReceivedAt time.Time
}

// NewRequest buffers the body so it can be both verified and parsed.
func NewRequest(r *http.Request) (*Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook body: %w", err)
	}
	return &Request{
		Header:     r.Header.Clone(),
		Query:      r.URL.Query(),
		Body:       body,
		ReceivedAt: time.Now(),
	}, nil
}

// Notification is what an adapter extracted from a request.
type Notification struct {
	Provider  entity.Provider
	PaymentID string
	RequestID string
	EventType string
	// Relevant is false for event types that do not concern a payment.
	Relevant bool
}

// Adapter is one provider's notification format.
type Adapter interface {
	Provider() entity.Provider
	Parse(req *Request) (*Notification, error)
	// Verify returns entity.ErrUnauthorized for a missing or invalid signature.
	// skipped is true when the policy let an unsigned notification through.
	Verify(req *Request, n *Notification) (skipped bool, err error)
}

// Adapters indexes adapters by provider.
type Adapters map[entity.Provider]Adapter

func (a Adapters) Get(p entity.Provider) (Adapter, error) {
	ad, ok := a[p]
	if !ok || ad == nil {
		return nil, fmt.Errorf("%w: unknown webhook provider %q", entity.ErrNotFound, p)
	}
	return ad, nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret, payload, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(sign(secret, payload))
	return hmac.Equal(got, want)
}

// signatureParts splits "k=v,k=v" headers. Repeated keys keep every value.
func signatureParts(header string) map[string][]string {
	parts := make(map[string][]string)
	for _, kv := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			continue
		}
		parts[k] = append(parts[k], v)
	}
	return parts
}

func unauthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", entity.ErrUnauthorized, fmt.Sprintf(format, args...))
}
