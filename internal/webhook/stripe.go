package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v76/webhook"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
)

const DefaultTolerance = 5 * time.Minute

// Stripe verifies Stripe-Signature headers with stripe-go's webhook package.
type Stripe struct {
	secret    string
	policy    Policy
	tolerance time.Duration
}

func NewStripe(secret string, policy Policy, tolerance time.Duration) *Stripe {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Stripe{secret: secret, policy: policy, tolerance: tolerance}
}

func (s *Stripe) Provider() entity.Provider {
	return entity.ProviderStripe
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ID     string `json:"id"`
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

func (s *Stripe) Parse(req *Request) (*Notification, error) {
	var ev stripeEvent
	if err := json.Unmarshal(req.Body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	paymentID := ev.Data.Object.ID
	if paymentID == "" {
		paymentID = ev.Data.ID
	}
	if paymentID == "" {
		return nil, fmt.Errorf("%w: missing data.object.id", ErrMalformed)
	}
	return &Notification{
		Provider:  entity.ProviderStripe,
		PaymentID: paymentID,
		RequestID: ev.ID,
		EventType: ev.Type,
		Relevant:  ev.Type == "" || strings.HasPrefix(ev.Type, "checkout.session."),
	}, nil
}

func (s *Stripe) Verify(req *Request, n *Notification) (bool, error) {
	if s.secret == "" {
		if s.policy == PolicySkipIfUnset {
			slog.Warn("Stripe webhook secret not set, skipping signature verification", "payment_id", n.PaymentID)
			return true, nil
		}
		return false, unauthorized("stripe webhook secret not configured")
	}

	_, err := stripewebhook.ConstructEventWithOptions(req.Body, req.Header.Get("Stripe-Signature"), s.secret,
		stripewebhook.ConstructEventOptions{Tolerance: s.tolerance, IgnoreAPIVersionMismatch: true})
	switch {
	case errors.Is(err, stripewebhook.ErrNotSigned),
		errors.Is(err, stripewebhook.ErrInvalidHeader),
		errors.Is(err, stripewebhook.ErrNoValidSignature),
		errors.Is(err, stripewebhook.ErrTooOld):
		return false, unauthorized("%v", err)
	case err != nil:
		return false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return false, nil
}
