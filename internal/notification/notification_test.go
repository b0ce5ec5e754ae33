package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/messaging"
)

func TestQueueSenderPublishesEmailRequest(t *testing.T) {
	var got EmailRequest
	pub := messaging.PublisherFunc(func(ctx context.Context, topic, key string, event any) error {
		assert.Equal(t, "emails", topic)
		assert.Equal(t, "shipping-invoice:p1", key)
		got = event.(EmailRequest)
		return nil
	})

	s := NewQueueSender(pub, "emails")
	err := s.SendShippingInvoiceEmail(context.Background(),
		entity.Participant{ID: "p1", GroupOrderID: "g1", Name: "Ana", Email: "ana@example.com"},
		entity.ShippingShare{ParticipantID: "p1", ShippingCost: 75000, ItemsCount: 3},
		"https://pay/p1",
	)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", got.To)
	assert.Equal(t, "750.00", got.Amount)
	assert.Equal(t, "https://pay/p1", got.PayLink)
	assert.Equal(t, 3, got.ItemsCount)
}

func TestQueueSenderErrors(t *testing.T) {
	pub := messaging.PublisherFunc(func(ctx context.Context, topic, key string, event any) error {
		return errors.New("broker down")
	})
	s := NewQueueSender(pub, "emails")

	err := s.SendShippingInvoiceEmail(context.Background(), entity.Participant{ID: "p1"}, entity.ShippingShare{}, "")
	assert.ErrorContains(t, err, "no email")

	err = s.SendShippingInvoiceEmail(context.Background(), entity.Participant{ID: "p1", Email: "a@b.c"}, entity.ShippingShare{}, "")
	assert.ErrorContains(t, err, "broker down")
}
