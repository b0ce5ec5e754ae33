// Package notification enqueues participant emails. Delivery is done by a separate mailer.
package notification

import (
	"context"
	"fmt"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/messaging"
)

// Sender notifies a participant about their shipping invoice.
type Sender interface {
	SendShippingInvoiceEmail(ctx context.Context, p entity.Participant, share entity.ShippingShare, payLink string) error
}

// EmailRequest is the message a mailer consumes.
type EmailRequest struct {
	Template      string `json:"template"`
	To            string `json:"to"`
	Name          string `json:"name"`
	GroupOrderID  string `json:"group_order_id"`
	ParticipantID string `json:"participant_id"`
	Amount        string `json:"amount"`
	ItemsCount    int    `json:"items_count"`
	PayLink       string `json:"pay_link"`
}

const shippingInvoiceTemplate = "group_shipping_invoice"

// QueueSender publishes one EmailRequest per invoice.
type QueueSender struct {
	pub   messaging.Publisher
	queue string
}

func NewQueueSender(pub messaging.Publisher, queue string) *QueueSender {
	return &QueueSender{pub: pub, queue: queue}
}

func (s *QueueSender) SendShippingInvoiceEmail(ctx context.Context, p entity.Participant, share entity.ShippingShare, payLink string) error {
	if p.Email == "" {
		return fmt.Errorf("participant %s has no email", p.ID)
	}
	req := EmailRequest{
		Template:      shippingInvoiceTemplate,
		To:            p.Email,
		Name:          p.Name,
		GroupOrderID:  p.GroupOrderID,
		ParticipantID: p.ID,
		Amount:        share.ShippingCost.String(),
		ItemsCount:    share.ItemsCount,
		PayLink:       payLink,
	}
	// The key lets the mailer drop duplicates from concurrent issuers.
	if err := s.pub.PublishEvent(ctx, s.queue, "shipping-invoice:"+p.ID, req); err != nil {
		return fmt.Errorf("failed to enqueue invoice email: %w", err)
	}
	return nil
}
