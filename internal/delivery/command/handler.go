// Package command holds the asynchronous command handlers.
package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/service"
)

// IssueShippingInvoices asks for an issuance run outside the HTTP request.
type IssueShippingInvoices struct {
	GroupOrderID string    `json:"group_order_id"`
	ActorID      string    `json:"actor_id"`
	RequestedAt  time.Time `json:"requested_at"`
}

// InvoiceIssuer is the part of service.InvoiceService the handler needs.
type InvoiceIssuer interface {
	IssueShippingInvoices(ctx context.Context, groupOrderID, actorID string) (*service.IssueResult, error)
}

// IssueShippingInvoicesHandler handles the IssueShippingInvoices command.
type IssueShippingInvoicesHandler struct {
	issuer InvoiceIssuer
}

func NewIssueShippingInvoicesHandler(issuer InvoiceIssuer) IssueShippingInvoicesHandler {
	return IssueShippingInvoicesHandler{issuer: issuer}
}

func (h IssueShippingInvoicesHandler) HandlerName() string {
	return "IssueShippingInvoicesHandler"
}

func (h IssueShippingInvoicesHandler) NewCommand() interface{} {
	return &IssueShippingInvoices{}
}

// Handle returns an error only for provider outages, the one failure a redelivery can fix.
func (h IssueShippingInvoicesHandler) Handle(ctx context.Context, cmd interface{}) error {
	issue := cmd.(*IssueShippingInvoices)

	slog.Info("Handling IssueShippingInvoices command", "group_order_id", issue.GroupOrderID, "actor_id", issue.ActorID)

	result, err := h.issuer.IssueShippingInvoices(ctx, issue.GroupOrderID, issue.ActorID)
	if errors.Is(err, entity.ErrUpstreamUnavailable) {
		return err
	}
	if err != nil {
		slog.Error("Dropping IssueShippingInvoices command", "group_order_id", issue.GroupOrderID, "err", err)
		return nil
	}

	if !result.Success {
		slog.Warn("Shipping invoices partially issued", "group_order_id", issue.GroupOrderID, "generated", result.Generated, "errors", result.Errors)
		return nil
	}
	slog.Info("✅ Shipping invoices issued", "group_order_id", issue.GroupOrderID, "generated", result.Generated)
	return nil
}
