package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/delivery/command"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/service"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/webhook"
)

// InvoiceAPI is what the organizer endpoints call.
type InvoiceAPI interface {
	SetActualShippingCost(ctx context.Context, groupOrderID string, cost money.Cents, actorID string) error
	PreviewShares(ctx context.Context, groupOrderID string) ([]entity.ShippingShare, error)
	IssueShippingInvoices(ctx context.Context, groupOrderID, actorID string) (*service.IssueResult, error)
}

// WebhookReconciler processes provider notifications.
type WebhookReconciler interface {
	HandleWebhook(ctx context.Context, provider entity.Provider, req *webhook.Request) (*entity.Reconciliation, error)
}

// CommandSender queues commands for asynchronous handling.
type CommandSender interface {
	Send(ctx context.Context, cmd any) error
}

// Handler handles HTTP requests for the application.
type Handler struct {
	invoices     InvoiceAPI
	reconciler   WebhookReconciler
	commands     CommandSender
	webhookLimit func(http.Handler) http.Handler
}

// NewHandler wires the routes. commands and webhookLimit may be nil.
func NewHandler(invoices InvoiceAPI, reconciler WebhookReconciler, commands CommandSender, webhookLimit func(http.Handler) http.Handler) *Handler {
	if webhookLimit == nil {
		webhookLimit = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		invoices:     invoices,
		reconciler:   reconciler,
		commands:     commands,
		webhookLimit: webhookLimit,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/group-orders/{id}/shipping-cost", h.handleSetShippingCost)
	mux.HandleFunc("GET /api/group-orders/{id}/shipping-shares", h.handlePreviewShares)
	mux.HandleFunc("POST /api/group-orders/{id}/shipping-invoices", h.handleIssueInvoices)
	mux.Handle("POST /api/webhooks/{provider}", h.webhookLimit(http.HandlerFunc(h.handleWebhook)))
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

type SetShippingCostRequest struct {
	Amount  json.Number `json:"amount"`
	ActorID string      `json:"actor_id"`
}

func (h *Handler) handleSetShippingCost(w http.ResponseWriter, r *http.Request) {
	var req SetShippingCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cost, err := money.Parse(req.Amount.String())
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	actor := req.ActorID
	if actor == "" {
		actor = actorID(r)
	}

	groupOrderID := r.PathValue("id")
	if err := h.invoices.SetActualShippingCost(r.Context(), groupOrderID, cost, actor); err != nil {
		writeError(w, "Failed to set shipping cost", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"group_order_id":       groupOrderID,
		"actual_shipping_cost": cost.String(),
	})
}

func (h *Handler) handlePreviewShares(w http.ResponseWriter, r *http.Request) {
	shares, err := h.invoices.PreviewShares(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "Failed to preview shares", err)
		return
	}
	writeJSON(w, http.StatusOK, shares)
}

func (h *Handler) handleIssueInvoices(w http.ResponseWriter, r *http.Request) {
	groupOrderID := r.PathValue("id")
	actor := actorID(r)

	if r.URL.Query().Get("async") == "true" {
		if h.commands == nil {
			http.Error(w, "asynchronous issuance not configured", http.StatusServiceUnavailable)
			return
		}
		cmd := &command.IssueShippingInvoices{GroupOrderID: groupOrderID, ActorID: actor, RequestedAt: time.Now()}
		if err := h.commands.Send(r.Context(), cmd); err != nil {
			slog.Error("Failed to queue issuance", "group_order_id", groupOrderID, "err", err)
			http.Error(w, "failed to queue issuance", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"group_order_id": groupOrderID, "status": "queued"})
		return
	}

	result, err := h.invoices.IssueShippingInvoices(r.Context(), groupOrderID, actor)
	if err != nil {
		writeError(w, "Failed to issue shipping invoices", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := entity.Provider(r.PathValue("provider"))
	req, err := webhook.NewRequest(r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.reconciler.HandleWebhook(r.Context(), provider, req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"id": rec.GetAggregateID(), "state": string(rec.State)})
	case errors.Is(err, entity.ErrDataIntegrityGap):
		// Acknowledged so the provider stops redelivering; the gap is in the audit log.
		writeJSON(w, http.StatusOK, map[string]string{"id": rec.GetAggregateID(), "state": string(rec.State)})
	case errors.Is(err, webhook.ErrMalformed):
		http.Error(w, "malformed notification", http.StatusBadRequest)
	default:
		writeError(w, "Failed to process webhook", err)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func actorID(r *http.Request) string {
	return r.Header.Get("X-Actor-ID")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, entity.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, entity.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error(msg, "err", err)
		http.Error(w, "internal server error", status)
		return
	}
	slog.Warn(msg, "status", status, "err", err)
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

// EnableCORS is a middleware to allow the organizer dashboard to connect.
func EnableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Actor-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
