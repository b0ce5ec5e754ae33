package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/allocation"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/audit"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/notification"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/payment"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository"
)

// chargeNamespace scopes the deterministic idempotency keys sent to providers.
var chargeNamespace = uuid.MustParse("6f1c2a7e-3b0d-4c7a-9a51-2d8e4b9f0c13")

// GatewayResolver returns the gateway for a provider.
type GatewayResolver interface {
	Get(p entity.Provider) (payment.Gateway, error)
}

// IssueResult summarizes one issuance run. Per-participant failures are listed in
// Errors and never abort the run.
type IssueResult struct {
	Success   bool              `json:"success"`
	Generated int               `json:"generated"`
	Errors    map[string]string `json:"errors"`
}

const defaultIssueTimeout = 2 * time.Minute

// InvoiceConfig holds issuance defaults.
type InvoiceConfig struct {
	Currency        string
	DefaultProvider entity.Provider
	// IssueTimeout bounds one issuance run regardless of who started it.
	IssueTimeout time.Duration
}

// InvoiceService splits a group's shipping cost and issues one charge per participant.
type InvoiceService struct {
	groupOrders  repository.GroupOrderRepository
	participants repository.ParticipantRepository
	gateways     GatewayResolver
	notifier     notification.Sender
	audit        *audit.Recorder
	cfg          InvoiceConfig
	inflight     singleflight.Group
}

// NewInvoiceService wires the issuer. notifier may be nil.
func NewInvoiceService(
	groupOrders repository.GroupOrderRepository,
	participants repository.ParticipantRepository,
	gateways GatewayResolver,
	notifier notification.Sender,
	recorder *audit.Recorder,
	cfg InvoiceConfig,
) *InvoiceService {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = entity.ProviderStripe
	}
	if cfg.IssueTimeout <= 0 {
		cfg.IssueTimeout = defaultIssueTimeout
	}
	return &InvoiceService{
		groupOrders:  groupOrders,
		participants: participants,
		gateways:     gateways,
		notifier:     notifier,
		audit:        recorder,
		cfg:          cfg,
	}
}

// ChargeIdempotencyKey is stable per (group order, participant), so every run asks the
// provider for the same charge.
func ChargeIdempotencyKey(groupOrderID, participantID string) string {
	return uuid.NewSHA1(chargeNamespace, []byte(groupOrderID+"/"+participantID)).String()
}

// SetActualShippingCost records the negotiated shipping cost once.
func (s *InvoiceService) SetActualShippingCost(ctx context.Context, groupOrderID string, cost money.Cents, actorID string) error {
	slog.Info("Service: Setting actual shipping cost", "group_order_id", groupOrderID, "cost", cost.String())

	if cost <= 0 {
		return fmt.Errorf("%w: shipping cost must be positive", entity.ErrInvalidState)
	}
	if err := s.groupOrders.SetActualShippingCost(ctx, groupOrderID, cost); err != nil {
		return fmt.Errorf("failed to set shipping cost for %s: %w", groupOrderID, err)
	}

	s.audit.Record(ctx, audit.ShippingCostSet, map[string]any{
		"group_order_id": groupOrderID,
		"cost":           cost,
	}, actorID)
	return nil
}

// plan is the allocation state of one group order.
type plan struct {
	group     *entity.GroupOrder
	invoiced  []entity.Participant
	pending   []entity.Participant
	remaining money.Cents
	shares    []entity.ShippingShare // for pending, same order
}

func (s *InvoiceService) buildPlan(ctx context.Context, groupOrderID string) (*plan, error) {
	group, err := s.groupOrders.Get(ctx, groupOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group order %s: %w", groupOrderID, err)
	}
	if group.ActualShippingCost == nil || *group.ActualShippingCost <= 0 {
		return nil, fmt.Errorf("%w: actual shipping cost not set for group order %s", entity.ErrInvalidState, groupOrderID)
	}

	paid, err := s.participants.ListPaid(ctx, groupOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}

	p := &plan{group: group, remaining: *group.ActualShippingCost}
	for _, participant := range paid {
		if participant.Invoiced() {
			p.invoiced = append(p.invoiced, participant)
			p.remaining -= participant.ShippingCost
			continue
		}
		p.pending = append(p.pending, participant)
	}

	strategy := group.SplitStrategy
	if _, err := allocation.ParseStrategy(string(strategy)); err != nil {
		slog.Warn("Unknown split strategy, splitting equally", "group_order_id", groupOrderID, "strategy", strategy)
		strategy = entity.SplitEqual
	}
	unbilled := p.remaining
	if unbilled < 0 {
		unbilled = 0
	}
	p.shares = allocation.Allocate(unbilled, allocation.FromParticipants(p.pending), strategy)
	return p, nil
}

// PreviewShares shows what each eligible participant pays without issuing anything.
// Already invoiced participants keep their persisted amounts.
func (s *InvoiceService) PreviewShares(ctx context.Context, groupOrderID string) ([]entity.ShippingShare, error) {
	p, err := s.buildPlan(ctx, groupOrderID)
	if err != nil {
		return nil, err
	}

	total := float64(*p.group.ActualShippingCost)
	out := make([]entity.ShippingShare, 0, len(p.invoiced)+len(p.pending))
	for _, participant := range p.invoiced {
		out = append(out, entity.ShippingShare{
			ParticipantID: participant.ID,
			Proportion:    float64(participant.ShippingCost) / total,
			ShippingCost:  participant.ShippingCost,
			ItemsCount:    participant.ItemsCount,
		})
	}
	for _, share := range p.shares {
		share.Proportion = float64(share.ShippingCost) / total
		out = append(out, share)
	}
	return out, nil
}

// IssueShippingInvoices charges every paid, not yet invoiced participant their share of
// the remaining shipping cost. Re-running it only retries what is still missing.
func (s *InvoiceService) IssueShippingInvoices(ctx context.Context, groupOrderID, actorID string) (*IssueResult, error) {
	// The shared run belongs to every joined caller, so it ignores any one caller's cancellation.
	runCtx := context.WithoutCancel(ctx)
	ch := s.inflight.DoChan(groupOrderID, func() (any, error) {
		ctx, cancel := context.WithTimeout(runCtx, s.cfg.IssueTimeout)
		defer cancel()
		return s.issue(ctx, groupOrderID, actorID)
	})

	select {
	case <-ctx.Done():
		slog.Warn("Caller left an issuance run in flight", "group_order_id", groupOrderID, "err", ctx.Err())
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			slog.Info("Issuance joined an in-flight run", "group_order_id", groupOrderID)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*IssueResult), nil
	}
}

func (s *InvoiceService) issue(ctx context.Context, groupOrderID, actorID string) (*IssueResult, error) {
	slog.Info("Service: Issuing shipping invoices", "group_order_id", groupOrderID)

	// 1. Load the group order and compute shares of what is still unbilled
	p, err := s.buildPlan(ctx, groupOrderID)
	if err != nil {
		s.audit.Record(ctx, audit.InvoiceRejected, map[string]any{
			"group_order_id": groupOrderID,
			"reason":         err.Error(),
		}, actorID)
		return nil, err
	}

	provider := p.group.Provider
	if provider == "" {
		provider = s.cfg.DefaultProvider
	}
	gateway, err := s.gateways.Get(provider)
	if err != nil {
		s.audit.Record(ctx, audit.InvoiceRejected, map[string]any{
			"group_order_id": groupOrderID,
			"reason":         err.Error(),
		}, actorID)
		return nil, err
	}

	currency := p.group.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	pending := make(map[string]entity.Participant, len(p.pending))
	for _, participant := range p.pending {
		pending[participant.ID] = participant
	}

	result := &IssueResult{Errors: make(map[string]string)}

	// 2. One charge per participant; failures are collected, not fatal
	for _, share := range p.shares {
		participant := pending[share.ParticipantID]
		if share.ShippingCost <= 0 {
			slog.Info("Skipping zero shipping share", "group_order_id", groupOrderID, "participant_id", participant.ID)
			continue
		}

		issued, err := s.issueOne(ctx, gateway, p.group, participant, share, currency, actorID)
		if err != nil {
			slog.Error("Failed to issue shipping invoice", "group_order_id", groupOrderID, "participant_id", participant.ID, "err", err)
			result.Errors[participant.ID] = err.Error()
			s.audit.Record(ctx, audit.InvoiceFailed, map[string]any{
				"group_order_id": groupOrderID,
				"participant_id": participant.ID,
				"amount":         share.ShippingCost,
				"error":          err.Error(),
			}, actorID)
			continue
		}
		if issued {
			result.Generated++
		}
	}

	result.Success = len(result.Errors) == 0

	// 3. Summarize the batch
	s.audit.Record(ctx, audit.InvoiceBatchCompleted, map[string]any{
		"group_order_id":   groupOrderID,
		"remaining":        p.remaining,
		"already_invoiced": len(p.invoiced),
		"generated":        result.Generated,
		"failed":           len(result.Errors),
	}, actorID)

	slog.Info("Shipping invoices issued", "group_order_id", groupOrderID, "generated", result.Generated, "failed", len(result.Errors))
	return result, nil
}

// issueOne returns false when a concurrent run persisted the charge first.
func (s *InvoiceService) issueOne(
	ctx context.Context,
	gateway payment.Gateway,
	group *entity.GroupOrder,
	participant entity.Participant,
	share entity.ShippingShare,
	currency, actorID string,
) (bool, error) {
	charge, err := gateway.CreateCharge(ctx, payment.ChargeRequest{
		IdempotencyKey: ChargeIdempotencyKey(group.ID, participant.ID),
		ParticipantRef: participant.ID,
		Description:    fmt.Sprintf("International shipping - %s", group.Title),
		Amount:         share.ShippingCost,
		Currency:       currency,
		Email:          participant.Email,
		Metadata: map[string]string{
			"kind":           entity.KindGroupShipping,
			"group_order_id": group.ID,
			"participant_id": participant.ID,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to create charge: %w", err)
	}

	err = s.participants.SetShippingCharge(ctx, repository.ShippingCharge{
		ParticipantID: participant.ID,
		Reference:     charge.Reference,
		Amount:        share.ShippingCost,
		PayLink:       charge.PayLink,
	})
	if errors.Is(err, entity.ErrAlreadyInvoiced) {
		slog.Info("Participant invoiced by a concurrent run", "group_order_id", group.ID, "participant_id", participant.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to persist charge %s: %w", charge.Reference, err)
	}

	s.audit.Record(ctx, audit.InvoiceIssued, map[string]any{
		"group_order_id": group.ID,
		"participant_id": participant.ID,
		"amount":         share.ShippingCost,
		"proportion":     share.Proportion,
		"reference":      charge.Reference,
		"provider":       gateway.Provider(),
	}, actorID)

	if s.notifier != nil {
		if err := s.notifier.SendShippingInvoiceEmail(ctx, participant, share, charge.PayLink); err != nil {
			slog.Warn("Failed to send shipping invoice email", "participant_id", participant.ID, "err", err)
			s.audit.Record(ctx, audit.InvoiceNotificationFailed, map[string]any{
				"group_order_id": group.ID,
				"participant_id": participant.ID,
				"error":          err.Error(),
			}, actorID)
		}
	}
	return true, nil
}
