// Package audit writes the append-only financial audit trail.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/repository"
)

// Event types recorded outside the reconciliation state machine.
const (
	InvoiceIssued             = "invoice.issued"
	InvoiceFailed             = "invoice.failed"
	InvoiceNotificationFailed = "invoice.notification_failed"
	InvoiceRejected           = "invoice.rejected"
	InvoiceBatchCompleted     = "invoice.batch_completed"
	ShippingCostSet           = "shipping_cost.set"
	WebhookRejected           = "webhook.rejected"
	WebhookNotApproved        = "webhook.not_approved"
	WebhookDataIntegrityGap   = "webhook.data_integrity_gap"
	InventoryDecrementFailed  = "inventory.decrement_failed"
	SecondPaymentMarkedPaid   = "participant.second_payment_paid"
)

const (
	defaultSinkTimeout = 5 * time.Second
	systemActor        = "system"
)

// Sink stores audit records somewhere durable.
type Sink interface {
	Name() string
	Write(ctx context.Context, record entity.AuditRecord) error
}

// Recorder fans records out to its sinks. It never fails the caller: a sink error is
// logged with the full record so slog remains the fallback channel.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{sinks: sinks, timeout: defaultSinkTimeout, now: time.Now}
}

// Record appends one audit record. actorID may be empty for system actions.
func (r *Recorder) Record(ctx context.Context, eventType string, payload any, actorID string) {
	if r == nil {
		return
	}
	if actorID == "" {
		actorID = systemActor
	}

	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal audit payload", "event_type", eventType, "err", err)
		body = []byte(fmt.Sprintf("%q", fmt.Sprint(payload)))
	}
	record := entity.AuditRecord{
		ID:        uuid.NewString(),
		EventType: eventType,
		ActorID:   actorID,
		Payload:   body,
		CreatedAt: r.now().UTC(),
	}

	// Audit writes outlive a cancelled request.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	for _, sink := range r.sinks {
		if err := sink.Write(sinkCtx, record); err != nil {
			logSinkFailure(sink.Name(), record, err)
		}
	}
}

// RecordEvent records a domain event under its own type.
func (r *Recorder) RecordEvent(ctx context.Context, e entity.Event, actorID string) {
	r.Record(ctx, e.EventType(), e, actorID)
}

type repositorySink struct {
	repo repository.AuditRepository
}

// NewRepositorySink stores records through an AuditRepository.
func NewRepositorySink(repo repository.AuditRepository) Sink {
	return repositorySink{repo: repo}
}

func (s repositorySink) Name() string { return "repository" }

func (s repositorySink) Write(ctx context.Context, record entity.AuditRecord) error {
	return s.repo.Append(ctx, record)
}

type streamSink struct {
	pub   messaging.Publisher
	topic string
}

// NewStreamSink publishes records to a broker topic keyed by audit id. Wrap it in
// NewAsyncSink when the broker sits on the request path.
func NewStreamSink(pub messaging.Publisher, topic string) Sink {
	return streamSink{pub: pub, topic: topic}
}

func (s streamSink) Name() string { return "stream:" + s.topic }

func (s streamSink) Write(ctx context.Context, record entity.AuditRecord) error {
	return s.pub.PublishEvent(ctx, s.topic, record.ID, record)
}

// ErrBufferFull is returned by AsyncSink.Write when the backlog is at capacity.
var ErrBufferFull = errors.New("audit buffer full")

const (
	defaultAsyncBuffer = 1024
	flushTimeout       = 5 * time.Second
)

// AsyncSink hands records to a background writer so a slow or unreachable sink
// never holds up the caller. Records that fail there are logged in full.
type AsyncSink struct {
	next    Sink
	records chan entity.AuditRecord
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncSink starts the background writer. buffer <= 0 uses a default backlog.
func NewAsyncSink(next Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = defaultAsyncBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &AsyncSink{
		next:    next,
		records: make(chan entity.AuditRecord, buffer),
		timeout: defaultSinkTimeout,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Name() string { return "async:" + s.next.Name() }

// Write enqueues without blocking.
func (s *AsyncSink) Write(ctx context.Context, record entity.AuditRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("audit sink closed")
	}
	select {
	case s.records <- record:
		return nil
	default:
		return ErrBufferFull
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for record := range s.records {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		err := s.next.Write(ctx, record)
		cancel()
		if err != nil {
			logSinkFailure(s.next.Name(), record, err)
		}
	}
}

// Close drains the backlog, giving up on pending writes after a flush timeout.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.records)
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(flushTimeout):
		slog.Warn("Audit flush timed out, dropping pending records", "sink", s.next.Name(), "pending", len(s.records))
		s.cancel()
		<-s.done
	}
	s.cancel()
	return nil
}

func logSinkFailure(sink string, record entity.AuditRecord, err error) {
	slog.Error("Audit sink failed",
		"sink", sink,
		"event_type", record.EventType,
		"audit_id", record.ID,
		"actor_id", record.ActorID,
		"payload", string(record.Payload),
		"err", err,
	)
}
