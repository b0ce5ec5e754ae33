package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/messaging"
)

// Tail prints streamed audit records, one line each, until ctx is done.
func Tail(ctx context.Context, sub messaging.Subscriber, topic, groupID string, w io.Writer) {
	sub.Consume(ctx, topic, groupID, func(ctx context.Context, payload []byte) error {
		var record entity.AuditRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return fmt.Errorf("failed to decode audit record: %w", err)
		}
		_, err := fmt.Fprintln(w, FormatRecord(record))
		return err
	})
}

// FormatRecord renders a record as "<time> <type> actor=<actor> <payload>".
func FormatRecord(r entity.AuditRecord) string {
	return fmt.Sprintf("%s %s actor=%s %s", r.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"), r.EventType, r.ActorID, string(r.Payload))
}
