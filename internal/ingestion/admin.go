package ingestion

import (
	"context"
	"encoding/json"

	"HookLedger/internal/core"
	"HookLedger/internal/event"
)

// AdminIngestService submits operations directly, bypassing NATS. It is for
// operator actions such as funding insurance, not bulk traffic. The caller
// supplies the idempotency key and source sequence like any producer.
type AdminIngestService struct {
	sub Submitter
}

func NewAdminIngestService(sub Submitter) *AdminIngestService {
	return &AdminIngestService{sub: sub}
}

// Submit decodes payload as eventType and waits for the core's outcome.
// A rejected operation returns its logged output together with the reason.
func (s *AdminIngestService) Submit(ctx context.Context, eventType string, payload json.RawMessage) (*core.CoreOutput, error) {
	evt, err := event.Decode(eventType, payload)
	if err != nil {
		return nil, err
	}
	return s.sub.Submit(ctx, evt)
}
