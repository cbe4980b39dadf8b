package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"HookLedger/internal/core"
	"HookLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	OutboundStream = "HOOK_LEDGER_EVENTS"
	outboundPrefix = "hook.ledger.events."
)

// OutboundPublisher publishes logged operations to NATS for downstream
// consumers. Subjects follow hook.ledger.events.{event_type}.{pool_id}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the outbound (and websocket) form of a logged
// operation.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	PoolID         string          `json:"pool_id"`
	Outcome        string          `json:"outcome"`
	Reason         string          `json:"reason,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Result         *core.Result    `json:"result,omitempty"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewPublishable converts a core output. Rejections carry no result.
func NewPublishable(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	pe := PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		PoolID:         env.PoolID,
		Outcome:        string(env.Outcome),
		Reason:         env.Reason,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      time.Unix(env.Timestamp, 0).UTC(),
	}
	if out.Batch != nil {
		result := out.Result
		pe.Result = &result
	}
	return pe
}

// Subject is the outbound subject for pe. Dots in pool IDs would split the
// token, so they are replaced.
func (pe PublishableEvent) Subject() string {
	return outboundPrefix + pe.EventType + "." + strings.ReplaceAll(pe.PoolID, ".", "_")
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the event log directly.
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
				op.logger.Warn().Int64("seq", evt.Sequence).Err(err).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Msg ID lets JetStream drop republished sequences after a restart.
	_, err = op.js.Publish(ctx, evt.Subject(), data,
		jetstream.WithMsgID(fmt.Sprintf("hookledger-%d", evt.Sequence)))
	return err
}
