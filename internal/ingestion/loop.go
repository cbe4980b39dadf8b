package ingestion

import (
	"context"
	"errors"

	"HookLedger/internal/core"
	"HookLedger/internal/event"

	"github.com/rs/zerolog"
)

// Submitter hands one operation to the core and waits for the outcome.
// *core.Runner implements it.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (*core.CoreOutput, error)
}

// Disposition is what happens to a bus message after processing.
type Disposition int

const (
	Ack  Disposition = iota // applied, rejected or duplicate
	Nak                     // retry later (gap, shutdown)
	Term                    // can never be applied
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	default:
		return "term"
	}
}

// Pump moves raw bus messages into the core. Messages are acked only after
// the core has logged them, so a crash before that redelivers them.
type Pump struct {
	sub    Submitter
	logger zerolog.Logger
}

func NewPump(sub Submitter, logger zerolog.Logger) *Pump {
	return &Pump{sub: sub, logger: logger}
}

// Run drains rawChan until ctx is done or the channel closes.
func (p *Pump) Run(ctx context.Context, rawChan <-chan RawEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}
			switch p.Handle(ctx, raw) {
			case Ack:
				raw.AckFunc()
			case Nak:
				raw.NakFunc()
			case Term:
				raw.TermFunc()
			}
		}
	}
}

// Handle parses and submits one message and decides its disposition.
func (p *Pump) Handle(ctx context.Context, raw RawEvent) Disposition {
	evt, err := ParseRawEvent(raw)
	if err != nil {
		p.logger.Warn().Str("subject", raw.Subject).Err(err).Msg("unparseable command")
		return Term
	}

	output, err := p.sub.Submit(ctx, evt)
	switch {
	case err == nil:
		return Ack
	case output != nil:
		// Rejected but logged; the source sequence is consumed.
		return Ack
	case errors.Is(err, core.ErrSequenceGap),
		errors.Is(err, core.ErrRunnerStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		p.logger.Debug().
			Str("key", evt.IdempotencyKey()).
			Int64("source_seq", evt.SourceSequence()).
			Err(err).
			Msg("command deferred")
		return Nak
	default:
		p.logger.Warn().
			Str("event_type", evt.EventType().String()).
			Str("key", evt.IdempotencyKey()).
			Err(err).
			Msg("command dropped")
		return Term
	}
}
