package core

import (
	"context"
	"errors"

	"HookLedger/internal/event"

	"github.com/rs/zerolog"
)

var ErrRunnerStopped = errors.New("core runner stopped")

// SubmitResult is the reply to a Submit.
type SubmitResult struct {
	Output *CoreOutput
	Err    error
}

type submission struct {
	evt   event.Event
	reply chan SubmitResult
}

type readRequest struct {
	fn   func(*DeterministicCore)
	done chan struct{}
}

// Runner owns the core goroutine. Every operation and every read goes
// through Run's loop, so the core itself needs no locking.
type Runner struct {
	core   *DeterministicCore
	submit chan submission
	reads  chan readRequest
	done   chan struct{}
	logger zerolog.Logger
}

func NewRunner(core *DeterministicCore, logger zerolog.Logger) *Runner {
	return &Runner{
		core:   core,
		submit: make(chan submission),
		reads:  make(chan readRequest),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run processes inbox events (fire and forget) and Submit/Read requests
// until ctx is done or inbox is closed.
func (r *Runner) Run(ctx context.Context, inbox <-chan event.Event) error {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-inbox:
			if !ok {
				return nil
			}
			if _, err := r.core.ProcessEvent(evt); err != nil {
				r.logger.Warn().
					Str("event_type", evt.EventType().String()).
					Str("key", evt.IdempotencyKey()).
					Err(err).
					Msg("operation not applied")
			}

		case s := <-r.submit:
			output, err := r.core.ProcessEvent(s.evt)
			s.reply <- SubmitResult{Output: output, Err: err}

		case req := <-r.reads:
			req.fn(r.core)
			close(req.done)
		}
	}
}

// Submit processes evt on the core goroutine and waits for the outcome.
func (r *Runner) Submit(ctx context.Context, evt event.Event) (*CoreOutput, error) {
	reply := make(chan SubmitResult, 1)
	select {
	case r.submit <- submission{evt: evt, reply: reply}:
	case <-r.done:
		return nil, ErrRunnerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Once accepted the operation runs to completion; wait for it.
	res := <-reply
	return res.Output, res.Err
}

// Read runs fn on the core goroutine between operations.
func (r *Runner) Read(ctx context.Context, fn func(*DeterministicCore)) error {
	req := readRequest{fn: fn, done: make(chan struct{})}
	select {
	case r.reads <- req:
	case <-r.done:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return nil
}
