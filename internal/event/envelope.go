package event

import (
	"errors"
	"fmt"
)

// EventType discriminator for operation payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePoolInitialized
	EventTypeBeforeSwap
	EventTypeBeforeLiquidityChange
	EventTypeFeesAccrued
	EventTypeCollateralDeposited
	EventTypeCollateralWithdrawn
	EventTypeLiquidityStaked
	EventTypeLiquidityUnstaked
	EventTypePositionAdjusted
	EventTypePositionLiquidated
	EventTypeInsuranceFunded
)

var eventTypeNames = map[EventType]string{
	EventTypePoolInitialized:       "PoolInitialized",
	EventTypeBeforeSwap:            "BeforeSwap",
	EventTypeBeforeLiquidityChange: "BeforeLiquidityChange",
	EventTypeFeesAccrued:           "FeesAccrued",
	EventTypeCollateralDeposited:   "CollateralDeposited",
	EventTypeCollateralWithdrawn:   "CollateralWithdrawn",
	EventTypeLiquidityStaked:       "LiquidityStaked",
	EventTypeLiquidityUnstaked:     "LiquidityUnstaked",
	EventTypePositionAdjusted:      "PositionAdjusted",
	EventTypePositionLiquidated:    "PositionLiquidated",
	EventTypeInsuranceFunded:       "InsuranceFunded",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, error) {
	for et, name := range eventTypeNames {
		if name == s {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type: %s", s)
}

// Outcome of an operation in the log.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
)

// EventEnvelope wraps every operation in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType
	PoolID    string

	// Versioned input timestamp, unix seconds (NOT wall-clock)
	Timestamp int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded operation
	Payload []byte

	// Rejected operations are logged with the reason and leave state untouched.
	Outcome Outcome
	Reason  string

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous operation's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all operations implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// PoolID is the pool the operation touches; it is also the ordering
	// partition.
	PoolID() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// Time is the versioned input timestamp in unix seconds.
	Time() int64

	// Validate checks the operation is well-formed without looking at state.
	Validate() error
}

var ErrMalformed = errors.New("malformed operation")

// Header carries the fields every operation shares.
type Header struct {
	Key       string `json:"idempotency_key"`
	Pool      string `json:"pool_id"`
	Sequence  int64  `json:"source_sequence"`
	Timestamp int64  `json:"timestamp"`
}

func (h Header) IdempotencyKey() string { return h.Key }
func (h Header) PoolID() string         { return h.Pool }
func (h Header) SourceSequence() int64  { return h.Sequence }
func (h Header) Time() int64            { return h.Timestamp }

func (h Header) validate() error {
	if h.Key == "" {
		return fmt.Errorf("idempotency_key is required: %w", ErrMalformed)
	}
	if h.Pool == "" {
		return fmt.Errorf("pool_id is required: %w", ErrMalformed)
	}
	if h.Sequence < 0 {
		return fmt.Errorf("source_sequence %d is negative: %w", h.Sequence, ErrMalformed)
	}
	if h.Timestamp <= 0 {
		return fmt.Errorf("timestamp %d must be positive unix seconds: %w", h.Timestamp, ErrMalformed)
	}
	return nil
}
