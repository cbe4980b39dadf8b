package event

import (
	"encoding/json"
	"fmt"
)

// New returns an empty operation of the given type.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypePoolInitialized:
		return &PoolInitialized{}, nil
	case EventTypeBeforeSwap:
		return &BeforeSwap{}, nil
	case EventTypeBeforeLiquidityChange:
		return &BeforeLiquidityChange{}, nil
	case EventTypeFeesAccrued:
		return &FeesAccrued{}, nil
	case EventTypeCollateralDeposited:
		return &CollateralDeposited{}, nil
	case EventTypeCollateralWithdrawn:
		return &CollateralWithdrawn{}, nil
	case EventTypeLiquidityStaked:
		return &LiquidityStaked{}, nil
	case EventTypeLiquidityUnstaked:
		return &LiquidityUnstaked{}, nil
	case EventTypePositionAdjusted:
		return &PositionAdjusted{}, nil
	case EventTypePositionLiquidated:
		return &PositionLiquidated{}, nil
	case EventTypeInsuranceFunded:
		return &InsuranceFunded{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
}

// Encode serializes an operation for the event log and the bus.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Decode parses a JSON payload into a typed, validated operation.
func Decode(eventType string, payload []byte) (Event, error) {
	et, err := ParseEventType(eventType)
	if err != nil {
		return nil, err
	}
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("parse %s: %w", eventType, err)
	}
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", eventType, err)
	}
	return evt, nil
}
