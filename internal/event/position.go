package event

import (
	"fmt"

	"github.com/google/uuid"
)

// PositionAdjusted opens, grows, shrinks or closes a synthetic position.
// Size is signed asset units: positive buys, negative sells.
type PositionAdjusted struct {
	Header
	Account uuid.UUID `json:"account"`
	Size    int64     `json:"size"`
}

func (p *PositionAdjusted) EventType() EventType {
	return EventTypePositionAdjusted
}

func (p *PositionAdjusted) Validate() error {
	if err := p.Header.validate(); err != nil {
		return err
	}
	if p.Account == uuid.Nil {
		return fmt.Errorf("account is required: %w", ErrMalformed)
	}
	if p.Size == 0 {
		return fmt.Errorf("size must be non-zero: %w", ErrMalformed)
	}
	return nil
}

// PositionLiquidated force-closes Target's whole position on behalf of
// Liquidator.
type PositionLiquidated struct {
	Header
	Liquidator uuid.UUID `json:"liquidator"`
	Target     uuid.UUID `json:"target"`
}

func (l *PositionLiquidated) EventType() EventType {
	return EventTypePositionLiquidated
}

func (l *PositionLiquidated) Validate() error {
	if err := l.Header.validate(); err != nil {
		return err
	}
	if l.Liquidator == uuid.Nil || l.Target == uuid.Nil {
		return fmt.Errorf("liquidator and target are required: %w", ErrMalformed)
	}
	return nil
}
