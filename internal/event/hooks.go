package event

// BeforeSwap is the host hook run ahead of a third-party swap on the pool.
// It only brings the fee counters up to date.
type BeforeSwap struct {
	Header
}

func (b *BeforeSwap) EventType() EventType { return EventTypeBeforeSwap }
func (b *BeforeSwap) Validate() error      { return b.Header.validate() }

// BeforeLiquidityChange is the host hook run ahead of a third-party
// liquidity change on the pool.
type BeforeLiquidityChange struct {
	Header
}

func (b *BeforeLiquidityChange) EventType() EventType { return EventTypeBeforeLiquidityChange }
func (b *BeforeLiquidityChange) Validate() error      { return b.Header.validate() }

// FeesAccrued is a keeper-triggered catch-up of a dormant pool.
type FeesAccrued struct {
	Header
}

func (f *FeesAccrued) EventType() EventType { return EventTypeFeesAccrued }
func (f *FeesAccrued) Validate() error      { return f.Header.validate() }
