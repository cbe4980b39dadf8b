package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"HookLedger/internal/amm"
	"HookLedger/internal/custody"
	"HookLedger/internal/event"
	"HookLedger/internal/ledger"
	"HookLedger/internal/observability"
	"HookLedger/internal/state"

	"github.com/rs/zerolog"
)

var (
	ErrOutOfOrder  = errors.New("out-of-order operation")
	ErrSequenceGap = errors.New("source sequence gap")
)

// globalCheckInterval is how often (in sequences) the O(accounts) checks run.
const globalCheckInterval = 1000

// Config wires the core to its collaborators.
type Config struct {
	StartSequence   int64
	CollateralToken string // pools must have this token as one leg; empty accepts any
	AMM             amm.Engine
	Custody         custody.Custodian
	DBChecker       DBIdempotencyChecker
	LRUCapacity     int

	// PersistChan receives every output with a blocking send; ProjectionChan
	// drops when full. Either may be nil.
	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// DeterministicCore is the single-threaded operation processor. Every
// operation runs to completion as one atomic unit: either every ledger,
// position, AMM and custody change commits, or none does.
type DeterministicCore struct {
	sequence          int64
	collateralToken   string
	hasher            *StateHasher
	registry          *state.Registry
	balanceTracker    *ledger.BalanceTracker
	validator         *ledger.InvariantValidator
	insurance         *state.InsuranceFund
	amm               amm.Engine
	custody           custody.Custodian
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one operation.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch // nil for rejected operations
	Changes    state.Changes
	Transfers  []custody.Transfer
	Result     Result
	StateDelta []byte
}

// Result carries the figures an operation produced.
type Result struct {
	Accrual    state.Accrual
	Settlement state.SwapperSettlement

	AssetDelta      int64 // trader side of the swap
	CollateralDelta int64
	Closed          bool // position was realized into collateral
	RealizedPnL     int64

	MarginCharged int64
	FeesForgiven  int64 // fees a liquidated account could not pay

	Liquidation       *state.LiquidationOutcome
	DeficitCovered    int64 // by the insurance balance
	DeficitSocialized int64 // charged to LP fees
	DeficitBadDebt    int64 // nobody could pay

	LPProfitPaid     int64
	LPDebtWrittenOff int64 // socialized loss an exiting stake could not absorb
}

func NewDeterministicCore(cfg Config) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()

	capacity := cfg.LRUCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}

	return &DeterministicCore{
		sequence:          cfg.StartSequence,
		collateralToken:   cfg.CollateralToken,
		hasher:            NewStateHasher(),
		registry:          state.NewRegistry(),
		balanceTracker:    balanceTracker,
		validator:         ledger.NewInvariantValidator(balanceTracker),
		insurance:         state.NewInsuranceFund(),
		amm:               cfg.AMM,
		custody:           cfg.Custody,
		idempotency:       NewIdempotencyChecker(capacity, cfg.DBChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		persistChan:       cfg.PersistChan,
		projectionChan:    cfg.ProjectionChan,
	}
}

// ProcessEvent is the main processing pipeline. Duplicates return (nil, nil).
// A rejected operation still consumes its source sequence and is logged
// with its reason; the returned error is the rejection.
func (c *DeterministicCore) ProcessEvent(evt event.Event) (*CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	if err := evt.Validate(); err != nil {
		c.countRejected(eventType, "malformed")
		return nil, err
	}

	// Step 1: Idempotency check (two-tier)
	isDuplicate, tier, err := c.idempotency.IsDuplicate(eventType, idempotencyKey)
	if err != nil {
		c.logger.Warn().
			Str("event_type", eventType).
			Str("key", idempotencyKey).
			Err(err).
			Msg("event log dedup lookup failed")
	}

	// Step 2: Sequence validation per pool partition
	partition := partitionOf(evt)
	if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
		if c.metrics != nil {
			if errors.Is(err, ErrSequenceGap) {
				c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
			} else {
				c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
			}
		}
		c.countRejected(eventType, "sequence")
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
		}
		c.countRejected(eventType, "duplicate")
		return nil, nil
	}

	// Step 3: Dispatch inside one operation
	op := c.begin(evt)
	opErr := c.dispatchEvent(op)

	var output CoreOutput
	if opErr != nil {
		op.rollback()
		output = c.finishRejected(op, opErr)
		c.countRejected(eventType, "domain")
		c.logger.Debug().
			Str("event_type", eventType).
			Str("key", idempotencyKey).
			Err(opErr).
			Msg("operation rejected")
	} else {
		output = c.finishApplied(op)
	}

	// Step 4: Emit. Persist blocks (backpressure), projection drops when full.
	if c.persistChan != nil {
		c.persistChan <- output
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}

	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		if opErr == nil {
			c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
			c.recordResultMetrics(evt.PoolID(), &output)
		}
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return &output, opErr
}

func partitionOf(evt event.Event) string {
	return "pool:" + evt.PoolID()
}

func (c *DeterministicCore) countRejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// finishApplied commits the operation, runs the post-checks and seals the
// envelope.
func (c *DeterministicCore) finishApplied(op *operation) CoreOutput {
	changes := op.txn.Commit()

	batch, err := op.post.Commit()
	if err != nil {
		panic(fmt.Sprintf("FATAL: invalid batch for %s: %v", op.evt.IdempotencyKey(), err))
	}
	if err := c.validator.ValidateTouchedCollateral(batch); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	digest := c.computeStateDigest(batch, changes, op.transfers)
	output := CoreOutput{
		Envelope:   c.seal(op, event.OutcomeApplied, "", digest),
		Batch:      batch,
		Changes:    changes,
		Transfers:  op.transfers,
		Result:     op.result,
		StateDelta: digest,
	}
	return output
}

// finishRejected logs a rejection. State is untouched; the chain still
// advances so replay reproduces the same hashes.
func (c *DeterministicCore) finishRejected(op *operation, opErr error) CoreOutput {
	digest := []byte("rejected:" + opErr.Error())
	return CoreOutput{
		Envelope:   c.seal(op, event.OutcomeRejected, opErr.Error(), digest),
		StateDelta: digest,
	}
}

func (c *DeterministicCore) seal(op *operation, outcome event.Outcome, reason string, digest []byte) *event.EventEnvelope {
	payload, err := event.Encode(op.evt)
	if err != nil {
		c.logger.Error().Err(err).Str("key", op.evt.IdempotencyKey()).Msg("encode payload")
	}

	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: op.evt.IdempotencyKey(),
		EventType:      op.evt.EventType(),
		PoolID:         op.evt.PoolID(),
		Timestamp:      op.now,
		SourceSequence: op.evt.SourceSequence(),
		Payload:        payload,
		Outcome:        outcome,
		Reason:         reason,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	c.sequence++
	return envelope
}

// computeStateDigest creates canonical bytes for the state hash: every
// touched account balance in path order, then every changed record.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, changes state.Changes, transfers []custody.Transfer) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		digest = appendString(digest, key.AccountPath())
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	for _, p := range changes.Pools {
		digest = append(digest, p.CanonicalBytes()...)
	}
	for _, p := range changes.Positions {
		digest = append(digest, p.CanonicalBytes()...)
	}
	for _, s := range changes.Stakes {
		digest = append(digest, s.CanonicalBytes()...)
	}
	for _, t := range transfers {
		digest = appendString(digest, t.Token)
		digest = append(digest, t.Account[:]...)
		digest = appendInt64LE(digest, t.Amount)
	}

	return digest
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants runs the periodic zero-sum and aggregate checks.
func (c *DeterministicCore) postCheckInvariants() error {
	if c.sequence == 0 || c.sequence%globalCheckInterval != 0 {
		return nil
	}
	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("at seq %d: %w", c.sequence, err)
	}
	for _, poolID := range c.registry.PoolIDs() {
		if err := c.registry.ValidateAggregates(poolID); err != nil {
			return fmt.Errorf("at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

func (c *DeterministicCore) recordResultMetrics(poolID string, output *CoreOutput) {
	m := c.metrics
	r := output.Result

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	if r.Accrual.Epochs > 0 {
		m.FeeEpochsAccrued.WithLabelValues(poolID).Add(float64(r.Accrual.Epochs))
		if r.Accrual.LPTermSkipped {
			m.LPTermSkipped.WithLabelValues(poolID).Inc()
		}
	}
	if r.MarginCharged > 0 {
		m.MarginFeesCharged.WithLabelValues(poolID).Add(float64(r.MarginCharged))
	}
	switch {
	case r.Settlement.FundingDelta > 0:
		m.FundingTransferred.WithLabelValues(poolID, "received").Add(float64(r.Settlement.FundingDelta))
	case r.Settlement.FundingDelta < 0:
		m.FundingTransferred.WithLabelValues(poolID, "paid").Add(float64(-r.Settlement.FundingDelta))
	}
	if r.LPProfitPaid > 0 {
		m.LPProfitPaid.WithLabelValues(poolID).Add(float64(r.LPProfitPaid))
	}
	if r.Liquidation != nil {
		m.LiquidationCompleted.WithLabelValues(poolID).Inc()
		if r.DeficitCovered > 0 {
			m.LiquidationDeficit.WithLabelValues(poolID, "insurance").Add(float64(r.DeficitCovered))
		}
		if r.DeficitSocialized > 0 {
			m.LiquidationDeficit.WithLabelValues(poolID, "lp_fees").Add(float64(r.DeficitSocialized))
		}
		if r.DeficitBadDebt > 0 {
			m.LiquidationDeficit.WithLabelValues(poolID, "bad_debt").Add(float64(r.DeficitBadDebt))
		}
	}
	insurance := ledger.NewSystemAccountKey(poolID, ledger.SubTypeSystemInsurance)
	m.InsuranceFundBalance.WithLabelValues(poolID).Set(float64(c.balanceTracker.GetBalance(insurance)))
}

func (c *DeterministicCore) dispatchEvent(op *operation) error {
	switch e := op.evt.(type) {
	case *event.PoolInitialized:
		return c.handlePoolInitialized(op, e)
	case *event.BeforeSwap, *event.BeforeLiquidityChange, *event.FeesAccrued:
		_, err := c.loadPool(op, op.evt.PoolID())
		return err
	case *event.CollateralDeposited:
		return c.handleCollateralDeposited(op, e)
	case *event.CollateralWithdrawn:
		return c.handleCollateralWithdrawn(op, e)
	case *event.InsuranceFunded:
		return c.handleInsuranceFunded(op, e)
	case *event.LiquidityStaked:
		return c.handleLiquidityStaked(op, e)
	case *event.LiquidityUnstaked:
		return c.handleLiquidityUnstaked(op, e)
	case *event.PositionAdjusted:
		return c.handlePositionAdjusted(op, e)
	case *event.PositionLiquidated:
		return c.handlePositionLiquidated(op, e)
	default:
		return fmt.Errorf("unknown event type: %T", op.evt)
	}
}

// GetSequence returns the next global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
