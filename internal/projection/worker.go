package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"HookLedger/internal/core"
	"HookLedger/internal/observability"
	"HookLedger/internal/state"

	"github.com/rs/zerolog"
)

// ProjectionWorker updates the projection tables from core outputs. Its
// channel is fed with a non-blocking send, so it may miss outputs; the
// tables are rebuilt from the event log and core state when that happens.
type ProjectionWorker struct {
	db        *sql.DB
	cache     *ViewCache // optional
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(
	db *sql.DB,
	cache *ViewCache,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		cache:     cache,
		inputChan: inputChan,
		lastSeq:   -1,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if pw.lastSeq >= 0 && seq != pw.lastSeq+1 {
				pw.logger.Warn().Int64("last", pw.lastSeq).Int64("got", seq).Msg("projection skipped outputs")
			}

			if err := pw.Apply(ctx, output); err != nil {
				// Projections are eventually consistent and can be rebuilt.
				pw.logger.Warn().Err(err).Int64("seq", seq).Msg("projection update failed")
			}
			pw.lastSeq = seq
		}
	}
}

// Apply writes one output's effects in a single transaction and then
// refreshes the cache.
func (pw *ProjectionWorker) Apply(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	touched := make(map[string]bool)
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			debit, credit := j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath()
			if err := upsertBalance(ctx, tx, debit, j.DebitAccount.PoolID, j.Amount, seq); err != nil {
				return fmt.Errorf("collateral projection: %w", err)
			}
			if err := upsertBalance(ctx, tx, credit, j.CreditAccount.PoolID, -j.Amount, seq); err != nil {
				return fmt.Errorf("collateral projection: %w", err)
			}
			touched[debit], touched[credit] = true, true
		}
	}
	if err := writeRecords(ctx, tx, output.Changes, seq); err != nil {
		return err
	}
	if err := writeWatermark(ctx, tx, seq); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("output").Observe(time.Since(start).Seconds())
	}
	pw.refreshCache(ctx, output.Changes, touched)
	return nil
}

// Seed overwrites the record projections with the core's current state and
// rebuilds balances from the journal. Used at startup after recovery.
func (pw *ProjectionWorker) Seed(ctx context.Context, changes state.Changes, seq int64) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := rebuildBalances(ctx, tx); err != nil {
		return err
	}
	if err := writeRecords(ctx, tx, changes, seq); err != nil {
		return err
	}
	if err := writeWatermark(ctx, tx, seq); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	pw.lastSeq = seq
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("seed").Observe(time.Since(start).Seconds())
	}
	pw.logger.Info().Int64("seq", seq).Int("pools", len(changes.Pools)).Msg("projections seeded")
	return nil
}

func (pw *ProjectionWorker) refreshCache(ctx context.Context, changes state.Changes, touched map[string]bool) {
	if pw.cache == nil {
		return
	}
	var err error
	put := func(key string, v any) {
		if e := pw.cache.Put(ctx, key, v); e != nil && err == nil {
			err = e
		}
	}
	for _, p := range changes.Pools {
		put(PoolKey(p.PoolID), p.Record())
	}
	for _, p := range changes.Positions {
		put(PositionKey(p.PoolID, p.Account), p.Record())
	}
	for _, s := range changes.Stakes {
		put(StakeKey(s.PoolID, s.Account), s.Record())
	}

	keys := make([]string, 0, len(touched))
	for path := range touched {
		keys = append(keys, BalanceKey(path))
	}
	sort.Strings(keys)
	if e := pw.cache.Invalidate(ctx, keys...); e != nil && err == nil {
		err = e
	}
	if err != nil {
		pw.logger.Warn().Err(err).Msg("cache refresh failed")
	}
}

func upsertBalance(ctx context.Context, tx *sql.Tx, path, poolID string, delta, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.collateral (account_path, pool_id, balance, sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.collateral.balance + $3, sequence = $4
	`, path, poolID, delta, seq)
	return err
}

func rebuildBalances(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.collateral`); err != nil {
		return fmt.Errorf("truncate collateral: %w", err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.collateral (account_path, pool_id, balance, sequence)
		SELECT account_path, pool_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, pool_id, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account, pool_id, -amount, sequence FROM event_log.journal
		) moves
		GROUP BY account_path, pool_id
	`)
	if err != nil {
		return fmt.Errorf("rebuild collateral: %w", err)
	}
	return nil
}

func writeRecords(ctx context.Context, tx *sql.Tx, changes state.Changes, seq int64) error {
	for _, p := range changes.Pools {
		r := p.Record()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.pools
				(pool_id, collateral_token, asset_token, funding_model, last_funding_time,
				 aggregate_abs_exposure, aggregate_net_exposure, total_staked_liquidity,
				 swapper_margin_fee_unit, lp_margin_fee_unit, funding_fee_unit, lp_loss_unit, version, sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (pool_id) DO UPDATE SET
				last_funding_time = $5, aggregate_abs_exposure = $6, aggregate_net_exposure = $7,
				total_staked_liquidity = $8, swapper_margin_fee_unit = $9, lp_margin_fee_unit = $10,
				funding_fee_unit = $11, lp_loss_unit = $12, version = $13, sequence = $14
		`, r.PoolID, r.CollateralToken, r.AssetToken, r.Params.FundingModel.String(), r.LastFundingTime,
			r.AggregateAbsExposure, r.AggregateNetExposure, r.TotalStakedLiquidity,
			r.SwapperMarginFeePerUnit, r.LPMarginFeePerUnit, r.FundingFeePerUnit, r.LPLossPerUnit, r.Version, seq); err != nil {
			return fmt.Errorf("pool projection %s: %w", r.PoolID, err)
		}
	}

	for _, p := range changes.Positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions (pool_id, account, size, exposure, version, sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (pool_id, account) DO UPDATE SET
				size = $3, exposure = $4, version = $5, sequence = $6
		`, p.PoolID, p.Account, p.Size, p.Exposure, p.Version, seq); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	for _, s := range changes.Stakes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.stakes (pool_id, account, liquidity, realized_profit, version, sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (pool_id, account) DO UPDATE SET
				liquidity = $3, realized_profit = $4, version = $5, sequence = $6
		`, s.PoolID, s.Account, s.Liquidity, s.RealizedProfit, s.Version, seq); err != nil {
			return fmt.Errorf("stake projection: %w", err)
		}
	}
	return nil
}

func writeWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (id, last_sequence, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET last_sequence = GREATEST(projections.watermark.last_sequence, $1), updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}
