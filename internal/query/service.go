package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"HookLedger/internal/ledger"
	"HookLedger/internal/observability"
	"HookLedger/internal/projection"
	"HookLedger/internal/state"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to the projection tables, reading
// through the Redis view cache when one is configured. Every response
// carries as_of_sequence, the projection watermark.
type QueryService struct {
	db      *sql.DB
	cache   *projection.ViewCache // optional
	format  *Formatter
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, cache *projection.ViewCache, format *Formatter, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, cache: cache, format: format, metrics: metrics}
}

// Formatter returns the amount formatter used by responses.
func (qs *QueryService) Formatter() *Formatter {
	return qs.format
}

func (qs *QueryService) GetPool(ctx context.Context, poolID string) (*PoolResponse, error) {
	defer qs.observe("pool", time.Now())

	asOf, err := qs.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	r, err := qs.poolRecord(ctx, poolID)
	if err != nil {
		return nil, err
	}
	tok := r.CollateralToken
	return &PoolResponse{
		PoolID:                  r.PoolID,
		CollateralToken:         r.CollateralToken,
		AssetToken:              r.AssetToken,
		FundingModel:            r.Params.FundingModel.String(),
		LastFundingTime:         r.LastFundingTime,
		AggregateAbsExposure:    qs.format.Amount(tok, r.AggregateAbsExposure),
		AggregateNetExposure:    qs.format.Amount(tok, r.AggregateNetExposure),
		TotalStakedLiquidity:    r.TotalStakedLiquidity,
		SwapperMarginFeePerUnit: r.SwapperMarginFeePerUnit,
		LPMarginFeePerUnit:      r.LPMarginFeePerUnit,
		FundingFeePerUnit:       r.FundingFeePerUnit,
		LPLossPerUnit:           r.LPLossPerUnit,
		Version:                 r.Version,
		AsOfSequence:            asOf,
	}, nil
}

// GetPosition returns the account's position; an account that never traded
// is reported flat.
func (qs *QueryService) GetPosition(ctx context.Context, poolID string, account uuid.UUID) (*PositionResponse, error) {
	defer qs.observe("position", time.Now())

	asOf, err := qs.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := qs.poolRecord(ctx, poolID)
	if err != nil {
		return nil, err
	}

	var r state.PositionRecord
	key := projection.PositionKey(poolID, account)
	if !qs.cached(ctx, "position", key, &r) {
		r = state.PositionRecord{PoolID: poolID, Account: account}
		err := qs.db.QueryRowContext(ctx, `
			SELECT size, exposure, version FROM projections.positions
			WHERE pool_id = $1 AND account = $2
		`, poolID, account).Scan(&r.Size, &r.Exposure, &r.Version)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			qs.store(ctx, key, r)
		}
	}

	return &PositionResponse{
		PoolID:       poolID,
		Account:      account,
		Size:         r.Size,
		Exposure:     qs.format.Amount(pool.CollateralToken, r.Exposure),
		Version:      r.Version,
		AsOfSequence: asOf,
	}, nil
}

func (qs *QueryService) GetStake(ctx context.Context, poolID string, account uuid.UUID) (*StakeResponse, error) {
	defer qs.observe("stake", time.Now())

	asOf, err := qs.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := qs.poolRecord(ctx, poolID)
	if err != nil {
		return nil, err
	}

	var r state.StakeRecord
	key := projection.StakeKey(poolID, account)
	if !qs.cached(ctx, "stake", key, &r) {
		r = state.StakeRecord{PoolID: poolID, Account: account}
		err := qs.db.QueryRowContext(ctx, `
			SELECT liquidity, realized_profit, version FROM projections.stakes
			WHERE pool_id = $1 AND account = $2
		`, poolID, account).Scan(&r.Liquidity, &r.RealizedProfit, &r.Version)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			qs.store(ctx, key, r)
		}
	}

	return &StakeResponse{
		PoolID:         poolID,
		Account:        account,
		Liquidity:      r.Liquidity,
		RealizedProfit: qs.format.Amount(pool.CollateralToken, r.RealizedProfit),
		Version:        r.Version,
		AsOfSequence:   asOf,
	}, nil
}

// GetBalance returns an account's collateral balance in a pool.
func (qs *QueryService) GetBalance(ctx context.Context, poolID string, account uuid.UUID) (*BalanceResponse, error) {
	defer qs.observe("balance", time.Now())

	asOf, err := qs.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	pool, err := qs.poolRecord(ctx, poolID)
	if err != nil {
		return nil, err
	}

	path := ledger.CollateralKey(poolID, account).AccountPath()
	balance, err := qs.projectedBalance(ctx, path)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{
		PoolID:       poolID,
		Account:      account,
		AccountPath:  path,
		Token:        pool.CollateralToken,
		Balance:      qs.format.Amount(pool.CollateralToken, balance),
		AsOfSequence: asOf,
	}, nil
}

// GetJournalHistory returns the account's journal entries in a pool, newest
// first. afterSequence pages backwards.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	poolID string,
	account uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	defer qs.observe("journal", time.Now())

	pool, err := qs.poolRecord(ctx, poolID)
	if err != nil {
		return nil, err
	}

	path := ledger.CollateralKey(poolID, account).AccountPath()
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []any{path}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		var amount int64
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &amount, &e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Amount = qs.format.Amount(pool.CollateralToken, amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and that
// every pool's projected balances sum to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	asOf, err := qs.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	report.AsOfSequence = asOf

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT pool_id, SUM(balance)
		FROM projections.collateral
		GROUP BY pool_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedPool
		if err := balanceRows.Scan(&u.PoolID, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedPools = append(report.UnbalancedPools, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedPools) == 0
	return report, nil
}

// Watermark returns the last sequence applied to the projections, or -1.
func (qs *QueryService) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE id = 1
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}
	return seq, nil
}

// --- helpers ---

func (qs *QueryService) poolRecord(ctx context.Context, poolID string) (state.PoolRecord, error) {
	var r state.PoolRecord
	key := projection.PoolKey(poolID)
	if qs.cached(ctx, "pool", key, &r) {
		return r, nil
	}

	var model string
	err := qs.db.QueryRowContext(ctx, `
		SELECT pool_id, collateral_token, asset_token, funding_model, last_funding_time,
		       aggregate_abs_exposure, aggregate_net_exposure, total_staked_liquidity,
		       swapper_margin_fee_unit::TEXT, lp_margin_fee_unit::TEXT, funding_fee_unit::TEXT,
		       lp_loss_unit::TEXT, version
		FROM projections.pools WHERE pool_id = $1
	`, poolID).Scan(
		&r.PoolID, &r.CollateralToken, &r.AssetToken, &model, &r.LastFundingTime,
		&r.AggregateAbsExposure, &r.AggregateNetExposure, &r.TotalStakedLiquidity,
		&r.SwapperMarginFeePerUnit, &r.LPMarginFeePerUnit, &r.FundingFeePerUnit,
		&r.LPLossPerUnit, &r.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("pool %s: %w", poolID, ErrNotFound)
	}
	if err != nil {
		return r, err
	}
	if r.Params.FundingModel, err = state.ParseFundingModel(model); err != nil {
		return r, err
	}

	qs.store(ctx, key, r)
	return r, nil
}

func (qs *QueryService) projectedBalance(ctx context.Context, path string) (int64, error) {
	var balance int64
	key := projection.BalanceKey(path)
	if qs.cached(ctx, "balance", key, &balance) {
		return balance, nil
	}

	err := qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.collateral WHERE account_path = $1
	`, path).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	qs.store(ctx, key, balance)
	return balance, nil
}

// cached reports a cache hit. Cache errors count as misses.
func (qs *QueryService) cached(ctx context.Context, kind, key string, v any) bool {
	if qs.cache == nil {
		return false
	}
	hit, err := qs.cache.Get(ctx, key, v)
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case hit:
		result = "hit"
	}
	if qs.metrics != nil {
		qs.metrics.CacheLookups.WithLabelValues(kind, result).Inc()
	}
	return hit
}

func (qs *QueryService) store(ctx context.Context, key string, v any) {
	if qs.cache != nil {
		qs.cache.Put(ctx, key, v)
	}
}

func (qs *QueryService) observe(endpoint string, start time.Time) {
	if qs.metrics != nil {
		qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}
