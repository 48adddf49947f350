package query

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"LiftoffLedger/internal/core"
	"LiftoffLedger/internal/errs"
	fpmath "LiftoffLedger/internal/math"
	"LiftoffLedger/internal/observability"
	"LiftoffLedger/internal/state"
)

// QueryService provides read-only access to projection tables. Every
// response carries as_of_sequence, the projection watermark it was read
// at. Insurance views are evaluated against a caller-supplied time, the
// same way the core evaluates them against a command timestamp.
type QueryService struct {
	db              *sql.DB
	metrics         *observability.Metrics
	insurancePeriod atomic.Int64
}

func NewQueryService(db *sql.DB, insurancePeriod int64, metrics *observability.Metrics) *QueryService {
	qs := &QueryService{db: db, metrics: metrics}
	qs.insurancePeriod.Store(insurancePeriod)
	return qs
}

// SetInsurancePeriod follows applied settings updates.
func (qs *QueryService) SetInsurancePeriod(period int64) {
	qs.insurancePeriod.Store(period)
}

// GetSale returns one sale.
func (qs *QueryService) GetSale(ctx context.Context, saleID uint64) (*SaleResponse, error) {
	defer qs.observe("GetSale", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	r := SaleResponse{SaleID: saleID, AsOfSequence: asOfSeq}
	var fixedRate sql.NullString
	err = qs.db.QueryRowContext(ctx, `
		SELECT name, symbol, ipfs_hash, dev_address, created_at, start_time, end_time,
		       soft_cap::text, hard_cap::text, fixed_rate::text, total_supply::text, total_ignited::text,
		       final_status, deployed_token, pair, reward_supply::text, effective_supply::text,
		       rewards_paid::text, refunded_total::text
		FROM projections.sales WHERE sale_id = $1
	`, saleID).Scan(
		&r.Name, &r.Symbol, &r.IPFSHash, &r.DevAddress, &r.CreatedAt, &r.StartTime, &r.EndTime,
		&r.SoftCap, &r.HardCap, &fixedRate, &r.TotalSupply, &r.TotalIgnited,
		&r.Status, &r.DeployedToken, &r.Pair, &r.RewardSupply, &r.EffectiveSupply,
		&r.RewardsPaid, &r.RefundedTotal,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrSaleNotFound.Withf("sale %d", saleID)
	}
	if err != nil {
		return nil, err
	}
	r.FixedRate = fixedRate.String
	return &r, nil
}

// ListSales returns sales ordered by id, newest first, with cursor
// pagination on sale id.
func (qs *QueryService) ListSales(ctx context.Context, limit int, beforeID *uint64) ([]SaleResponse, error) {
	defer qs.observe("ListSales", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sale_id, name, symbol, start_time, end_time, total_ignited::text, final_status, deployed_token
		FROM projections.sales
	`
	args := []any{}
	argIdx := 1

	if beforeID != nil {
		query += fmt.Sprintf(" WHERE sale_id < $%d", argIdx)
		args = append(args, *beforeID)
		argIdx++
	}

	query += " ORDER BY sale_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []SaleResponse
	for rows.Next() {
		s := SaleResponse{AsOfSequence: asOfSeq}
		if err := rows.Scan(
			&s.SaleID, &s.Name, &s.Symbol, &s.StartTime, &s.EndTime,
			&s.TotalIgnited, &s.Status, &s.DeployedToken,
		); err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

// GetContribution returns one contributor's entry. A contributor who
// never contributed gets a zero entry.
func (qs *QueryService) GetContribution(ctx context.Context, saleID uint64, contributor common.Address) (*ContributionResponse, error) {
	defer qs.observe("GetContribution", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	r := ContributionResponse{SaleID: saleID, Contributor: contributor.Hex(), Contributed: "0", AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT contributed::text, claimed_reward, refunded
		FROM projections.contributions WHERE sale_id = $1 AND contributor = $2
	`, saleID, contributor.Hex()).Scan(&r.Contributed, &r.ClaimedReward, &r.Refunded)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return &r, nil
}

// GetInsurance returns a sale's insurance fund with isInsuranceExhausted,
// getTotalXethClaimable and getTotalTokenClaimable evaluated at now.
// The exhaustion flag is for a zero-value outflow.
func (qs *QueryService) GetInsurance(ctx context.Context, saleID uint64, now int64) (*InsuranceResponse, error) {
	defer qs.observe("GetInsurance", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	f, err := qs.loadFund(ctx, saleID)
	if err != nil {
		return nil, err
	}
	resp, err := insuranceView(f, now, qs.insurancePeriod.Load())
	if err != nil {
		return nil, err
	}
	resp.AsOfSequence = asOfSeq
	return resp, nil
}

// GetRedeemValue quotes a redemption of tokenAmount at now.
func (qs *QueryService) GetRedeemValue(ctx context.Context, saleID uint64, tokenAmount *uint256.Int, now int64) (*RedeemQuote, error) {
	defer qs.observe("GetRedeemValue", time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	f, err := qs.loadFund(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if !f.IsInitialized {
		return nil, errs.ErrInsuranceNotInitialized.Withf("sale %d", saleID)
	}
	value, err := fpmath.RedeemValue(tokenAmount, f.TokensPerEthWad)
	if err != nil {
		return nil, err
	}
	return &RedeemQuote{
		SaleID:       saleID,
		TokenAmount:  tokenAmount.Dec(),
		XEthValue:    value.Dec(),
		Exhausted:    f.IsExhausted(now, qs.insurancePeriod.Load(), value),
		AsOfSequence: asOfSeq,
	}, nil
}

// insuranceView evaluates the insurance read views the way the core does.
func insuranceView(f *state.InsuranceFund, now, period int64) (*InsuranceResponse, error) {
	resp := &InsuranceResponse{
		SaleID:              f.SaleID,
		Token:               f.Token.Hex(),
		Status:              f.Status(now, period).String(),
		StartTime:           f.StartTime,
		TotalIgnited:        f.TotalIgnited.Dec(),
		TokensPerEthWad:     f.TokensPerEthWad.Dec(),
		BaseXEth:            f.BaseXEth.Dec(),
		BaseFee:             f.BaseFee.Dec(),
		RedeemedXEth:        f.RedeemedXEth.Dec(),
		ClaimedXEth:         f.ClaimedXEth.Dec(),
		BaseTokenLidPool:    f.BaseTokenLidPool.Dec(),
		ClaimedTokens:       f.ClaimedTokens.Dec(),
		LastClaimCycle:      f.LastClaimCycle,
		Now:                 now,
		TotalXethClaimable:  "0",
		TotalTokenClaimable: "0",
	}
	if !f.IsInitialized {
		return resp, nil
	}

	cycles := fpmath.CyclesElapsed(now, f.StartTime, period)
	xeth, err := fpmath.TotalXethClaimable(f.TotalIgnited, f.RedeemedXEth, f.ClaimedXEth, cycles)
	if err != nil {
		return nil, err
	}
	tokens, err := fpmath.TotalTokenClaimable(f.BaseTokenLidPool, cycles, f.ClaimedTokens)
	if err != nil {
		return nil, err
	}
	resp.CyclesElapsed = cycles
	resp.IsExhausted = f.IsExhausted(now, period, fpmath.Zero())
	resp.TotalXethClaimable = xeth.Dec()
	resp.TotalTokenClaimable = tokens.Dec()
	return resp, nil
}

func (qs *QueryService) loadFund(ctx context.Context, saleID uint64) (*state.InsuranceFund, error) {
	var token string
	var nums [9]string
	f := &state.InsuranceFund{SaleID: saleID}
	err := qs.db.QueryRowContext(ctx, `
		SELECT token, start_time, total_ignited::text, tokens_per_eth_wad::text, base_xeth::text,
		       base_fee::text, redeemed_xeth::text, claimed_xeth::text, base_token_lid_pool::text,
		       claimed_tokens::text, base_fee_claimed, last_claim_cycle,
		       is_registered, is_initialized, is_unwound
		FROM projections.insurance_funds WHERE sale_id = $1
	`, saleID).Scan(
		&token, &f.StartTime, &nums[0], &nums[1], &nums[2],
		&nums[3], &nums[4], &nums[5], &nums[6],
		&nums[7], &f.BaseFeeClaimed, &f.LastClaimCycle,
		&f.IsRegistered, &f.IsInitialized, &f.IsUnwound,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrInsuranceNotInitialized.Withf("sale %d has no insurance", saleID)
	}
	if err != nil {
		return nil, err
	}

	if token != "" {
		f.Token = common.HexToAddress(token)
	}
	targets := []**uint256.Int{
		&f.TotalIgnited, &f.TokensPerEthWad, &f.BaseXEth,
		&f.BaseFee, &f.RedeemedXEth, &f.ClaimedXEth, &f.BaseTokenLidPool,
		&f.ClaimedTokens,
	}
	for i, dst := range targets {
		v, err := uint256.FromDecimal(nums[i])
		if err != nil {
			return nil, fmt.Errorf("sale %d column %d: %w", saleID, i, err)
		}
		*dst = v
	}
	return f, nil
}

// GetJournalHistory returns journal entries touching an account with
// pagination on sequence.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPath string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	defer qs.observe("GetJournalHistory", time.Now())

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []any{accountPath}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
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
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity recomputes the hash chain over up to limit events from
// fromSequence and checks that every asset's projected balances sum to
// zero. Chain linkage before fromSequence is taken on trust.
func (qs *QueryService) VerifyIntegrity(ctx context.Context, fromSequence int64, limit int) (*IntegrityReport, error) {
	defer qs.observe("VerifyIntegrity", time.Now())

	report := &IntegrityReport{FromSequence: fromSequence, ToSequence: fromSequence - 1}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, state_delta, state_hash, prev_hash
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}

	var prev []byte
	if fromSequence == 0 {
		g := core.GenesisHash()
		prev = g[:]
	}
	for rows.Next() {
		var seq int64
		var delta, stateHash, prevHash []byte
		if err := rows.Scan(&seq, &delta, &stateHash, &prevHash); err != nil {
			rows.Close()
			return nil, err
		}
		report.EventsChecked++
		report.ToSequence = seq

		broken := prev != nil && !bytes.Equal(prevHash, prev)
		var p [32]byte
		copy(p[:], prevHash)
		want := core.ChainHash(p, seq, delta)
		if broken || !bytes.Equal(stateHash, want[:]) {
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		prev = stateHash
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)::text AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) <> 0
		ORDER BY asset_id
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.AssetID, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE id = 1
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) observe(endpoint string, start time.Time) {
	if qs.metrics != nil {
		qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}
