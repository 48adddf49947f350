package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"LiftoffLedger/internal/observability"
	"LiftoffLedger/internal/state"
)

// ProjectionOutput carries what the read model needs from one core step.
// The orchestrator builds it from core.CoreOutput.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	JournalEntries []JournalEntry
	Sale           *state.Sale
	Fund           *state.InsuranceFund
}

// JournalEntry is a simplified journal for projection consumption.
// Amount is a base-10 wad integer.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint64
	Amount        string
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is fed with a non-blocking send, so a slow
// worker drops outputs; RebuildBalances recovers balances from the journal and
// the next output for a sale rewrites its row in full.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   -1,
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

			if err := pw.processOutput(ctx, output); err != nil {
				// Eventually consistent; the log is the source of truth.
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq = output.Sequence
		}
	}
}

// LastSequence returns the last sequence applied by this worker.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.JournalEntries {
		if err := updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}
	pw.observe("balances", start)

	if output.Sale != nil {
		t := time.Now()
		if err := upsertSale(ctx, tx, output.Sale, output.Sequence); err != nil {
			return fmt.Errorf("sale projection: %w", err)
		}
		if err := upsertContributions(ctx, tx, output.Sale, output.Sequence); err != nil {
			return fmt.Errorf("contribution projection: %w", err)
		}
		pw.observe("sales", t)
	}

	if output.Fund != nil {
		t := time.Now()
		if err := upsertFund(ctx, tx, output.Fund, output.Sequence); err != nil {
			return fmt.Errorf("insurance projection: %w", err)
		}
		pw.observe("insurance_funds", t)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.watermark SET last_sequence = $1
		WHERE id = 1 AND last_sequence < $1
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) observe(projection string, start time.Time) {
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(projection).Observe(time.Since(start).Seconds())
	}
}

// Debits raise an account balance and credits lower it, matching the
// core's balance tracker.
func updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -($3::numeric), $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $3::numeric, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func upsertSale(ctx context.Context, tx *sql.Tx, s *state.Sale, seq int64) error {
	var fixedRate any
	if s.IsFixedRate() {
		fixedRate = s.FixedRate.Dec()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.sales (
			sale_id, name, symbol, ipfs_hash, dev_address, created_at, start_time, end_time,
			soft_cap, hard_cap, fixed_rate, total_supply, total_ignited, final_status,
			deployed_token, pair, reward_supply, effective_supply, rewards_paid, refunded_total, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (sale_id) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			total_supply = EXCLUDED.total_supply,
			total_ignited = EXCLUDED.total_ignited,
			final_status = EXCLUDED.final_status,
			deployed_token = EXCLUDED.deployed_token,
			pair = EXCLUDED.pair,
			reward_supply = EXCLUDED.reward_supply,
			effective_supply = EXCLUDED.effective_supply,
			rewards_paid = EXCLUDED.rewards_paid,
			refunded_total = EXCLUDED.refunded_total,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.sales.last_sequence < EXCLUDED.last_sequence
	`,
		s.ID, s.Name, s.Symbol, s.IPFSHash, s.DevAddress.Hex(), s.CreatedAt, s.StartTime, s.EndTime,
		s.SoftCap.Dec(), s.HardCap.Dec(), fixedRate, s.TotalSupply.Dec(), s.TotalIgnited.Dec(), s.FinalStatus.String(),
		addressOrEmpty(s.DeployedToken), addressOrEmpty(s.Pair),
		s.RewardSupply.Dec(), s.EffectiveSupply.Dec(), s.RewardsPaid.Dec(), s.RefundedTotal.Dec(), seq,
	)
	return err
}

func upsertContributions(ctx context.Context, tx *sql.Tx, s *state.Sale, seq int64) error {
	for addr, e := range s.Contributors {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.contributions
				(sale_id, contributor, contributed, claimed_reward, refunded, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sale_id, contributor) DO UPDATE SET
				contributed = EXCLUDED.contributed,
				claimed_reward = EXCLUDED.claimed_reward,
				refunded = EXCLUDED.refunded,
				last_sequence = EXCLUDED.last_sequence
			WHERE projections.contributions.last_sequence < EXCLUDED.last_sequence
		`, s.ID, addr.Hex(), e.Contributed.Dec(), e.ClaimedReward, e.Refunded, seq); err != nil {
			return err
		}
	}
	return nil
}

func upsertFund(ctx context.Context, tx *sql.Tx, f *state.InsuranceFund, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.insurance_funds (
			sale_id, token, start_time, total_ignited, tokens_per_eth_wad, base_xeth, base_fee,
			redeemed_xeth, claimed_xeth, base_token_lid_pool, claimed_tokens, base_fee_claimed,
			last_claim_cycle, is_registered, is_initialized, is_unwound, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (sale_id) DO UPDATE SET
			token = EXCLUDED.token,
			start_time = EXCLUDED.start_time,
			total_ignited = EXCLUDED.total_ignited,
			tokens_per_eth_wad = EXCLUDED.tokens_per_eth_wad,
			base_xeth = EXCLUDED.base_xeth,
			base_fee = EXCLUDED.base_fee,
			redeemed_xeth = EXCLUDED.redeemed_xeth,
			claimed_xeth = EXCLUDED.claimed_xeth,
			base_token_lid_pool = EXCLUDED.base_token_lid_pool,
			claimed_tokens = EXCLUDED.claimed_tokens,
			base_fee_claimed = EXCLUDED.base_fee_claimed,
			last_claim_cycle = EXCLUDED.last_claim_cycle,
			is_registered = EXCLUDED.is_registered,
			is_initialized = EXCLUDED.is_initialized,
			is_unwound = EXCLUDED.is_unwound,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.insurance_funds.last_sequence < EXCLUDED.last_sequence
	`,
		f.SaleID, addressOrEmpty(f.Token), f.StartTime, f.TotalIgnited.Dec(), f.TokensPerEthWad.Dec(),
		f.BaseXEth.Dec(), f.BaseFee.Dec(), f.RedeemedXEth.Dec(), f.ClaimedXEth.Dec(),
		f.BaseTokenLidPool.Dec(), f.ClaimedTokens.Dec(), f.BaseFeeClaimed,
		f.LastClaimCycle, f.IsRegistered, f.IsInitialized, f.IsUnwound, seq,
	)
	return err
}

func addressOrEmpty(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

// RebuildBalances recomputes projections.balances from the journal. Sale
// and insurance rows are left alone: they are full-row upserts and heal
// on the next output that touches them.
func RebuildBalances(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.balances`); err != nil {
		return fmt.Errorf("truncate balances: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence
			FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, asset_id, -amount AS delta, sequence
			FROM event_log.journal
		) j
		GROUP BY account_path, asset_id
	`)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.watermark
		SET last_sequence = COALESCE((SELECT MAX(sequence) FROM event_log.events), -1)
		WHERE id = 1
	`); err != nil {
		return fmt.Errorf("watermark reset: %w", err)
	}

	return tx.Commit()
}
