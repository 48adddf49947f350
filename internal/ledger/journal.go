package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeContribution
	JournalTypeContributionWithdrawal
	JournalTypeRefund
	JournalTypeTokenMint
	JournalTypeRewardClaim
	JournalTypeAirdrop
	JournalTypeLiquiditySeed
	JournalTypeInsuranceSeed
	JournalTypeRedemption
	JournalTypeVestingClaim
	JournalTypeBaseFeeClaim
	JournalTypeUnwindSweep
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeContribution:
		return "contribution"
	case JournalTypeContributionWithdrawal:
		return "contribution_withdrawal"
	case JournalTypeRefund:
		return "refund"
	case JournalTypeTokenMint:
		return "token_mint"
	case JournalTypeRewardClaim:
		return "reward_claim"
	case JournalTypeAirdrop:
		return "airdrop"
	case JournalTypeLiquiditySeed:
		return "liquidity_seed"
	case JournalTypeInsuranceSeed:
		return "insurance_seed"
	case JournalTypeRedemption:
		return "redemption"
	case JournalTypeVestingClaim:
		return "vesting_claim"
	case JournalTypeBaseFeeClaim:
		return "base_fee_claim"
	case JournalTypeUnwindSweep:
		return "unwind_sweep"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source event
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        uint256.Int // Wad amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Operation time (unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from credit to debit, so every
// entry is balanced by construction and so is the batch.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
