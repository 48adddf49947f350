package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrBalanceOverflow is returned when a debit would carry an internal
// account into the sign bit.
var ErrBalanceOverflow = errors.New("balance overflow")

// BalanceTracker maintains in-memory account balances.
// Balances are two's-complement 256-bit values: only external accounts
// may go negative, and the sum over all accounts of one asset is zero
// modulo 2^256.
type BalanceTracker struct {
	balances map[AccountKey]uint256.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]uint256.Int),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	debit := bt.balances[j.DebitAccount]
	debit.Add(&debit, &j.Amount)
	bt.balances[j.DebitAccount] = debit

	credit := bt.balances[j.CreditAccount]
	credit.Sub(&credit, &j.Amount)
	bt.balances[j.CreditAccount] = credit
}

func (bt *BalanceTracker) revertJournal(j Journal) {
	debit := bt.balances[j.DebitAccount]
	debit.Sub(&debit, &j.Amount)
	bt.balances[j.DebitAccount] = debit

	credit := bt.balances[j.CreditAccount]
	credit.Add(&credit, &j.Amount)
	bt.balances[j.CreditAccount] = credit
}

// ApplyBatch applies all journals in a batch. If any internal account
// would end up negative, whether overdrawn or debited past 2^255, the
// whole batch is reverted.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	for _, j := range batch.Journals {
		if err := bt.ValidateNonNegative(j.CreditAccount); err != nil {
			bt.RevertBatch(batch)
			return err
		}
		if err := bt.ValidateNonNegative(j.DebitAccount); err != nil {
			bt.RevertBatch(batch)
			return fmt.Errorf("%w: %v", ErrBalanceOverflow, err)
		}
	}

	return nil
}

// RevertBatch undoes a previously applied batch, last journal first.
func (bt *BalanceTracker) RevertBatch(batch *Batch) {
	for i := len(batch.Journals) - 1; i >= 0; i-- {
		bt.revertJournal(batch.Journals[i])
	}
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) uint256.Int {
	return bt.balances[key]
}

// GetWalletBalance returns a user's wallet balance for one asset.
func (bt *BalanceTracker) GetWalletBalance(owner common.Address, assetID AssetID) uint256.Int {
	return bt.GetBalance(NewUserAccountKey(owner, assetID))
}

// ValidateSufficient checks an internal account holds at least required.
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required *uint256.Int) error {
	have := bt.GetBalance(key)
	if have.Sign() < 0 || have.Lt(required) {
		return fmt.Errorf("insufficient balance in %s: have=%s, need=%s",
			key.AccountPath(), FormatSigned(&have), required.Dec())
	}
	return nil
}

// ValidateNonNegative checks that an internal account balance is >= 0.
// External accounts are exempt.
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if key.IsExternal() {
		return nil
	}
	balance := bt.GetBalance(key)
	if balance.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), FormatSigned(&balance))
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]uint256.Int {
	totals := make(map[AssetID]uint256.Int)

	for key, balance := range bt.balances {
		t := totals[key.AssetID]
		t.Add(&t, &balance)
		totals[key.AssetID] = t
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]uint256.Int {
	snapshot := make(map[AccountKey]uint256.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// BalanceEntry is the serialized form of one account balance.
type BalanceEntry struct {
	AccountPath string `json:"account_path"`
	Balance     string `json:"balance"`
}

// Entries returns all non-zero balances sorted by account path.
func (bt *BalanceTracker) Entries() []BalanceEntry {
	out := make([]BalanceEntry, 0, len(bt.balances))
	for k, v := range bt.balances {
		if v.IsZero() {
			continue
		}
		out = append(out, BalanceEntry{AccountPath: k.AccountPath(), Balance: FormatSigned(&v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountPath < out[j].AccountPath })
	return out
}

// Restore replaces all balances from serialized entries.
func (bt *BalanceTracker) Restore(entries []BalanceEntry) error {
	balances := make(map[AccountKey]uint256.Int, len(entries))
	for _, e := range entries {
		key, err := ParseAccountPath(e.AccountPath)
		if err != nil {
			return err
		}
		v, err := ParseSigned(e.Balance)
		if err != nil {
			return fmt.Errorf("balance for %s: %w", e.AccountPath, err)
		}
		balances[key] = *v
	}
	bt.balances = balances
	return nil
}

// FormatSigned renders a two's-complement value as a signed decimal.
func FormatSigned(v *uint256.Int) string {
	if v.Sign() < 0 {
		return "-" + new(uint256.Int).Neg(v).Dec()
	}
	return v.Dec()
}

// ParseSigned is the inverse of FormatSigned.
func ParseSigned(s string) (*uint256.Int, error) {
	neg := strings.HasPrefix(s, "-")
	v, err := uint256.FromDecimal(strings.TrimPrefix(s, "-"))
	if err != nil {
		return nil, err
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}
