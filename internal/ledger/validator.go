package ledger

import (
	"fmt"
	"sort"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed and balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateSaleAccountsNonNegative checks escrow and insurance accounts of a sale for every asset it holds.
func (v *InvariantValidator) ValidateSaleAccountsNonNegative(saleID uint64) error {
	for _, asset := range []AssetID{AssetXETH, TokenAsset(saleID)} {
		for _, st := range []AccountSubType{SubTypeSaleEscrow, SubTypeInsuranceReserve} {
			if err := v.tracker.ValidateNonNegative(NewSystemAccountKey(saleID, st, asset)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	assets := make([]AssetID, 0, len(totals))
	for a := range totals {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })

	for _, assetID := range assets {
		total := totals[assetID]
		if !total.IsZero() {
			return fmt.Errorf("global balance for %s is non-zero: %s", assetID, FormatSigned(&total))
		}
	}

	return nil
}
