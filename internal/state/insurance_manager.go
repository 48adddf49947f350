package state

import (
	"sort"

	"LiftoffLedger/internal/errs"
)

// InsuranceManager owns one InsuranceFund per registered sale.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type InsuranceManager struct {
	funds map[uint64]*InsuranceFund
}

func NewInsuranceManager() *InsuranceManager {
	return &InsuranceManager{
		funds: make(map[uint64]*InsuranceFund),
	}
}

// Get returns the fund for saleID, or nil if the sale was never registered.
func (im *InsuranceManager) Get(saleID uint64) *InsuranceFund {
	return im.funds[saleID]
}

// Register marks saleID registered. A second call fails.
func (im *InsuranceManager) Register(saleID uint64) (*InsuranceFund, error) {
	if f, ok := im.funds[saleID]; ok && f.IsRegistered {
		return nil, errs.ErrAlreadyRegistered.Withf("sale %d already registered", saleID)
	}
	f := newInsuranceFund(saleID)
	f.IsRegistered = true
	im.funds[saleID] = f
	return f, nil
}

// Initialized returns the fund only once createInsurance has run.
func (im *InsuranceManager) Initialized(saleID uint64) (*InsuranceFund, error) {
	f := im.funds[saleID]
	if f == nil || !f.IsInitialized {
		return nil, errs.ErrInsuranceNotInitialized.Withf("insurance for sale %d not initialized", saleID)
	}
	return f, nil
}

// Replace installs a checkpointed copy, or removes the fund when f is nil.
func (im *InsuranceManager) Replace(saleID uint64, f *InsuranceFund) {
	if f == nil {
		delete(im.funds, saleID)
		return
	}
	im.funds[saleID] = f
}

// All returns every fund ordered by sale id.
func (im *InsuranceManager) All() []*InsuranceFund {
	out := make([]*InsuranceFund, 0, len(im.funds))
	for _, f := range im.funds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SaleID < out[j].SaleID })
	return out
}

// Restore replaces all funds from a snapshot.
func (im *InsuranceManager) Restore(funds []*InsuranceFund) {
	im.funds = make(map[uint64]*InsuranceFund, len(funds))
	for _, f := range funds {
		im.funds[f.SaleID] = f
	}
}
