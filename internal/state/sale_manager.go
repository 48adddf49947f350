package state

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"LiftoffLedger/internal/errs"
)

// SaleManager owns every Sale record. Sales are never deleted.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type SaleManager struct {
	sales  map[uint64]*Sale
	nextID uint64
}

func NewSaleManager() *SaleManager {
	return &SaleManager{
		sales:  make(map[uint64]*Sale),
		nextID: 1,
	}
}

// SaleParams are the validated inputs of a new sale.
type SaleParams struct {
	CreatedAt   int64
	StartTime   int64
	EndTime     int64
	SoftCap     *uint256.Int
	HardCap     *uint256.Int
	FixedRate   *uint256.Int
	TotalSupply *uint256.Int
	Name        string
	Symbol      string
	IPFSHash    string
	DevAddress  common.Address
}

// ValidateSaleParams checks window ordering and bounds.
func ValidateSaleParams(p SaleParams) error {
	if !(p.CreatedAt < p.StartTime && p.StartTime < p.EndTime) {
		return errs.ErrInvalidWindow.Withf("need now(%d) < start(%d) < end(%d)", p.CreatedAt, p.StartTime, p.EndTime)
	}
	if p.SoftCap == nil || p.SoftCap.Lt(MinSoftCap) {
		return errs.ErrInvalidCaps.Withf("soft cap below minimum %s", MinSoftCap.Dec())
	}
	if p.DevAddress == (common.Address{}) {
		return errs.ErrInvalidAddress.Withf("dev address must be set")
	}

	if p.FixedRate != nil && !p.FixedRate.IsZero() {
		if p.FixedRate.Lt(MinRate) || p.FixedRate.Gt(MaxRate) {
			return errs.ErrInvalidCaps.Withf("fixed rate %s outside [%s, %s]", p.FixedRate.Dec(), MinRate.Dec(), MaxRate.Dec())
		}
		derived := new(uint256.Int).Div(MaxSupply, p.FixedRate)
		if derived.Lt(p.SoftCap) {
			return errs.ErrInvalidCaps.Withf("soft cap unreachable at fixed rate %s", p.FixedRate.Dec())
		}
		return nil
	}

	if p.HardCap == nil || p.HardCap.Lt(p.SoftCap) {
		return errs.ErrInvalidCaps.Withf("hard cap below soft cap")
	}
	if p.HardCap.Gt(MaxCap) {
		return errs.ErrInvalidCaps.Withf("hard cap above maximum %s", MaxCap.Dec())
	}
	if p.TotalSupply == nil || p.TotalSupply.Lt(MinSupply) || p.TotalSupply.Gt(MaxSupply) {
		return errs.ErrInvalidSupply.Withf("supply outside [%s, %s]", MinSupply.Dec(), MaxSupply.Dec())
	}
	return nil
}

// Create validates p and stores a new sale, returning its id.
func (sm *SaleManager) Create(p SaleParams) (*Sale, error) {
	if err := ValidateSaleParams(p); err != nil {
		return nil, err
	}

	s := newSale(sm.nextID)
	s.CreatedAt = p.CreatedAt
	s.StartTime = p.StartTime
	s.EndTime = p.EndTime
	s.SoftCap = p.SoftCap.Clone()
	s.Name = p.Name
	s.Symbol = p.Symbol
	s.IPFSHash = p.IPFSHash
	s.DevAddress = p.DevAddress
	if p.FixedRate != nil && !p.FixedRate.IsZero() {
		s.FixedRate = p.FixedRate.Clone()
		s.HardCap = new(uint256.Int).Div(MaxSupply, p.FixedRate)
		s.TotalSupply = new(uint256.Int)
	} else {
		s.HardCap = p.HardCap.Clone()
		s.TotalSupply = p.TotalSupply.Clone()
	}

	sm.sales[s.ID] = s
	sm.nextID++
	return s, nil
}

// Get returns the sale or ErrSaleNotFound.
func (sm *SaleManager) Get(id uint64) (*Sale, error) {
	s, ok := sm.sales[id]
	if !ok {
		return nil, errs.ErrSaleNotFound.Withf("sale %d not found", id)
	}
	return s, nil
}

// Replace installs a checkpointed copy, undoing later mutation.
func (sm *SaleManager) Replace(s *Sale) {
	sm.sales[s.ID] = s
}

// Remove drops a sale created by a command that later failed.
func (sm *SaleManager) Remove(id uint64) {
	delete(sm.sales, id)
	if id+1 == sm.nextID {
		sm.nextID = id
	}
}

// NextID returns the id the next created sale will get.
func (sm *SaleManager) NextID() uint64 {
	return sm.nextID
}

// All returns every sale ordered by id.
func (sm *SaleManager) All() []*Sale {
	out := make([]*Sale, 0, len(sm.sales))
	for _, s := range sm.sales {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore replaces all sales from a snapshot.
func (sm *SaleManager) Restore(sales []*Sale, nextID uint64) {
	sm.sales = make(map[uint64]*Sale, len(sales))
	for _, s := range sales {
		if s.Contributors == nil {
			s.Contributors = make(map[common.Address]*ContributorEntry)
		}
		sm.sales[s.ID] = s
	}
	sm.nextID = nextID
	if sm.nextID == 0 {
		sm.nextID = 1
	}
}
