package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	fpmath "LiftoffLedger/internal/math"
)

// Bounds on sale parameters, in wad units where applicable.
var (
	MinSoftCap = uint256.NewInt(100_000_000)
	MinSupply  = uint256.MustFromDecimal("1000000000000000000")
	MaxSupply  = uint256.MustFromDecimal("1000000000000000000000000000000")
	MinRate    = uint256.NewInt(1)
	MaxRate    = uint256.NewInt(1_000_000_000_000)
)

// MaxCap bounds hard caps far below 2^255, where ledger balances turn negative.
var MaxCap = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

// SaleStatus tracks the sale lifecycle
type SaleStatus int32

const (
	SaleStatusCreated SaleStatus = iota
	SaleStatusIgniting
	SaleStatusSparked
	SaleStatusRefunding
	SaleStatusRefunded
)

func (s SaleStatus) String() string {
	switch s {
	case SaleStatusCreated:
		return "Created"
	case SaleStatusIgniting:
		return "Igniting"
	case SaleStatusSparked:
		return "Sparked"
	case SaleStatusRefunding:
		return "Refunding"
	case SaleStatusRefunded:
		return "Refunded"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (s SaleStatus) CanTransitionTo(next SaleStatus) bool {
	validTransitions := map[SaleStatus][]SaleStatus{
		SaleStatusCreated: {
			SaleStatusIgniting,
		},
		SaleStatusIgniting: {
			SaleStatusSparked,
			SaleStatusRefunding,
			SaleStatusRefunded, // nothing was contributed
		},
		SaleStatusRefunding: {
			SaleStatusRefunded,
		},
	}

	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsFinal reports whether the sale has been finalized.
func (s SaleStatus) IsFinal() bool {
	return s >= SaleStatusSparked
}

// ContributorEntry is one contributor's ledger entry in a sale.
type ContributorEntry struct {
	Contributed   *uint256.Int `json:"contributed"`
	ClaimedReward bool         `json:"claimed_reward"`
	Refunded      bool         `json:"refunded"`
}

func (c *ContributorEntry) clone() *ContributorEntry {
	return &ContributorEntry{
		Contributed:   c.Contributed.Clone(),
		ClaimedReward: c.ClaimedReward,
		Refunded:      c.Refunded,
	}
}

// Sale is one launch. Created and Igniting are derived from the clock;
// the terminal statuses are stored once Finalize runs.
type Sale struct {
	ID          uint64         `json:"id"`
	CreatedAt   int64          `json:"created_at"`
	StartTime   int64          `json:"start_time"`
	EndTime     int64          `json:"end_time"`
	SoftCap     *uint256.Int   `json:"soft_cap"`
	HardCap     *uint256.Int   `json:"hard_cap"`
	FixedRate   *uint256.Int   `json:"fixed_rate,omitempty"`
	TotalSupply *uint256.Int   `json:"total_supply"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	IPFSHash    string         `json:"ipfs_hash,omitempty"`
	DevAddress  common.Address `json:"dev_address"`

	TotalIgnited *uint256.Int `json:"total_ignited"`

	// Set at Spark
	DeployedToken   common.Address `json:"deployed_token"`
	Pair            common.Address `json:"pair"`
	RewardSupply    *uint256.Int   `json:"reward_supply"`
	EffectiveSupply *uint256.Int   `json:"effective_supply"`
	RewardsPaid     *uint256.Int   `json:"rewards_paid"`

	// Set at Refunding
	RefundedTotal *uint256.Int `json:"refunded_total"`

	FinalStatus SaleStatus `json:"final_status"`

	Contributors map[common.Address]*ContributorEntry `json:"contributors"`
}

func newSale(id uint64) *Sale {
	return &Sale{
		ID:              id,
		TotalIgnited:    fpmath.Zero(),
		RewardSupply:    fpmath.Zero(),
		EffectiveSupply: fpmath.Zero(),
		RewardsPaid:     fpmath.Zero(),
		RefundedTotal:   fpmath.Zero(),
		Contributors:    make(map[common.Address]*ContributorEntry),
	}
}

// IsFixedRate reports whether supply is derived from contributions.
func (s *Sale) IsFixedRate() bool {
	return s.FixedRate != nil && !s.FixedRate.IsZero()
}

// EffectiveHardCap returns the contribution ceiling. For fixed-rate sales
// it is the largest total whose derived supply stays within MaxSupply.
func (s *Sale) EffectiveHardCap() *uint256.Int {
	if s.IsFixedRate() {
		return new(uint256.Int).Div(MaxSupply, s.FixedRate)
	}
	return s.HardCap
}

// StatusAt returns the lifecycle status at now.
func (s *Sale) StatusAt(now int64) SaleStatus {
	if s.FinalStatus.IsFinal() {
		return s.FinalStatus
	}
	if now < s.StartTime {
		return SaleStatusCreated
	}
	return SaleStatusIgniting
}

// IsIgniting reports whether contributions and withdrawals are open.
func (s *Sale) IsIgniting(now int64) bool {
	return !s.FinalStatus.IsFinal() && now >= s.StartTime && now < s.EndTime
}

// IsSparkReady reports whether Finalize may run at now.
func (s *Sale) IsSparkReady(now int64) bool {
	if s.FinalStatus.IsFinal() {
		return false
	}
	if now >= s.EndTime {
		return true
	}
	return now >= s.StartTime && !s.TotalIgnited.Lt(s.EffectiveHardCap())
}

// Entry returns the contributor's ledger entry, creating an empty one.
func (s *Sale) Entry(addr common.Address) *ContributorEntry {
	e, ok := s.Contributors[addr]
	if !ok {
		e = &ContributorEntry{Contributed: fpmath.Zero()}
		s.Contributors[addr] = e
	}
	return e
}

// Lookup returns the contributor's entry without creating one.
func (s *Sale) Lookup(addr common.Address) (*ContributorEntry, bool) {
	e, ok := s.Contributors[addr]
	return e, ok
}

// ContributedSum recomputes sum(contributed) over the ledger.
func (s *Sale) ContributedSum() *uint256.Int {
	total := fpmath.Zero()
	for _, e := range s.Contributors {
		total.Add(total, e.Contributed)
	}
	return total
}

// Clone returns a deep copy, used to checkpoint a sale before mutation.
func (s *Sale) Clone() *Sale {
	c := *s
	c.SoftCap = cloneInt(s.SoftCap)
	c.HardCap = cloneInt(s.HardCap)
	c.FixedRate = cloneInt(s.FixedRate)
	c.TotalSupply = cloneInt(s.TotalSupply)
	c.TotalIgnited = cloneInt(s.TotalIgnited)
	c.RewardSupply = cloneInt(s.RewardSupply)
	c.EffectiveSupply = cloneInt(s.EffectiveSupply)
	c.RewardsPaid = cloneInt(s.RewardsPaid)
	c.RefundedTotal = cloneInt(s.RefundedTotal)
	c.Contributors = make(map[common.Address]*ContributorEntry, len(s.Contributors))
	for k, v := range s.Contributors {
		c.Contributors[k] = v.clone()
	}
	return &c
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}
