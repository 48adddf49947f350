// Package config holds the protocol settings the Sale and Insurance
// engines read: basis-point parameters, peer addresses and timing. The
// core treats a Settings value as a read-only snapshot.
package config

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"LiftoffLedger/internal/errs"
)

const BPDenominator = 10_000

type BasisPoints struct {
	LockBP    uint32 `toml:"lock_bp" json:"lock_bp"`
	UserBP    uint32 `toml:"user_bp" json:"user_bp"`
	BaseFeeBP uint32 `toml:"base_fee_bp" json:"base_fee_bp"`
	BuyBP     uint32 `toml:"buy_bp" json:"buy_bp"`
	DevBP     uint32 `toml:"dev_bp" json:"dev_bp"`
	MainFeeBP uint32 `toml:"main_fee_bp" json:"main_fee_bp"`
	PoolBP    uint32 `toml:"pool_bp" json:"pool_bp"`
	AirdropBP uint32 `toml:"airdrop_bp" json:"airdrop_bp"`
}

// ClaimSplitTotal is the weight denominator for vested base-asset claims.
func (b BasisPoints) ClaimSplitTotal() uint32 {
	return b.LockBP + b.DevBP + b.MainFeeBP + b.PoolBP
}

type Peers struct {
	Insurance          common.Address `toml:"insurance" json:"insurance"`
	Registration       common.Address `toml:"registration" json:"registration"`
	Engine             common.Address `toml:"engine" json:"engine"`
	Partnerships       common.Address `toml:"partnerships" json:"partnerships"`
	BaseAssetToken     common.Address `toml:"base_asset_token" json:"base_asset_token"`
	LockerToken        common.Address `toml:"locker_token" json:"locker_token"`
	AMMRouter          common.Address `toml:"amm_router" json:"amm_router"`
	Treasury           common.Address `toml:"treasury" json:"treasury"`
	PoolManager        common.Address `toml:"pool_manager" json:"pool_manager"`
	AirdropDistributor common.Address `toml:"airdrop_distributor" json:"airdrop_distributor"`
}

// Timing values are in seconds.
type Timing struct {
	InsurancePeriod int64 `json:"insurance_period"`
	SoftCapTimer    int64 `json:"soft_cap_timer"`
	MinLaunchTime   int64 `json:"min_launch_time"`
	MaxLaunchTime   int64 `json:"max_launch_time"`
}

type Settings struct {
	Owner       common.Address `json:"owner"`
	BasisPoints BasisPoints    `json:"basis_points"`
	Peers       Peers          `json:"peers"`
	Timing      Timing         `json:"timing"`
}

func DefaultSettings() Settings {
	return Settings{
		BasisPoints: BasisPoints{
			LockBP:    1_000,
			UserBP:    8_000,
			BaseFeeBP: 100,
			BuyBP:     1_500,
			DevBP:     7_000,
			MainFeeBP: 200,
			PoolBP:    300,
			AirdropBP: 100,
		},
		Timing: Timing{
			InsurancePeriod: int64((30 * 24 * time.Hour).Seconds()),
			SoftCapTimer:    int64((24 * time.Hour).Seconds()),
			MinLaunchTime:   int64((24 * time.Hour).Seconds()),
			MaxLaunchTime:   int64((7 * 24 * time.Hour).Seconds()),
		},
	}
}

var bpNames = [...]string{"lock_bp", "user_bp", "base_fee_bp", "buy_bp", "dev_bp", "main_fee_bp", "pool_bp", "airdrop_bp"}

// Validate enforces the provider-side invariants.
func (s Settings) Validate() error {
	bp := s.BasisPoints
	for i, v := range []uint32{bp.LockBP, bp.UserBP, bp.BaseFeeBP, bp.BuyBP, bp.DevBP, bp.MainFeeBP, bp.PoolBP, bp.AirdropBP} {
		if v > BPDenominator {
			return errs.ErrInvalidSettings.Withf("%s %d exceeds %d", bpNames[i], v, BPDenominator)
		}
	}
	// Every share is at most BPDenominator, so the sums below cannot wrap.
	if sum := uint64(bp.LockBP) + uint64(bp.BuyBP) + uint64(bp.DevBP) + uint64(bp.MainFeeBP) + uint64(bp.PoolBP); sum != BPDenominator {
		return errs.ErrInvalidSettings.Withf("allocation basis points sum to %d, want %d", sum, BPDenominator)
	}
	if bp.BaseFeeBP >= BPDenominator || bp.BaseFeeBP > BPDenominator-bp.BuyBP {
		return errs.ErrInvalidSettings.Withf("base fee %d exceeds %d", bp.BaseFeeBP, BPDenominator-bp.BuyBP)
	}
	if uint64(bp.UserBP)+uint64(bp.AirdropBP) > BPDenominator {
		return errs.ErrInvalidSettings.Withf("user+airdrop basis points exceed %d", BPDenominator)
	}
	if bp.UserBP == 0 {
		return errs.ErrInvalidSettings.Withf("user basis points must be positive")
	}
	t := s.Timing
	if t.InsurancePeriod < 10 {
		return errs.ErrInvalidSettings.Withf("insurance period %ds shorter than 10 cycles", t.InsurancePeriod)
	}
	if t.SoftCapTimer < 0 {
		return errs.ErrInvalidSettings.Withf("soft cap timer must be >= 0")
	}
	if t.MinLaunchTime < 0 || t.MaxLaunchTime < t.MinLaunchTime {
		return errs.ErrInvalidSettings.Withf("launch window [%d,%d] invalid", t.MinLaunchTime, t.MaxLaunchTime)
	}
	if s.Peers.Engine == (common.Address{}) || s.Peers.Registration == (common.Address{}) {
		return errs.ErrInvalidSettings.Withf("engine and registration peers must be set")
	}
	return nil
}
