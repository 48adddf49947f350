package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"LiftoffLedger/internal/config"
)

// ConfigProvider is the read-only settings view the engines consume.
// Each command reads it once and works from that snapshot.
type ConfigProvider interface {
	GetBasisPoints() config.BasisPoints
	GetPeerAddresses() config.Peers
	GetTiming() config.Timing
}

// TokenDeployer creates the launched token at Spark. Implementations
// must be deterministic in their inputs so that replay reproduces the
// same address.
type TokenDeployer interface {
	DeployToken(deployer common.Address, saleID uint64, name, symbol string, supply *uint256.Int) (common.Address, error)
}

// LiquidityRouter seeds the AMM pool for a sparked sale and returns the
// pair address. The core only computes the amounts handed to it.
type LiquidityRouter interface {
	AddLiquidity(router, token, baseAsset common.Address, tokenAmount, baseAmount *uint256.Int) (common.Address, error)
}
