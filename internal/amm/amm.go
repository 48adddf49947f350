// Package amm stands in for the external token factory and AMM router.
// Addresses are derived the way the on-chain contracts derive them, so a
// replayed log reproduces the same token and pair addresses.
package amm

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// PairInitCodeHash is the init code hash used for CREATE2 pair addresses.
var PairInitCodeHash = crypto.Keccak256([]byte("LiftoffLedger:pair:v1"))

// Deployer derives token addresses from the deployer and the sale id,
// mirroring CREATE with the sale id as nonce.
type Deployer struct{}

func NewDeployer() *Deployer { return &Deployer{} }

func (d *Deployer) DeployToken(deployer common.Address, saleID uint64, name, symbol string, supply *uint256.Int) (common.Address, error) {
	if name == "" || symbol == "" {
		return common.Address{}, fmt.Errorf("deploy token: name and symbol required")
	}
	if supply == nil || supply.IsZero() {
		return common.Address{}, fmt.Errorf("deploy token: zero supply")
	}
	return crypto.CreateAddress(deployer, saleID), nil
}

// Reserves are the amounts a pool was seeded with.
type Reserves struct {
	Token0   common.Address
	Token1   common.Address
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
}

// Router derives pair addresses and records seeded reserves.
type Router struct {
	mu    sync.RWMutex
	pools map[common.Address]Reserves
}

func NewRouter() *Router {
	return &Router{pools: make(map[common.Address]Reserves)}
}

// SortTokens orders a token pair the way the pair factory does.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b
	}
	return b, a
}

// PairFor computes the CREATE2 address of the (a, b) pair under factory.
func PairFor(factory, a, b common.Address) common.Address {
	t0, t1 := SortTokens(a, b)
	salt := crypto.Keccak256Hash(t0.Bytes(), t1.Bytes())
	return crypto.CreateAddress2(factory, salt, PairInitCodeHash)
}

func (r *Router) AddLiquidity(router, token, baseAsset common.Address, tokenAmount, baseAmount *uint256.Int) (common.Address, error) {
	if token == baseAsset {
		return common.Address{}, fmt.Errorf("add liquidity: identical tokens %s", token.Hex())
	}
	if tokenAmount == nil || baseAmount == nil || tokenAmount.IsZero() || baseAmount.IsZero() {
		return common.Address{}, fmt.Errorf("add liquidity: zero amount")
	}

	pair := PairFor(router, token, baseAsset)
	t0, t1 := SortTokens(token, baseAsset)
	r0, r1 := tokenAmount, baseAmount
	if t0 != token {
		r0, r1 = baseAmount, tokenAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.pools[pair]
	if !ok {
		res = Reserves{Token0: t0, Token1: t1, Reserve0: new(uint256.Int), Reserve1: new(uint256.Int)}
	}
	res.Reserve0 = new(uint256.Int).Add(res.Reserve0, r0)
	res.Reserve1 = new(uint256.Int).Add(res.Reserve1, r1)
	r.pools[pair] = res
	return pair, nil
}

// GetReserves returns the seeded reserves of a pair.
func (r *Router) GetReserves(pair common.Address) (Reserves, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.pools[pair]
	return res, ok
}
