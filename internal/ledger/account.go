package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types (one set per sale)
	SubTypeSaleEscrow
	SubTypeInsuranceReserve

	// External sub-types
	SubTypeExternalNative
	SubTypeExternalDeposits
	SubTypeExternalMint
	SubTypeExternalLiquidity
)

var subTypeNames = map[AccountSubType]string{
	SubTypeWallet:            "wallet",
	SubTypeSaleEscrow:        "escrow",
	SubTypeInsuranceReserve:  "insurance",
	SubTypeExternalNative:    "native",
	SubTypeExternalDeposits:  "deposits",
	SubTypeExternalMint:      "mint",
	SubTypeExternalLiquidity: "liquidity",
}

// AssetID identifies a ledger asset. The base asset receipt token is 0;
// every launched token uses its sale id, so ids need no registry.
type AssetID uint64

const AssetXETH AssetID = 0

const tokenAssetPrefix = "token."

// TokenAsset returns the asset id of the token launched by saleID.
func TokenAsset(saleID uint64) AssetID { return AssetID(saleID) }

// SaleID returns the sale that launched this asset, or 0 for XETH.
func (a AssetID) SaleID() uint64 { return uint64(a) }

func (a AssetID) String() string {
	if a == AssetXETH {
		return "XETH"
	}
	return tokenAssetPrefix + strconv.FormatUint(uint64(a), 10)
}

func GetAssetID(asset string) (AssetID, bool) {
	if asset == "XETH" {
		return AssetXETH, true
	}
	if !strings.HasPrefix(asset, tokenAssetPrefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(asset, tokenAssetPrefix), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return AssetID(id), true
}

func GetAssetName(id AssetID) string {
	return id.String()
}

// AccountKey is the in-memory key for balance tracking.
// Owner is set for user wallets and for external accounts bound to an
// address (an AMM pair); SaleID is set for system accounts.
type AccountKey struct {
	Scope   AccountScope
	Owner   common.Address
	SubType AccountSubType
	SaleID  uint64
	AssetID AssetID
}

// NewUserAccountKey creates a key for a user (or stakeholder) wallet
func NewUserAccountKey(owner common.Address, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Owner:   owner,
		SubType: SubTypeWallet,
		AssetID: assetID,
	}
}

// NewSystemAccountKey creates a key for an account owned by one sale
func NewSystemAccountKey(saleID uint64, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		SaleID:  saleID,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewPairAccountKey is the external account standing in for an AMM pair.
func NewPairAccountKey(pair common.Address, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		Owner:   pair,
		SubType: SubTypeExternalLiquidity,
		AssetID: assetID,
	}
}

// IsExternal reports whether the account is a boundary account that may
// carry a negative balance.
func (k AccountKey) IsExternal() bool { return k.Scope == AccountScopeExternal }

// AccountPath returns the string representation for storage/logging.
// Every path has four segments: scope:entity:subtype:asset.
func (k AccountKey) AccountPath() string {
	sub := subTypeNames[k.SubType]
	if sub == "" {
		sub = "unknown"
	}
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Owner.Hex(), sub, k.AssetID)
	case AccountScopeSystem:
		return fmt.Sprintf("system:sale.%d:%s:%s", k.SaleID, sub, k.AssetID)
	case AccountScopeExternal:
		entity := "protocol"
		if k.Owner != (common.Address{}) {
			entity = k.Owner.Hex()
		}
		return fmt.Sprintf("external:%s:%s:%s", entity, sub, k.AssetID)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) != 4 {
		return AccountKey{}, fmt.Errorf("account path %q: want 4 segments, got %d", path, len(parts))
	}

	var key AccountKey
	found := false
	for st, name := range subTypeNames {
		if name == parts[2] {
			key.SubType = st
			found = true
			break
		}
	}
	if !found {
		return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type %q", path, parts[2])
	}

	asset, ok := GetAssetID(parts[3])
	if !ok {
		return AccountKey{}, fmt.Errorf("account path %q: unknown asset %q", path, parts[3])
	}
	key.AssetID = asset

	switch parts[0] {
	case "user":
		if !common.IsHexAddress(parts[1]) {
			return AccountKey{}, fmt.Errorf("account path %q: bad owner", path)
		}
		key.Scope = AccountScopeUser
		key.Owner = common.HexToAddress(parts[1])
	case "system":
		id, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "sale."), 10, 64)
		if err != nil || !strings.HasPrefix(parts[1], "sale.") {
			return AccountKey{}, fmt.Errorf("account path %q: bad sale entity", path)
		}
		key.Scope = AccountScopeSystem
		key.SaleID = id
	case "external":
		key.Scope = AccountScopeExternal
		if parts[1] != "protocol" {
			if !common.IsHexAddress(parts[1]) {
				return AccountKey{}, fmt.Errorf("account path %q: bad external entity", path)
			}
			key.Owner = common.HexToAddress(parts[1])
		}
	default:
		return AccountKey{}, fmt.Errorf("account path %q: unknown scope %q", path, parts[0])
	}
	return key, nil
}
